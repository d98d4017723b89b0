package workflow

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ashureev/budget-sentinel/internal/agent"
	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	defaultVendor          = "Unknown"
	defaultDescription     = "No description"
	defaultBulkDescription = "Bulk import"

	missingFieldsMessage = "Amount, department, and category are required"
)

// ExpenseInput is an expense as submitted by a client. Amount stays raw so
// both 150 and "150" are accepted and a missing amount is detectable.
type ExpenseInput struct {
	Amount      json.RawMessage `json:"amount"`
	Department  string          `json:"department"`
	Category    string          `json:"category"`
	Vendor      string          `json:"vendor"`
	Description string          `json:"description"`
}

// Validate checks required fields and fills defaults, producing the request
// sent to the agent.
func (in ExpenseInput) Validate(fallbackDescription string) (agent.ExpenseRequest, error) {
	department := strings.TrimSpace(in.Department)
	category := strings.TrimSpace(in.Category)
	raw := bytes.TrimSpace(in.Amount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || department == "" || category == "" {
		return agent.ExpenseRequest{}, domain.Validation(missingFieldsMessage)
	}

	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(raw); err != nil {
		return agent.ExpenseRequest{}, domain.Validation("Amount must be a number")
	}
	if !amount.IsPositive() {
		return agent.ExpenseRequest{}, domain.Validation("Amount must be greater than zero")
	}

	vendor := strings.TrimSpace(in.Vendor)
	if vendor == "" {
		vendor = defaultVendor
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = fallbackDescription
	}

	return agent.ExpenseRequest{
		Amount:      amount,
		Department:  department,
		Category:    category,
		Vendor:      vendor,
		Description: description,
	}, nil
}

// Request validates a single expense with the standard description default.
func (in ExpenseInput) Request() (agent.ExpenseRequest, error) {
	return in.Validate(defaultDescription)
}
