// Package agent is the client for the external budget agent service.
package agent

import (
	"encoding/json"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

// ExpenseRequest is the expense sent to the expense tracker agent.
type ExpenseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Department  string          `json:"department"`
	Category    string          `json:"category"`
	Vendor      string          `json:"vendor"`
	Description string          `json:"description"`
}

// FlowRequest triggers the agent's end-to-end workflow.
type FlowRequest struct {
	TriggerType string         `json:"trigger_type"`
	Data        map[string]any `json:"data"`
}

// UploadResult is the agent's answer to a budget upload.
type UploadResult struct {
	Message string
	Raw     json.RawMessage
}

// TrackResult is the agent's answer to a tracked expense.
type TrackResult struct {
	Message string
	Raw     json.RawMessage
}

// BreachResult carries the breaches found by one detection run.
type BreachResult struct {
	Message  string
	Breaches []domain.Breach
	Raw      json.RawMessage
}

// RecommendationResult groups the agent's recommendations by kind.
// The grouped slices are passed through untouched; Recommendations is the
// flattened view-model form.
type RecommendationResult struct {
	Message            string
	Reallocations      []json.RawMessage
	SpendingPauses     []json.RawMessage
	VendorNegotiations []json.RawMessage
	Recommendations    []domain.Recommendation
	Raw                json.RawMessage
}

// EscalationResult is the outcome of an escalation run.
type EscalationResult struct {
	Message          string
	Notifications    []domain.Notification
	ExecutiveSummary json.RawMessage
	ActionRequests   json.RawMessage
	Raw              json.RawMessage
}

// StatusResult reports per-agent status and the agent's global counters.
type StatusResult struct {
	Agents      map[string]string
	GlobalState json.RawMessage
	Raw         json.RawMessage
}

// HealthResult is the agent root endpoint summary.
type HealthResult struct {
	Status  string   `json:"status"`
	Agents  []string `json:"agents"`
	Message string   `json:"message"`
}

// FlowResult is the outcome of the agent's complete workflow.
type FlowResult struct {
	Message  string
	Workflow json.RawMessage
	Raw      json.RawMessage
}

// Timeouts bounds each class of agent call.
type Timeouts struct {
	// Status covers cheap reads: status and health.
	Status time.Duration
	// Default covers everything else.
	Default time.Duration
	// Long covers upload and complete-flow.
	Long time.Duration
}

// DefaultTimeouts returns the standard call deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Status:  5 * time.Second,
		Default: 30 * time.Second,
		Long:    120 * time.Second,
	}
}
