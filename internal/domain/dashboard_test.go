package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEmptyStateSerializesEmptyCollections(t *testing.T) {
	data, err := json.Marshal(EmptyState())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	for _, want := range []string{`"budgetData":{}`, `"detectedBreaches":[]`, `"notifications":[]`, `"budgetLoaded":false`} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %s in %s", want, got)
		}
	}
}

func TestExpenseTrackingRecord(t *testing.T) {
	tracking := ExpenseTracking{
		"Sales": {"Software": {Limit: decimal.NewFromInt(1000), Spent: decimal.NewFromInt(700)}},
	}

	tracking.Record(Transaction{
		Amount:     decimal.NewFromInt(150),
		Department: "Sales",
		Category:   "Software",
	})

	usage := tracking["Sales"]["Software"]
	if !usage.Spent.Equal(decimal.NewFromInt(850)) {
		t.Errorf("expected spent 850, got %s", usage.Spent)
	}
	if !usage.UsagePercent.Equal(decimal.NewFromInt(85)) {
		t.Errorf("expected usage 85, got %s", usage.UsagePercent)
	}
	if len(usage.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(usage.Transactions))
	}
}

func TestExpenseTrackingCloneIsIndependent(t *testing.T) {
	original := ExpenseTracking{"Sales": {"CRM": {Limit: decimal.NewFromInt(10)}}}
	clone := original.Clone()
	clone.Record(Transaction{Amount: decimal.NewFromInt(5), Department: "Sales", Category: "CRM"})

	if !original["Sales"]["CRM"].Spent.IsZero() {
		t.Errorf("clone mutation leaked into original: %s", original["Sales"]["CRM"].Spent)
	}
}

func TestUsagePercentWithoutLimit(t *testing.T) {
	if got := UsagePercent(decimal.NewFromInt(50), decimal.Zero); !got.IsZero() {
		t.Errorf("expected 0 without limit, got %s", got)
	}
}

func TestMoneyMarshalsAsNumber(t *testing.T) {
	data, err := json.Marshal(Transaction{Amount: decimal.RequireFromString("12.5")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"amount":12.5`) {
		t.Errorf("expected numeric amount, got %s", data)
	}
}

func TestHasHighSeverityBreach(t *testing.T) {
	if HasHighSeverityBreach([]Breach{{Severity: SeverityLow}, {Severity: SeverityMedium}}) {
		t.Error("low/medium should not count as high")
	}
	if !HasHighSeverityBreach([]Breach{{Severity: SeverityLow}, {Severity: SeverityCritical}}) {
		t.Error("critical should count as high")
	}
}
