// Package domain holds the dashboard view model shared by every layer.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money goes to the frontend as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Severity grades a breach. Only the agent service assigns it.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// IsHigh reports whether the severity warrants recommendations and escalation.
func (s Severity) IsHigh() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// RecommendationType names the kind of corrective action.
type RecommendationType string

const (
	RecommendationReallocation      RecommendationType = "Reallocation"
	RecommendationSpendingPause     RecommendationType = "SpendingPause"
	RecommendationVendorNegotiation RecommendationType = "VendorNegotiation"
)

// CategoryBudget is the budgeted amount and constraints for one category.
type CategoryBudget struct {
	Budget      decimal.Decimal `json:"budget"`
	Constraints []string        `json:"constraints"`
}

// DepartmentBudget is a department's total budget and its categories.
type DepartmentBudget struct {
	TotalBudget decimal.Decimal           `json:"totalBudget"`
	Categories  map[string]CategoryBudget `json:"categories"`
}

// BudgetData maps department name to its budget.
type BudgetData map[string]DepartmentBudget

// Transaction is a recorded expense. Immutable once recorded.
type Transaction struct {
	ID          string          `json:"id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Department  string          `json:"department,omitempty"`
	Category    string          `json:"category,omitempty"`
	Vendor      string          `json:"vendor"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

// CategoryUsage tracks spend against the limit for one category.
type CategoryUsage struct {
	Spent        decimal.Decimal `json:"spent"`
	Limit        decimal.Decimal `json:"limit"`
	UsagePercent decimal.Decimal `json:"usagePercent"`
	Transactions []Transaction   `json:"transactions"`
}

// ExpenseTracking maps department then category to usage.
type ExpenseTracking map[string]map[string]CategoryUsage

// Breach is an overage detected by the agent service.
type Breach struct {
	ID         string          `json:"id,omitempty"`
	Department string          `json:"department"`
	Category   string          `json:"category"`
	Severity   Severity        `json:"severity"`
	Spent      decimal.Decimal `json:"spent"`
	Limit      decimal.Decimal `json:"limit"`
	Overage    decimal.Decimal `json:"overage"`
	DetectedAt time.Time       `json:"detectedAt"`
}

// Recommendation is a corrective action proposed by the agent.
// Payload carries the agent's original object unchanged.
type Recommendation struct {
	Type          RecommendationType `json:"type"`
	Description   string             `json:"description"`
	TargetSavings decimal.Decimal    `json:"targetSavings"`
	Payload       json.RawMessage    `json:"payload,omitempty"`
}

// Notification is an escalation the agent reports as sent.
type Notification struct {
	Subject    string          `json:"subject"`
	SentAt     time.Time       `json:"sentAt"`
	Recipients []string        `json:"recipients"`
	Urgency    string          `json:"urgency"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DashboardState is the single view model pushed to every client.
type DashboardState struct {
	BudgetLoaded     bool             `json:"budgetLoaded"`
	BudgetData       BudgetData       `json:"budgetData"`
	ExpenseTracking  ExpenseTracking  `json:"expenseTracking"`
	DetectedBreaches []Breach         `json:"detectedBreaches"`
	Recommendations  []Recommendation `json:"recommendations"`
	Notifications    []Notification   `json:"notifications"`
	LastUpdated      time.Time        `json:"lastUpdated"`
	Demo             bool             `json:"demo,omitempty"`
}

// EmptyState returns the all-empty state with non-nil collections, so it
// serializes as {} and [] rather than null.
func EmptyState() DashboardState {
	return DashboardState{
		BudgetData:       BudgetData{},
		ExpenseTracking:  ExpenseTracking{},
		DetectedBreaches: []Breach{},
		Recommendations:  []Recommendation{},
		Notifications:    []Notification{},
	}
}

// Normalize replaces nil collections with empty ones.
func (s DashboardState) Normalize() DashboardState {
	if s.BudgetData == nil {
		s.BudgetData = BudgetData{}
	}
	if s.ExpenseTracking == nil {
		s.ExpenseTracking = ExpenseTracking{}
	}
	if s.DetectedBreaches == nil {
		s.DetectedBreaches = []Breach{}
	}
	if s.Recommendations == nil {
		s.Recommendations = []Recommendation{}
	}
	if s.Notifications == nil {
		s.Notifications = []Notification{}
	}
	return s
}

// HasHighSeverityBreach reports whether any breach is High or Critical.
func HasHighSeverityBreach(breaches []Breach) bool {
	for _, b := range breaches {
		if b.Severity.IsHigh() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the tracking map so callers can build a
// replacement value without mutating the published one.
func (t ExpenseTracking) Clone() ExpenseTracking {
	out := make(ExpenseTracking, len(t))
	for dept, cats := range t {
		c := make(map[string]CategoryUsage, len(cats))
		for name, usage := range cats {
			usage.Transactions = append([]Transaction(nil), usage.Transactions...)
			c[name] = usage
		}
		out[dept] = c
	}
	return out
}

// Record appends tx to its department/category and recomputes spent and
// usage. Categories unknown to the tracking map are created with no limit.
func (t ExpenseTracking) Record(tx Transaction) {
	cats, ok := t[tx.Department]
	if !ok {
		cats = make(map[string]CategoryUsage)
		t[tx.Department] = cats
	}
	usage := cats[tx.Category]
	usage.Spent = usage.Spent.Add(tx.Amount)
	usage.Transactions = append(usage.Transactions, tx)
	usage.UsagePercent = UsagePercent(usage.Spent, usage.Limit)
	cats[tx.Category] = usage
}

var hundred = decimal.NewFromInt(100)

// UsagePercent returns spent/limit*100 rounded to two places, or zero when
// there is no limit.
func UsagePercent(spent, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return spent.Div(limit).Mul(hundred).Round(2)
}
