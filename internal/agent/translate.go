package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

// money decodes agent amounts, which arrive as numbers, numeric strings,
// or strings like "$1,250.00". Anything unparseable decodes as zero.
type money decimal.Decimal

func (m *money) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*m = money(decimal.Zero)
		return nil
	}
	raw = strings.Trim(raw, `"`)
	raw = strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		d = decimal.Zero
	}
	*m = money(d)
	return nil
}

func (m money) dec() decimal.Decimal { return decimal.Decimal(m) }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime accepts RFC 3339 and the naive ISO timestamps the agent emits.
// Naive timestamps are read as UTC.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// wireDashboard is the agent's /dashboard-data payload. It is either
// wrapped in {"dashboard_data": ...} or sent bare.
type wireDashboard struct {
	BudgetLoaded     bool              `json:"budget_loaded"`
	BudgetData       wireBudgetData    `json:"budget_data"`
	ExpenseTracking  json.RawMessage   `json:"expense_tracking"`
	DetectedBreaches []json.RawMessage `json:"detected_breaches"`
	Recommendations  []json.RawMessage `json:"recommendations"`
	Notifications    []json.RawMessage `json:"notifications"`
	LastUpdated      string            `json:"last_updated"`
	Summary          struct {
		LastUpdated string `json:"last_updated"`
	} `json:"summary"`
}

type wireBudgetData struct {
	Departments map[string]wireDepartment `json:"departments"`
}

type wireDepartment struct {
	TotalBudget money                   `json:"total_budget"`
	Categories  map[string]wireCategory `json:"categories"`
}

type wireCategory struct {
	Budget      money    `json:"budget"`
	Constraints []string `json:"constraints"`
}

type wireUsage struct {
	Spent        money             `json:"spent"`
	Limit        money             `json:"limit"`
	UsagePercent money             `json:"usage_percent"`
	Transactions []wireTransaction `json:"transactions"`
}

type wireTransaction struct {
	ID          string `json:"id"`
	Amount      money  `json:"amount"`
	Department  string `json:"department"`
	Category    string `json:"category"`
	Vendor      string `json:"vendor"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

type wireBreach struct {
	ID            string `json:"id"`
	Department    string `json:"department"`
	Category      string `json:"category"`
	Severity      string `json:"severity"`
	SeverityLevel string `json:"severity_level"`
	Spent         money  `json:"spent"`
	Limit         money  `json:"limit"`
	Overage       money  `json:"overage"`
	DetectedAt    string `json:"detected_at"`
}

type wireNotification struct {
	Subject    string   `json:"subject"`
	SentAt     string   `json:"sent_at"`
	Recipients []string `json:"recipients"`
	Urgency    string   `json:"urgency"`
}

// decodeDashboard translates the agent's dashboard payload.
func decodeDashboard(body []byte) (domain.DashboardState, error) {
	var envelope struct {
		DashboardData json.RawMessage `json:"dashboard_data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.DashboardState{}, fmt.Errorf("decode dashboard envelope: %w", err)
	}
	payload := body
	if len(envelope.DashboardData) > 0 && !bytes.Equal(envelope.DashboardData, []byte("null")) {
		payload = envelope.DashboardData
	}

	var wire wireDashboard
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.DashboardState{}, fmt.Errorf("decode dashboard data: %w", err)
	}

	state := domain.EmptyState()
	state.BudgetLoaded = wire.BudgetLoaded
	state.BudgetData = translateBudget(wire.BudgetData)
	state.ExpenseTracking = translateTracking(wire.ExpenseTracking)
	state.DetectedBreaches = translateBreaches(wire.DetectedBreaches)
	state.Recommendations = translateRecommendations(wire.Recommendations)
	state.Notifications = translateNotifications(wire.Notifications)

	updated := wire.LastUpdated
	if updated == "" {
		updated = wire.Summary.LastUpdated
	}
	state.LastUpdated = parseTime(updated)
	return state, nil
}

func translateBudget(wire wireBudgetData) domain.BudgetData {
	out := make(domain.BudgetData, len(wire.Departments))
	for name, dept := range wire.Departments {
		cats := make(map[string]domain.CategoryBudget, len(dept.Categories))
		for cname, c := range dept.Categories {
			constraints := c.Constraints
			if constraints == nil {
				constraints = []string{}
			}
			cats[cname] = domain.CategoryBudget{Budget: c.Budget.dec(), Constraints: constraints}
		}
		out[name] = domain.DepartmentBudget{TotalBudget: dept.TotalBudget.dec(), Categories: cats}
	}
	return out
}

// translateTracking skips "_"-prefixed summary keys at both levels and
// any entry that is not an object of the expected shape.
func translateTracking(raw json.RawMessage) domain.ExpenseTracking {
	out := domain.ExpenseTracking{}
	if len(raw) == 0 {
		return out
	}
	var depts map[string]json.RawMessage
	if err := json.Unmarshal(raw, &depts); err != nil {
		return out
	}
	for dept, rawCats := range depts {
		if strings.HasPrefix(dept, "_") {
			continue
		}
		var cats map[string]json.RawMessage
		if err := json.Unmarshal(rawCats, &cats); err != nil {
			continue
		}
		usageByCat := make(map[string]domain.CategoryUsage, len(cats))
		for cat, rawUsage := range cats {
			if strings.HasPrefix(cat, "_") {
				continue
			}
			var usage wireUsage
			if err := json.Unmarshal(rawUsage, &usage); err != nil {
				continue
			}
			txs := make([]domain.Transaction, 0, len(usage.Transactions))
			for _, tx := range usage.Transactions {
				txs = append(txs, domain.Transaction{
					ID:          tx.ID,
					Amount:      tx.Amount.dec(),
					Department:  firstNonEmpty(tx.Department, dept),
					Category:    firstNonEmpty(tx.Category, cat),
					Vendor:      tx.Vendor,
					Description: tx.Description,
					Timestamp:   parseTime(tx.Timestamp),
				})
			}
			usageByCat[cat] = domain.CategoryUsage{
				Spent:        usage.Spent.dec(),
				Limit:        usage.Limit.dec(),
				UsagePercent: usage.UsagePercent.dec(),
				Transactions: txs,
			}
		}
		out[dept] = usageByCat
	}
	return out
}

func translateBreaches(raw []json.RawMessage) []domain.Breach {
	out := make([]domain.Breach, 0, len(raw))
	for _, item := range raw {
		var b wireBreach
		if err := json.Unmarshal(item, &b); err != nil {
			continue
		}
		out = append(out, domain.Breach{
			ID:         b.ID,
			Department: b.Department,
			Category:   b.Category,
			Severity:   normalizeSeverity(firstNonEmpty(b.Severity, b.SeverityLevel)),
			Spent:      b.Spent.dec(),
			Limit:      b.Limit.dec(),
			Overage:    b.Overage.dec(),
			DetectedAt: parseTime(b.DetectedAt),
		})
	}
	return out
}

// normalizeSeverity fixes the case of known levels. Unknown labels pass
// through unchanged since only the agent grades breaches.
func normalizeSeverity(s string) domain.Severity {
	for _, known := range []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow} {
		if strings.EqualFold(s, string(known)) {
			return known
		}
	}
	return domain.Severity(s)
}

var recommendationTypes = map[string]domain.RecommendationType{
	"budget_reallocation":  domain.RecommendationReallocation,
	"reallocation":         domain.RecommendationReallocation,
	"spending_pause":       domain.RecommendationSpendingPause,
	"spendingpause":        domain.RecommendationSpendingPause,
	"vendor_renegotiation": domain.RecommendationVendorNegotiation,
	"vendor_negotiation":   domain.RecommendationVendorNegotiation,
	"vendornegotiation":    domain.RecommendationVendorNegotiation,
}

type wireRecommendation struct {
	Type          string `json:"type"`
	Description   string `json:"description"`
	FinancialGoal string `json:"financial_goal"`
	TargetSavings *money `json:"target_savings"`
	Department    string `json:"department"`
	TargetBreach  *struct {
		Department     string `json:"department"`
		Category       string `json:"category"`
		RequiredAmount money  `json:"required_amount"`
	} `json:"target_breach"`
	Target *struct {
		Department string `json:"department"`
		Category   string `json:"category"`
	} `json:"target"`
	TargetCategory        string `json:"target_category"`
	NegotiationStrategies []struct {
		TargetSavings money `json:"target_savings"`
	} `json:"negotiation_strategies"`
}

func translateRecommendations(raw []json.RawMessage) []domain.Recommendation {
	out := make([]domain.Recommendation, 0, len(raw))
	for _, item := range raw {
		if rec, ok := translateRecommendation(item, ""); ok {
			out = append(out, rec)
		}
	}
	return out
}

// translateRecommendation maps one agent recommendation. fallback is used
// when the item does not state its type.
func translateRecommendation(item json.RawMessage, fallback domain.RecommendationType) (domain.Recommendation, bool) {
	var w wireRecommendation
	if err := json.Unmarshal(item, &w); err != nil {
		return domain.Recommendation{}, false
	}

	recType, ok := recommendationTypes[strings.ToLower(w.Type)]
	if !ok {
		recType = domain.RecommendationType(w.Type)
	}
	if recType == "" {
		recType = fallback
	}

	dept, cat := w.Department, w.TargetCategory
	savings := decimal.Zero
	switch {
	case w.TargetSavings != nil:
		savings = w.TargetSavings.dec()
	case w.TargetBreach != nil:
		savings = w.TargetBreach.RequiredAmount.dec()
	case len(w.NegotiationStrategies) > 0:
		savings = w.NegotiationStrategies[0].TargetSavings.dec()
	}
	if w.TargetBreach != nil {
		dept, cat = firstNonEmpty(dept, w.TargetBreach.Department), firstNonEmpty(cat, w.TargetBreach.Category)
	}
	if w.Target != nil {
		dept, cat = firstNonEmpty(dept, w.Target.Department), firstNonEmpty(cat, w.Target.Category)
	}

	description := firstNonEmpty(w.Description, w.FinancialGoal)
	if description == "" && (dept != "" || cat != "") {
		description = fmt.Sprintf("%s for %s / %s", recType, dept, cat)
	}

	return domain.Recommendation{
		Type:          recType,
		Description:   description,
		TargetSavings: savings,
		Payload:       append(json.RawMessage(nil), item...),
	}, true
}

func translateNotifications(raw []json.RawMessage) []domain.Notification {
	out := make([]domain.Notification, 0, len(raw))
	for _, item := range raw {
		var n wireNotification
		if err := json.Unmarshal(item, &n); err != nil {
			continue
		}
		recipients := n.Recipients
		if recipients == nil {
			recipients = []string{}
		}
		out = append(out, domain.Notification{
			Subject:    n.Subject,
			SentAt:     parseTime(n.SentAt),
			Recipients: recipients,
			Urgency:    n.Urgency,
			Payload:    append(json.RawMessage(nil), item...),
		})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
