package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Usage status thresholds, in percent of the limit.
var (
	exceededThreshold    = decimal.NewFromInt(100)
	approachingThreshold = decimal.NewFromInt(80)
)

// Usage statuses.
const (
	UsageExceeded    = "Exceeded"
	UsageApproaching = "Approaching"
	UsageSafe        = "Safe"
)

// ExpenseHandler handles expense tracking endpoints.
type ExpenseHandler struct {
	*Handler
}

// NewExpenseHandler creates an expense handler.
func NewExpenseHandler(base *Handler) *ExpenseHandler {
	return &ExpenseHandler{Handler: base}
}

// RegisterRoutes registers expense routes.
func (h *ExpenseHandler) RegisterRoutes(r chi.Router) {
	r.Route("/expenses", func(r chi.Router) {
		r.Post("/track", h.Track)
		r.Get("/list", h.List)
		r.Get("/usage", h.Usage)
		r.Post("/bulk", h.Bulk)
	})
}

// Track records a single expense.
func (h *ExpenseHandler) Track(w http.ResponseWriter, r *http.Request) {
	var in workflow.ExpenseInput
	if err := decodeJSON(r, &in, false); err != nil {
		h.Fail(w, r, err)
		return
	}

	tracked, err := h.svc.TrackExpense(r.Context(), in)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	OK(w, map[string]any{
		"message":       "Expense tracked successfully",
		"expense":       tracked.Expense,
		"transaction":   tracked.Transaction,
		"agentResponse": tracked.Agent.Raw,
	})
}

// List returns every tracked transaction, newest first.
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	state, degraded := h.svc.ReadState(r.Context())

	expenses := make([]domain.Transaction, 0)
	total := decimal.Zero
	for _, cats := range state.ExpenseTracking {
		for _, usage := range cats {
			for _, tx := range usage.Transactions {
				expenses = append(expenses, tx)
				total = total.Add(tx.Amount)
			}
		}
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].Timestamp.After(expenses[j].Timestamp)
	})

	OK(w, withReadFlags(map[string]any{
		"expenses":      expenses,
		"totalExpenses": len(expenses),
		"totalAmount":   total,
	}, state, degraded))
}

type categoryUsage struct {
	Spent            decimal.Decimal `json:"spent"`
	Limit            decimal.Decimal `json:"limit"`
	UsagePercent     decimal.Decimal `json:"usagePercent"`
	Remaining        decimal.Decimal `json:"remaining"`
	Status           string          `json:"status"`
	TransactionCount int             `json:"transactionCount"`
}

type usageSummary struct {
	TotalDepartments      int `json:"totalDepartments"`
	ExceededCategories    int `json:"exceededCategories"`
	ApproachingCategories int `json:"approachingCategories"`
	SafeCategories        int `json:"safeCategories"`
}

// Usage summarizes spend against limits per category.
func (h *ExpenseHandler) Usage(w http.ResponseWriter, r *http.Request) {
	state, degraded := h.svc.ReadState(r.Context())

	usage := make(map[string]map[string]categoryUsage, len(state.ExpenseTracking))
	var summary usageSummary
	for dept, cats := range state.ExpenseTracking {
		usage[dept] = make(map[string]categoryUsage, len(cats))
		for cat, u := range cats {
			percent := domain.UsagePercent(u.Spent, u.Limit)
			entry := categoryUsage{
				Spent:            u.Spent,
				Limit:            u.Limit,
				UsagePercent:     percent,
				Remaining:        u.Limit.Sub(u.Spent),
				Status:           usageStatus(percent),
				TransactionCount: len(u.Transactions),
			}
			switch entry.Status {
			case UsageExceeded:
				summary.ExceededCategories++
			case UsageApproaching:
				summary.ApproachingCategories++
			default:
				summary.SafeCategories++
			}
			usage[dept][cat] = entry
		}
	}
	summary.TotalDepartments = len(usage)

	OK(w, withReadFlags(map[string]any{
		"usage":   usage,
		"summary": summary,
	}, state, degraded))
}

func usageStatus(percent decimal.Decimal) string {
	switch {
	case percent.GreaterThanOrEqual(exceededThreshold):
		return UsageExceeded
	case percent.GreaterThanOrEqual(approachingThreshold):
		return UsageApproaching
	default:
		return UsageSafe
	}
}

// Bulk records many expenses in one request.
func (h *ExpenseHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Expenses []json.RawMessage `json:"expenses"`
	}
	if err := decodeJSON(r, &body, false); err != nil {
		h.Fail(w, r, domain.Validation("Expenses array is required"))
		return
	}

	res, err := h.svc.TrackBulk(r.Context(), body.Expenses)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	OK(w, map[string]any{
		"message": fmt.Sprintf("Processed %d expenses successfully", len(res.Results)),
		"results": res.Results,
		"errors":  res.Errors,
		"summary": map[string]int{
			"total":      res.Total,
			"successful": len(res.Results),
			"failed":     len(res.Errors),
		},
	})
}
