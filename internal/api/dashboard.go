package api

import (
	"net/http"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/go-chi/chi/v5"
)

// DashboardHandler serves the aggregated dashboard state.
type DashboardHandler struct {
	*Handler
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(base *Handler) *DashboardHandler {
	return &DashboardHandler{Handler: base}
}

// RegisterRoutes registers dashboard routes.
func (h *DashboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/dashboard", h.Get)
}

type dashboardSummary struct {
	TotalDepartments     int `json:"totalDepartments"`
	TotalBreaches        int `json:"totalBreaches"`
	TotalRecommendations int `json:"totalRecommendations"`
	CriticalBreaches     int `json:"criticalBreaches"`
}

type dashboardView struct {
	domain.DashboardState
	Summary dashboardSummary `json:"summary"`
}

// Get returns the current state with a summary. ?refresh=1 re-syncs first.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh")
	state := h.svc.Dashboard(r.Context(), refresh == "1" || refresh == "true")
	OK(w, map[string]any{"data": newDashboardView(state)})
}

func newDashboardView(state domain.DashboardState) dashboardView {
	critical := 0
	for _, b := range state.DetectedBreaches {
		if b.Severity.IsHigh() {
			critical++
		}
	}
	return dashboardView{
		DashboardState: state,
		Summary: dashboardSummary{
			TotalDepartments:     len(state.BudgetData),
			TotalBreaches:        len(state.DetectedBreaches),
			TotalRecommendations: len(state.Recommendations),
			CriticalBreaches:     critical,
		},
	}
}
