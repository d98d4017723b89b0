package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/budget-sentinel/internal/agent"
	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultActivityLimit = 50

// AgentsHandler exposes the agent workflow steps and agent diagnostics.
type AgentsHandler struct {
	*Handler
	journal store.Journal
}

// NewAgentsHandler creates an agents handler. journal may be nil, in which
// case the activity endpoint reports an empty list.
func NewAgentsHandler(base *Handler, journal store.Journal) *AgentsHandler {
	return &AgentsHandler{Handler: base, journal: journal}
}

// RegisterRoutes registers agent routes.
func (h *AgentsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/agents", func(r chi.Router) {
		r.Post("/detect-breaches", h.DetectBreaches)
		r.Post("/generate-recommendations", h.GenerateRecommendations)
		r.Post("/send-escalation", h.SendEscalation)
		r.Post("/process-flow", h.ProcessFlow)
		r.Post("/trigger-workflow", h.TriggerWorkflow)
		r.Get("/status", h.Status)
		r.Get("/health", h.Health)
		r.Get("/activity", h.Activity)
	})
}

// DetectBreaches runs breach detection now.
func (h *AgentsHandler) DetectBreaches(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DetectBreaches(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	OK(w, map[string]any{
		"message":       "Breach detection completed",
		"breaches":      res.Breaches,
		"agentResponse": res.Raw,
	})
}

// GenerateRecommendations asks the agent for corrective actions now.
func (h *AgentsHandler) GenerateRecommendations(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GenerateRecommendations(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	OK(w, map[string]any{
		"message": "Recommendations generated successfully",
		"recommendations": map[string]any{
			"reallocations":      res.Reallocations,
			"spendingPauses":     res.SpendingPauses,
			"vendorNegotiations": res.VendorNegotiations,
		},
		"agentResponse": res.Raw,
	})
}

// SendEscalation sends escalation notifications now.
func (h *AgentsHandler) SendEscalation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.SendEscalation(r.Context())
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	OK(w, map[string]any{
		"message":          "Escalation notifications sent successfully",
		"notifications":    res.Notifications,
		"executiveSummary": rawOrNull(res.ExecutiveSummary),
		"actionRequests":   rawOrNull(res.ActionRequests),
		"agentResponse":    res.Raw,
	})
}

// ProcessFlow runs the agent's complete workflow. The body is forwarded as is.
func (h *AgentsHandler) ProcessFlow(w http.ResponseWriter, r *http.Request) {
	var req agent.FlowRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.Fail(w, r, err)
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}

	res, err := h.svc.ProcessCompleteFlow(r.Context(), req)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	OK(w, map[string]any{
		"message":       "Complete workflow processed successfully",
		"workflow":      rawOrNull(res.Workflow),
		"agentResponse": res.Raw,
	})
}

// TriggerWorkflow runs a named manual workflow synchronously.
func (h *AgentsHandler) TriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkflowType string `json:"workflowType"`
	}
	if err := decodeJSON(r, &body, false); err != nil {
		h.Fail(w, r, err)
		return
	}

	results, err := h.svc.TriggerWorkflow(r.Context(), body.WorkflowType)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	OK(w, map[string]any{
		"message": fmt.Sprintf("Workflow %s completed successfully", body.WorkflowType),
		"results": results,
	})
}

// Status reports per-agent status. Failures answer 503.
func (h *AgentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.AgentStatus(r.Context())
	if err != nil {
		h.logger.Warn("Agent status unavailable", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":   false,
			"error":     "Agent service unavailable",
			"agents":    "disconnected",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	OK(w, map[string]any{
		"agents":      res.Agents,
		"globalState": rawOrNull(res.GlobalState),
	})
}

// Health checks the agent service. Failures answer 503.
func (h *AgentsHandler) Health(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.AgentHealth(r.Context())
	if err != nil {
		h.logger.Warn("Agent health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":   false,
			"status":    "unhealthy",
			"error":     "Agent service unavailable",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	agents := res.Agents
	if agents == nil {
		agents = []string{}
	}
	OK(w, map[string]any{
		"status":  res.Status,
		"agents":  agents,
		"message": res.Message,
	})
}

// Activity lists recent agent calls from the journal, newest first.
func (h *AgentsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.Fail(w, r, domain.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	calls := []domain.AgentCall{}
	if h.journal != nil {
		recent, err := h.journal.Recent(r.Context(), limit)
		if err != nil {
			h.Fail(w, r, domain.Internal("Failed to read agent activity", err))
			return
		}
		calls = append(calls, recent...)
	}
	OK(w, map[string]any{"calls": calls})
}
