// Package workflow runs the budget operations behind the HTTP API: it calls
// the agent, folds results into the dashboard state and schedules the
// follow-up calls that chain tracking into detection, recommendation and
// escalation.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ashureev/budget-sentinel/internal/agent"
	"github.com/ashureev/budget-sentinel/internal/config"
	"github.com/ashureev/budget-sentinel/internal/dashboard"
	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/scheduler"
	"github.com/google/uuid"
)

// Store is the dashboard state the service folds results into.
type Store interface {
	Apply(updates ...dashboard.Update) domain.DashboardState
	Snapshot() domain.DashboardState
}

// Scheduler defers follow-up calls.
type Scheduler interface {
	After(name string, delay time.Duration, task scheduler.Task)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Agent     agent.API
	Store     Store
	Scheduler Scheduler
	Clock     dashboard.Clock
	Logger    *slog.Logger
}

// Service implements the budget operations.
type Service struct {
	agent        agent.API
	store        Store
	sched        Scheduler
	clock        dashboard.Clock
	logger       *slog.Logger
	delays       config.WorkflowConfig
	fallbackMode string
}

// NewService creates a workflow service.
func NewService(deps Deps, delays config.WorkflowConfig, fallbackMode string) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = scheduler.SystemClock{}
	}
	return &Service{
		agent:        deps.Agent,
		store:        deps.Store,
		sched:        deps.Scheduler,
		clock:        deps.Clock,
		logger:       deps.Logger,
		delays:       delays,
		fallbackMode: fallbackMode,
	}
}

// TrackedExpense is a recorded expense.
type TrackedExpense struct {
	Expense     agent.ExpenseRequest
	Transaction domain.Transaction
	Agent       *agent.TrackResult
}

// TrackExpense validates, submits and records one expense, then schedules
// breach detection after the debounce window.
func (s *Service) TrackExpense(ctx context.Context, in ExpenseInput) (*TrackedExpense, error) {
	tracked, err := s.track(ctx, in, defaultDescription)
	if err != nil {
		return nil, err
	}
	s.scheduleDetection(s.delays.DebounceDelay)
	return tracked, nil
}

func (s *Service) track(ctx context.Context, in ExpenseInput, fallbackDescription string) (*TrackedExpense, error) {
	req, err := in.Validate(fallbackDescription)
	if err != nil {
		return nil, err
	}

	res, err := s.agent.TrackExpense(ctx, req)
	if err != nil {
		return nil, agent.AsAppError(err, "Failed to track expense")
	}

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		Amount:      req.Amount,
		Department:  req.Department,
		Category:    req.Category,
		Vendor:      req.Vendor,
		Description: req.Description,
		Timestamp:   s.clock.Now().UTC(),
	}
	s.store.Apply(dashboard.RecordTransaction(tx))
	s.logger.Info("Expense tracked", "department", tx.Department, "category", tx.Category, "amount", tx.Amount.String())

	return &TrackedExpense{Expense: req, Transaction: tx, Agent: res}, nil
}

// BulkItemResult is one recorded entry of a bulk import.
type BulkItemResult struct {
	Index   int                  `json:"index"`
	Expense agent.ExpenseRequest `json:"expense"`
	Result  json.RawMessage      `json:"result"`
}

// BulkItemError is one rejected entry of a bulk import.
type BulkItemError struct {
	Index   int             `json:"index"`
	Expense json.RawMessage `json:"expense"`
	Error   string          `json:"error"`
}

// BulkResult is the outcome of a bulk import.
type BulkResult struct {
	Results []BulkItemResult
	Errors  []BulkItemError
	Total   int
}

// TrackBulk records each item independently. Failures are collected by
// index and do not stop the rest. One detection run is scheduled after the
// bulk window if anything was recorded.
func (s *Service) TrackBulk(ctx context.Context, items []json.RawMessage) (*BulkResult, error) {
	if len(items) == 0 {
		return nil, domain.Validation("Expenses array is required")
	}

	out := &BulkResult{
		Results: []BulkItemResult{},
		Errors:  []BulkItemError{},
		Total:   len(items),
	}
	for i, raw := range items {
		var in ExpenseInput
		if err := json.Unmarshal(raw, &in); err != nil {
			out.Errors = append(out.Errors, BulkItemError{Index: i, Expense: raw, Error: "Expense must be an object"})
			continue
		}
		tracked, err := s.track(ctx, in, defaultBulkDescription)
		if err != nil {
			out.Errors = append(out.Errors, BulkItemError{Index: i, Expense: raw, Error: errorMessage(err)})
			continue
		}
		item := BulkItemResult{Index: i, Expense: tracked.Expense}
		if tracked.Agent != nil {
			item.Result = tracked.Agent.Raw
		}
		out.Results = append(out.Results, item)
	}

	s.logger.Info("Bulk expenses processed", "total", out.Total, "successful", len(out.Results), "failed", len(out.Errors))
	if len(out.Results) > 0 {
		s.scheduleDetection(s.delays.BulkDebounceDelay)
	}
	return out, nil
}

// DetectBreaches runs detection and schedules recommendations when any
// breach is High or Critical.
func (s *Service) DetectBreaches(ctx context.Context) (*agent.BreachResult, error) {
	res, err := s.detect(ctx)
	if err != nil {
		return nil, err
	}
	if domain.HasHighSeverityBreach(res.Breaches) {
		s.logger.Info("High severity breaches detected, scheduling recommendations", "breaches", len(res.Breaches))
		s.sched.After("generate-recommendations", s.delays.FollowUpDelay, func(ctx context.Context) error {
			_, err := s.GenerateRecommendations(ctx)
			return err
		})
	}
	return res, nil
}

func (s *Service) detect(ctx context.Context) (*agent.BreachResult, error) {
	res, err := s.agent.DetectBreaches(ctx)
	if err != nil {
		return nil, agent.AsAppError(err, "Failed to detect breaches")
	}
	s.commit(ctx, dashboard.SetBreaches(res.Breaches))
	return res, nil
}

// GenerateRecommendations asks for corrective actions and schedules
// escalation while High or Critical breaches remain.
func (s *Service) GenerateRecommendations(ctx context.Context) (*agent.RecommendationResult, error) {
	res, err := s.recommend(ctx)
	if err != nil {
		return nil, err
	}
	if domain.HasHighSeverityBreach(s.store.Snapshot().DetectedBreaches) {
		s.logger.Info("High severity breaches outstanding, scheduling escalation")
		s.sched.After("send-escalation", s.delays.FollowUpDelay, func(ctx context.Context) error {
			_, err := s.SendEscalation(ctx)
			return err
		})
	}
	return res, nil
}

func (s *Service) recommend(ctx context.Context) (*agent.RecommendationResult, error) {
	res, err := s.agent.GenerateRecommendations(ctx)
	if err != nil {
		return nil, agent.AsAppError(err, "Failed to generate recommendations")
	}
	s.commit(ctx, dashboard.SetRecommendations(res.Recommendations))
	return res, nil
}

// SendEscalation notifies stakeholders about outstanding breaches.
func (s *Service) SendEscalation(ctx context.Context) (*agent.EscalationResult, error) {
	res, err := s.agent.SendEscalation(ctx)
	if err != nil {
		return nil, agent.AsAppError(err, "Failed to send escalation notifications")
	}
	s.commit(ctx, dashboard.AppendNotifications(res.Notifications))
	return res, nil
}

// UploadBudget forwards a validated budget document to the agent.
func (s *Service) UploadBudget(ctx context.Context, filename string, content io.Reader) (*agent.UploadResult, error) {
	res, err := s.agent.UploadBudget(ctx, filename, content)
	if err != nil {
		return nil, agent.AsAppError(err, "Failed to process budget file")
	}
	s.logger.Info("Budget uploaded", "filename", filename)
	s.commit(ctx, dashboard.SetBudgetLoaded(true))
	return res, nil
}

// ProcessCompleteFlow runs the agent's end-to-end workflow and re-syncs.
func (s *Service) ProcessCompleteFlow(ctx context.Context, req agent.FlowRequest) (*agent.FlowResult, error) {
	res, err := s.agent.ProcessCompleteFlow(ctx, req)
	if err != nil {
		return nil, agent.AsAppError(err, "Failed to process complete workflow")
	}
	s.commit(ctx)
	return res, nil
}

// AgentStatus reports per-agent status.
func (s *Service) AgentStatus(ctx context.Context) (*agent.StatusResult, error) {
	res, err := s.agent.GetStatus(ctx)
	if err != nil {
		return nil, agent.AsAppError(err, "Failed to get agent status")
	}
	return res, nil
}

// AgentHealth checks that the agent service is up.
func (s *Service) AgentHealth(ctx context.Context) (*agent.HealthResult, error) {
	res, err := s.agent.Health(ctx)
	if err != nil {
		return nil, agent.AsAppError(err, "Agent health check failed")
	}
	return res, nil
}

// Manual workflow types.
const (
	WorkflowFullDetection       = "full_detection"
	WorkflowRecommendationsOnly = "recommendations_only"
	WorkflowEscalationOnly      = "escalation_only"
)

// WorkflowTypes lists the accepted manual workflow types.
var WorkflowTypes = []string{WorkflowFullDetection, WorkflowRecommendationsOnly, WorkflowEscalationOnly}

// TriggerWorkflow runs a manual workflow synchronously. Steps run in order
// without scheduling follow-ups; the first failure stops the run.
func (s *Service) TriggerWorkflow(ctx context.Context, workflowType string) (map[string]json.RawMessage, error) {
	results := make(map[string]json.RawMessage)

	runDetect := func() error {
		res, err := s.detect(ctx)
		if err != nil {
			return err
		}
		results["breaches"] = res.Raw
		return nil
	}
	runRecommend := func() error {
		res, err := s.recommend(ctx)
		if err != nil {
			return err
		}
		results["recommendations"] = res.Raw
		return nil
	}
	runEscalate := func() error {
		res, err := s.SendEscalation(ctx)
		if err != nil {
			return err
		}
		results["escalation"] = res.Raw
		return nil
	}

	var steps []func() error
	switch workflowType {
	case WorkflowFullDetection:
		steps = []func() error{runDetect, runRecommend, runEscalate}
	case WorkflowRecommendationsOnly:
		steps = []func() error{runRecommend}
	case WorkflowEscalationOnly:
		steps = []func() error{runEscalate}
	default:
		return nil, &domain.AppError{
			Code:    domain.CodeValidation,
			Message: "Invalid workflow type",
			Details: map[string]any{"validTypes": WorkflowTypes},
		}
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	s.logger.Info("Manual workflow completed", "workflow_type", workflowType)
	return results, nil
}

// ReadState fetches the agent's dashboard data for read endpoints. When the
// agent is unreachable it returns the configured fallback and degraded=true.
func (s *Service) ReadState(ctx context.Context) (domain.DashboardState, bool) {
	state, err := s.agent.FetchDashboardData(ctx)
	if err != nil {
		s.logger.Warn("Agent dashboard data unavailable, serving fallback", "error", err, "fallback", s.fallbackMode)
		return dashboard.Fallback(s.fallbackMode), true
	}
	return state, false
}

// Dashboard returns the aggregated state. With refresh it re-syncs from the
// agent first; a failed re-sync leaves the state as is.
func (s *Service) Dashboard(ctx context.Context, refresh bool) domain.DashboardState {
	if refresh {
		s.commit(ctx)
	}
	return s.store.Snapshot()
}

// Sync replaces the whole state with the agent's dashboard data.
func (s *Service) Sync(ctx context.Context) error {
	state, err := s.agent.FetchDashboardData(ctx)
	if err != nil {
		return fmt.Errorf("sync dashboard: %w", err)
	}
	s.store.Apply(dashboard.ReplaceAll(state))
	return nil
}

// SeedFallback installs the configured fallback state. It is used when the
// initial sync fails.
func (s *Service) SeedFallback() {
	if s.fallbackMode == config.FallbackDemo {
		s.store.Apply(dashboard.ReplaceAll(dashboard.Fallback(s.fallbackMode)))
	}
}

// commit re-syncs from the agent's dashboard data, which is authoritative
// when reachable. Otherwise the local updates are applied instead. Either
// way the result is a single merge and a single broadcast.
func (s *Service) commit(ctx context.Context, local ...dashboard.Update) {
	state, err := s.agent.FetchDashboardData(ctx)
	if err != nil {
		s.logger.Warn("Dashboard re-sync failed, applying local result", "error", err)
		if len(local) > 0 {
			s.store.Apply(local...)
		}
		return
	}
	s.store.Apply(dashboard.ReplaceAll(state))
}

func (s *Service) scheduleDetection(delay time.Duration) {
	s.sched.After("detect-breaches", delay, func(ctx context.Context) error {
		_, err := s.DetectBreaches(ctx)
		return err
	})
}

func errorMessage(err error) string {
	if appErr, ok := domain.AsAppError(err); ok {
		if details, ok := appErr.Details.(string); ok && details != "" {
			return appErr.Message + ": " + details
		}
		return appErr.Message
	}
	return err.Error()
}
