package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/budget-sentinel/internal/agent"
	"github.com/ashureev/budget-sentinel/internal/config"
	"github.com/ashureev/budget-sentinel/internal/dashboard"
	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/scheduler"
	"github.com/shopspring/decimal"
)

var errAgentDown = &agent.Error{Op: "dashboard-data", Kind: agent.KindUnavailable, Message: "agent service unreachable"}

// fakeAgent records calls. Dashboard fetches fail unless dashboard is set,
// so local updates are what lands in the store.
type fakeAgent struct {
	mu        sync.Mutex
	calls     map[string]int
	tracked   []agent.ExpenseRequest
	breaches  []domain.Breach
	dashboard *domain.DashboardState
	trackErr  error
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{calls: make(map[string]int)}
}

func (f *fakeAgent) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAgent) hit(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeAgent) UploadBudget(_ context.Context, _ string, _ io.Reader) (*agent.UploadResult, error) {
	f.hit("upload")
	return &agent.UploadResult{Message: "ok", Raw: json.RawMessage(`{}`)}, nil
}

func (f *fakeAgent) TrackExpense(_ context.Context, req agent.ExpenseRequest) (*agent.TrackResult, error) {
	f.hit("track")
	if f.trackErr != nil {
		return nil, f.trackErr
	}
	f.mu.Lock()
	f.tracked = append(f.tracked, req)
	f.mu.Unlock()
	return &agent.TrackResult{Message: "tracked", Raw: json.RawMessage(`{"message":"tracked"}`)}, nil
}

func (f *fakeAgent) DetectBreaches(context.Context) (*agent.BreachResult, error) {
	f.hit("detect")
	return &agent.BreachResult{Breaches: f.breaches, Raw: json.RawMessage(`{}`)}, nil
}

func (f *fakeAgent) GenerateRecommendations(context.Context) (*agent.RecommendationResult, error) {
	f.hit("recommend")
	return &agent.RecommendationResult{
		Recommendations: []domain.Recommendation{{Type: domain.RecommendationSpendingPause, Description: "Pause travel"}},
		Raw:             json.RawMessage(`{}`),
	}, nil
}

func (f *fakeAgent) SendEscalation(context.Context) (*agent.EscalationResult, error) {
	f.hit("escalate")
	return &agent.EscalationResult{
		Notifications: []domain.Notification{{Subject: "Breach"}},
		Raw:           json.RawMessage(`{}`),
	}, nil
}

func (f *fakeAgent) FetchDashboardData(context.Context) (domain.DashboardState, error) {
	f.hit("dashboard")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dashboard == nil {
		return domain.DashboardState{}, errAgentDown
	}
	return *f.dashboard, nil
}

func (f *fakeAgent) GetDashboardData(ctx context.Context) domain.DashboardState {
	state, err := f.FetchDashboardData(ctx)
	if err != nil {
		return domain.EmptyState()
	}
	return state
}

func (f *fakeAgent) GetStatus(context.Context) (*agent.StatusResult, error) {
	f.hit("status")
	return &agent.StatusResult{}, nil
}

func (f *fakeAgent) Health(context.Context) (*agent.HealthResult, error) {
	f.hit("health")
	return &agent.HealthResult{Status: "running"}, nil
}

func (f *fakeAgent) ProcessCompleteFlow(context.Context, agent.FlowRequest) (*agent.FlowResult, error) {
	f.hit("flow")
	return &agent.FlowResult{}, nil
}

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	agent *fakeAgent
	store *dashboard.Store
	clock *scheduler.FakeClock
	sched *scheduler.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := scheduler.NewFakeClock(epoch)
	fa := newFakeAgent()
	store := dashboard.NewStore(clock, nil)
	sched := scheduler.New(clock, nil)
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	delays := config.WorkflowConfig{
		DebounceDelay:     time.Second,
		BulkDebounceDelay: 2 * time.Second,
		FollowUpDelay:     time.Second,
	}
	svc := NewService(Deps{Agent: fa, Store: store, Scheduler: sched, Clock: clock}, delays, config.FallbackEmpty)
	return &harness{svc: svc, agent: fa, store: store, clock: clock, sched: sched}
}

func TestTrackExpenseDefaultsAndSchedulesOneDetection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tracked, err := h.svc.TrackExpense(context.Background(), ExpenseInput{
		Amount:     json.RawMessage(`150`),
		Department: "Sales",
		Category:   "Software",
	})
	if err != nil {
		t.Fatalf("TrackExpense failed: %v", err)
	}
	if tracked.Expense.Vendor != "Unknown" || tracked.Expense.Description != "No description" {
		t.Fatalf("unexpected defaults: %+v", tracked.Expense)
	}

	usage := h.store.Snapshot().ExpenseTracking["Sales"]["Software"]
	if len(usage.Transactions) != 1 {
		t.Fatalf("expected one stored transaction, got %d", len(usage.Transactions))
	}
	stored := usage.Transactions[0]
	if stored.Vendor != "Unknown" || stored.Description != "No description" || !stored.Amount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected stored transaction: %+v", stored)
	}
	if !stored.Timestamp.Equal(epoch) {
		t.Fatalf("expected timestamp from clock, got %v", stored.Timestamp)
	}

	if got := h.agent.count("detect"); got != 0 {
		t.Fatalf("expected detection to be deferred, got %d calls", got)
	}
	h.clock.Advance(999 * time.Millisecond)
	if got := h.agent.count("detect"); got != 0 {
		t.Fatalf("expected no detection inside the debounce window, got %d", got)
	}
	h.clock.Advance(time.Millisecond)
	if got := h.agent.count("detect"); got != 1 {
		t.Fatalf("expected exactly one detection, got %d", got)
	}
	h.clock.Advance(time.Minute)
	if got := h.agent.count("detect"); got != 1 {
		t.Fatalf("expected no further detections, got %d", got)
	}
}

func TestTrackExpenseValidationSkipsAgent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	cases := []ExpenseInput{
		{Department: "Sales", Category: "Software"},
		{Amount: json.RawMessage(`"abc"`), Department: "Sales", Category: "Software"},
		{Amount: json.RawMessage(`-5`), Department: "Sales", Category: "Software"},
		{Amount: json.RawMessage(`10`), Category: "Software"},
	}
	for i, in := range cases {
		_, err := h.svc.TrackExpense(context.Background(), in)
		appErr, ok := domain.AsAppError(err)
		if !ok || appErr.Code != domain.CodeValidation {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if got := h.agent.count("track"); got != 0 {
		t.Fatalf("expected no agent calls, got %d", got)
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("expected nothing scheduled, got %d", h.sched.Pending())
	}
}

func TestTrackExpenseAcceptsNumericString(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tracked, err := h.svc.TrackExpense(context.Background(), ExpenseInput{
		Amount:     json.RawMessage(`"99.95"`),
		Department: "Ops",
		Category:   "Travel",
		Vendor:     "Delta",
	})
	if err != nil {
		t.Fatalf("TrackExpense failed: %v", err)
	}
	if !tracked.Expense.Amount.Equal(decimal.RequireFromString("99.95")) || tracked.Expense.Vendor != "Delta" {
		t.Fatalf("unexpected expense: %+v", tracked.Expense)
	}
}

func TestTrackExpenseAgentFailureHasNoSideEffects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.agent.trackErr = &agent.Error{Op: "track-expense", Kind: agent.KindTimeout}

	_, err := h.svc.TrackExpense(context.Background(), ExpenseInput{
		Amount:     json.RawMessage(`150`),
		Department: "Sales",
		Category:   "Software",
	})
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != domain.CodeUpstreamTimeout {
		t.Fatalf("expected upstream timeout, got %v", err)
	}
	if len(h.store.Snapshot().ExpenseTracking) != 0 {
		t.Fatal("expected nothing recorded")
	}
	h.clock.Advance(time.Minute)
	if got := h.agent.count("detect"); got != 0 {
		t.Fatalf("expected no detection after a rejected expense, got %d", got)
	}
}

func TestTrackBulkCollectsErrorsByIndex(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	items := []json.RawMessage{
		json.RawMessage(`{"amount":10,"department":"Sales","category":"Software"}`),
		json.RawMessage(`{"amount":20,"department":"Sales","category":"Software"}`),
		json.RawMessage(`{"department":"Sales","category":"Software"}`),
		json.RawMessage(`{"amount":40,"department":"Ops","category":"Travel"}`),
		json.RawMessage(`{"amount":"50","department":"Ops","category":"Travel","description":"Flights"}`),
	}
	res, err := h.svc.TrackBulk(context.Background(), items)
	if err != nil {
		t.Fatalf("TrackBulk failed: %v", err)
	}
	if len(res.Results) != 4 || len(res.Errors) != 1 {
		t.Fatalf("expected 4 results and 1 error, got %d and %d", len(res.Results), len(res.Errors))
	}
	if res.Errors[0].Index != 2 {
		t.Fatalf("expected error at index 2, got %d", res.Errors[0].Index)
	}
	if res.Results[0].Expense.Description != "Bulk import" || res.Results[3].Expense.Description != "Flights" {
		t.Fatalf("unexpected bulk descriptions: %+v", res.Results)
	}

	h.clock.Advance(time.Second)
	if got := h.agent.count("detect"); got != 0 {
		t.Fatalf("expected detection to wait for the bulk window, got %d", got)
	}
	h.clock.Advance(time.Second)
	if got := h.agent.count("detect"); got != 1 {
		t.Fatalf("expected one detection for the whole batch, got %d", got)
	}
}

func TestTrackBulkRejectsEmptyArray(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.svc.TrackBulk(context.Background(), nil)
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != domain.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHighSeverityBreachChainsToEscalation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.agent.breaches = []domain.Breach{{Department: "Sales", Category: "Software", Severity: domain.SeverityCritical}}

	if _, err := h.svc.DetectBreaches(context.Background()); err != nil {
		t.Fatalf("DetectBreaches failed: %v", err)
	}
	if got := len(h.store.Snapshot().DetectedBreaches); got != 1 {
		t.Fatalf("expected breaches applied locally, got %d", got)
	}

	h.clock.Advance(time.Second)
	if got := h.agent.count("recommend"); got != 1 {
		t.Fatalf("expected recommendations after detection, got %d", got)
	}
	if got := len(h.store.Snapshot().Recommendations); got != 1 {
		t.Fatalf("expected recommendations applied, got %d", got)
	}

	h.clock.Advance(time.Second)
	if got := h.agent.count("escalate"); got != 1 {
		t.Fatalf("expected escalation after recommendations, got %d", got)
	}
	if got := len(h.store.Snapshot().Notifications); got != 1 {
		t.Fatalf("expected notifications applied, got %d", got)
	}
}

func TestLowSeverityBreachDoesNotChain(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.agent.breaches = []domain.Breach{{Department: "Ops", Category: "Travel", Severity: domain.SeverityLow}}

	if _, err := h.svc.DetectBreaches(context.Background()); err != nil {
		t.Fatalf("DetectBreaches failed: %v", err)
	}
	h.clock.Advance(time.Minute)
	if got := h.agent.count("recommend"); got != 0 {
		t.Fatalf("expected no recommendations for low severity, got %d", got)
	}
}

func TestResyncReplacesStateWhenAgentReachable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	remote := domain.EmptyState()
	remote.BudgetLoaded = true
	remote.DetectedBreaches = []domain.Breach{{Department: "A", Severity: domain.SeverityHigh}, {Department: "B", Severity: domain.SeverityLow}}
	h.agent.dashboard = &remote

	if _, err := h.svc.UploadBudget(context.Background(), "budget.csv", nil); err != nil {
		t.Fatalf("UploadBudget failed: %v", err)
	}
	state := h.store.Snapshot()
	if !state.BudgetLoaded || len(state.DetectedBreaches) != 2 {
		t.Fatalf("expected agent state to be adopted, got %+v", state)
	}
	if !state.LastUpdated.Equal(epoch) {
		t.Fatalf("expected store to stamp lastUpdated, got %v", state.LastUpdated)
	}
}

func TestUploadWithFailedResyncMarksBudgetLoaded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if _, err := h.svc.UploadBudget(context.Background(), "budget.csv", nil); err != nil {
		t.Fatalf("UploadBudget failed: %v", err)
	}
	if !h.store.Snapshot().BudgetLoaded {
		t.Fatal("expected budget loaded after successful upload")
	}
}

func TestTriggerWorkflowRejectsUnknownType(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.svc.TriggerWorkflow(context.Background(), "everything")
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != domain.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTriggerFullDetectionRunsStepsWithoutScheduling(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.agent.breaches = []domain.Breach{{Severity: domain.SeverityHigh}}

	results, err := h.svc.TriggerWorkflow(context.Background(), WorkflowFullDetection)
	if err != nil {
		t.Fatalf("TriggerWorkflow failed: %v", err)
	}
	for _, key := range []string{"breaches", "recommendations", "escalation"} {
		if _, ok := results[key]; !ok {
			t.Fatalf("expected %q in results", key)
		}
	}
	if h.sched.Pending() != 0 {
		t.Fatalf("expected no follow-ups scheduled, got %d", h.sched.Pending())
	}
}

func TestReadStateFallsBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	state, degraded := h.svc.ReadState(context.Background())
	if !degraded || state.BudgetLoaded || state.Demo {
		t.Fatalf("expected empty fallback, got degraded=%v state=%+v", degraded, state)
	}

	demo := NewService(Deps{Agent: h.agent, Store: h.store, Scheduler: h.sched}, config.WorkflowConfig{}, config.FallbackDemo)
	state, degraded = demo.ReadState(context.Background())
	if !degraded || !state.Demo {
		t.Fatalf("expected demo fallback, got degraded=%v demo=%v", degraded, state.Demo)
	}
}

func TestSyncReportsAgentFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.svc.Sync(context.Background())
	if !errors.Is(err, errAgentDown) {
		t.Fatalf("expected wrapped agent error, got %v", err)
	}
}
