package agent

import (
	"context"
	"io"

	"github.com/ashureev/budget-sentinel/internal/domain"
)

// API defines the agent service capabilities.
// This interface is implemented by the HTTP client.
type API interface {
	// UploadBudget sends a budget document to the policy loader agent
	UploadBudget(ctx context.Context, filename string, content io.Reader) (*UploadResult, error)

	// TrackExpense records an expense with the expense tracker agent
	TrackExpense(ctx context.Context, expense ExpenseRequest) (*TrackResult, error)

	// DetectBreaches runs the breach detector
	DetectBreaches(ctx context.Context) (*BreachResult, error)

	// GenerateRecommendations runs the correction recommender
	GenerateRecommendations(ctx context.Context) (*RecommendationResult, error)

	// SendEscalation runs the escalation communicator
	SendEscalation(ctx context.Context) (*EscalationResult, error)

	// FetchDashboardData returns the agent's dashboard snapshot or the failure
	FetchDashboardData(ctx context.Context) (domain.DashboardState, error)

	// GetDashboardData never fails; on error it returns the empty state
	GetDashboardData(ctx context.Context) domain.DashboardState

	// GetStatus returns per-agent status
	GetStatus(ctx context.Context) (*StatusResult, error)

	// Health checks the agent root endpoint
	Health(ctx context.Context) (*HealthResult, error)

	// ProcessCompleteFlow runs the agent's end-to-end workflow
	ProcessCompleteFlow(ctx context.Context, req FlowRequest) (*FlowResult, error)
}

// Recorder receives one entry per agent call.
type Recorder interface {
	Record(ctx context.Context, call domain.AgentCall) error
}

type noopRecorder struct{}

func (noopRecorder) Record(context.Context, domain.AgentCall) error { return nil }

// Ensure HTTPClient implements API.
var _ API = (*HTTPClient)(nil)
