package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodySize = 4 << 20

var uploadContentTypes = map[string]string{
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// HTTPClient talks to the agent service over its JSON API.
type HTTPClient struct {
	baseURL  string
	http     *http.Client
	timeouts Timeouts
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewHTTPClient creates a client for the agent service at baseURL.
// A nil recorder disables the call journal.
func NewHTTPClient(baseURL string, timeouts Timeouts, recorder Recorder, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	defaults := DefaultTimeouts()
	if timeouts.Status <= 0 {
		timeouts.Status = defaults.Status
	}
	if timeouts.Default <= 0 {
		timeouts.Default = defaults.Default
	}
	if timeouts.Long <= 0 {
		timeouts.Long = defaults.Long
	}
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		timeouts: timeouts,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// UploadBudget sends a budget document as multipart field "file".
func (c *HTTPClient) UploadBudget(ctx context.Context, filename string, content io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := uploadContentTypes[strings.ToLower(filepath.Ext(filename))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	body, err := c.do(ctx, "upload-budget", http.MethodPost, "/upload-budget", &buf, mw.FormDataContentType(), c.timeouts.Long)
	if err != nil {
		return nil, err
	}
	return &UploadResult{Message: messageOf(body), Raw: body}, nil
}

// TrackExpense records one expense.
func (c *HTTPClient) TrackExpense(ctx context.Context, expense ExpenseRequest) (*TrackResult, error) {
	body, err := c.postJSON(ctx, "track-expense", "/track-expense", expense, c.timeouts.Default)
	if err != nil {
		return nil, err
	}
	return &TrackResult{Message: messageOf(body), Raw: body}, nil
}

// DetectBreaches runs breach detection over the agent's current state.
func (c *HTTPClient) DetectBreaches(ctx context.Context) (*BreachResult, error) {
	body, err := c.postJSON(ctx, "detect-breaches", "/detect-breaches", struct{}{}, c.timeouts.Default)
	if err != nil {
		return nil, err
	}
	var wire struct {
		AnalysisResult struct {
			BreachDetails []json.RawMessage `json:"breach_details"`
		} `json:"analysis_result"`
		Breaches []json.RawMessage `json:"breaches"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeError("detect-breaches", err)
	}
	details := wire.AnalysisResult.BreachDetails
	if len(details) == 0 {
		details = wire.Breaches
	}
	return &BreachResult{
		Message:  messageOf(body),
		Breaches: translateBreaches(details),
		Raw:      body,
	}, nil
}

// GenerateRecommendations asks the recommender for corrective actions.
func (c *HTTPClient) GenerateRecommendations(ctx context.Context) (*RecommendationResult, error) {
	body, err := c.postJSON(ctx, "generate-recommendations", "/generate-recommendations", struct{}{}, c.timeouts.Default)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Reallocation struct {
			Strategies []json.RawMessage `json:"reallocation_strategies"`
		} `json:"reallocation_strategies"`
		Pauses struct {
			Suggestions []json.RawMessage `json:"pause_suggestions"`
		} `json:"spending_pauses"`
		Vendors struct {
			Recommendations []json.RawMessage `json:"renegotiation_recommendations"`
		} `json:"vendor_negotiations"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeError("generate-recommendations", err)
	}

	result := &RecommendationResult{
		Message:            messageOf(body),
		Reallocations:      nonNilRaw(wire.Reallocation.Strategies),
		SpendingPauses:     nonNilRaw(wire.Pauses.Suggestions),
		VendorNegotiations: nonNilRaw(wire.Vendors.Recommendations),
		Raw:                body,
	}
	result.Recommendations = append(result.Recommendations, typedRecommendations(result.Reallocations, domain.RecommendationReallocation)...)
	result.Recommendations = append(result.Recommendations, typedRecommendations(result.SpendingPauses, domain.RecommendationSpendingPause)...)
	result.Recommendations = append(result.Recommendations, typedRecommendations(result.VendorNegotiations, domain.RecommendationVendorNegotiation)...)
	if result.Recommendations == nil {
		result.Recommendations = []domain.Recommendation{}
	}
	return result, nil
}

// SendEscalation runs the escalation communicator.
func (c *HTTPClient) SendEscalation(ctx context.Context) (*EscalationResult, error) {
	body, err := c.postJSON(ctx, "send-escalation", "/send-escalation", struct{}{}, c.timeouts.Default)
	if err != nil {
		return nil, err
	}
	var wire struct {
		EmailAlerts struct {
			SentDetails []json.RawMessage `json:"sent_details"`
		} `json:"email_alerts"`
		ExecutiveSummary json.RawMessage `json:"executive_summary"`
		ActionRequests   struct {
			ActionRequests json.RawMessage `json:"action_requests"`
		} `json:"action_requests"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeError("send-escalation", err)
	}
	return &EscalationResult{
		Message:          messageOf(body),
		Notifications:    translateNotifications(wire.EmailAlerts.SentDetails),
		ExecutiveSummary: orNull(wire.ExecutiveSummary),
		ActionRequests:   orNull(wire.ActionRequests.ActionRequests),
		Raw:              body,
	}, nil
}

// FetchDashboardData returns the agent's dashboard snapshot.
func (c *HTTPClient) FetchDashboardData(ctx context.Context) (domain.DashboardState, error) {
	body, err := c.do(ctx, "dashboard-data", http.MethodGet, "/dashboard-data", nil, "", c.timeouts.Default)
	if err != nil {
		return domain.DashboardState{}, err
	}
	state, err := decodeDashboard(body)
	if err != nil {
		return domain.DashboardState{}, decodeError("dashboard-data", err)
	}
	return state, nil
}

// GetDashboardData is FetchDashboardData that degrades to the empty state.
func (c *HTTPClient) GetDashboardData(ctx context.Context) domain.DashboardState {
	state, err := c.FetchDashboardData(ctx)
	if err != nil {
		c.logger.Warn("dashboard data unavailable, using empty state", "error", err)
		return domain.EmptyState()
	}
	return state
}

// GetStatus returns per-agent status.
func (c *HTTPClient) GetStatus(ctx context.Context) (*StatusResult, error) {
	body, err := c.do(ctx, "status", http.MethodGet, "/agents/status", nil, "", c.timeouts.Status)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Agents      map[string]json.RawMessage `json:"agents"`
		GlobalState json.RawMessage            `json:"global_state"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeError("status", err)
	}
	agents := make(map[string]string, len(wire.Agents))
	for name, raw := range wire.Agents {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			agents[name] = s
			continue
		}
		var detailed struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &detailed); err == nil && detailed.Status != "" {
			agents[name] = detailed.Status
			continue
		}
		agents[name] = strings.TrimSpace(string(raw))
	}
	return &StatusResult{Agents: agents, GlobalState: orNull(wire.GlobalState), Raw: body}, nil
}

// Health checks the agent root endpoint.
func (c *HTTPClient) Health(ctx context.Context) (*HealthResult, error) {
	body, err := c.do(ctx, "health", http.MethodGet, "/", nil, "", c.timeouts.Status)
	if err != nil {
		return nil, err
	}
	var result HealthResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, decodeError("health", err)
	}
	if result.Agents == nil {
		result.Agents = []string{}
	}
	if result.Status == "" {
		result.Status = "running"
	}
	return &result, nil
}

// ProcessCompleteFlow runs the agent's end-to-end workflow.
func (c *HTTPClient) ProcessCompleteFlow(ctx context.Context, req FlowRequest) (*FlowResult, error) {
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	body, err := c.postJSON(ctx, "process-complete-flow", "/process-complete-flow", req, c.timeouts.Long)
	if err != nil {
		return nil, err
	}
	var wire struct {
		WorkflowResults json.RawMessage `json:"workflow_results"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeError("process-complete-flow", err)
	}
	return &FlowResult{Message: messageOf(body), Workflow: orNull(wire.WorkflowResults), Raw: body}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, op, path string, payload any, timeout time.Duration) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, bytes.NewReader(encoded), "application/json", timeout)
}

// do performs one bounded agent call and records it in the journal.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, timeout time.Duration) ([]byte, error) {
	started := c.now()
	respBody, status, err := c.roundTrip(ctx, op, method, path, body, contentType, timeout)

	call := domain.AgentCall{
		RequestID:  middleware.GetReqID(ctx),
		Operation:  op,
		Success:    err == nil,
		StatusCode: status,
		DurationMs: c.now().Sub(started).Milliseconds(),
		StartedAt:  started.UTC(),
	}
	if err != nil {
		call.Error = err.Error()
		c.logger.Warn("agent call failed", "operation", op, "status", status, "error", err)
	}
	// Journal writes use a fresh context so a canceled request is still recorded.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if recErr := c.recorder.Record(recordCtx, call); recErr != nil {
		c.logger.Warn("failed to record agent call", "operation", op, "error", recErr)
	}
	return respBody, err
}

func (c *HTTPClient) roundTrip(ctx context.Context, op, method, path string, body io.Reader, contentType string, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, &Error{Op: op, Kind: KindUnavailable, Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, transportError(op, err, timeout)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, transportError(op, err, timeout)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := KindRejected
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			kind = KindUnavailable
		}
		return nil, resp.StatusCode, &Error{
			Op:         op,
			Kind:       kind,
			Message:    failureMessage(respBody, resp.StatusCode),
			StatusCode: resp.StatusCode,
			Payload:    jsonOrNil(respBody),
		}
	}

	if rejected, msg := reportsFailure(respBody); rejected {
		return nil, resp.StatusCode, &Error{
			Op:         op,
			Kind:       KindRejected,
			Message:    msg,
			StatusCode: resp.StatusCode,
			Payload:    jsonOrNil(respBody),
		}
	}
	return respBody, resp.StatusCode, nil
}

func transportError(op string, err error, timeout time.Duration) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Op: op, Kind: KindTimeout, Message: fmt.Sprintf("no response within %s", timeout), Err: err}
	}
	return &Error{Op: op, Kind: KindUnavailable, Message: "agent service unreachable", Err: err}
}

func decodeError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindRejected, Message: "malformed agent response", Err: err}
}

// failureMessage extracts FastAPI's {"detail": ...} or a message field.
func failureMessage(body []byte, status int) string {
	var wire struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil {
		if len(wire.Detail) > 0 {
			var s string
			if json.Unmarshal(wire.Detail, &s) == nil {
				return s
			}
			return string(wire.Detail)
		}
		if wire.Error != "" {
			return wire.Error
		}
		if wire.Message != "" {
			return wire.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(status)
}

// reportsFailure detects a 2xx body carrying "success": false.
func reportsFailure(body []byte) (bool, string) {
	var wire struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.Success == nil || *wire.Success {
		return false, ""
	}
	return true, failureMessage(body, http.StatusOK)
}

func messageOf(body []byte) string {
	var wire struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &wire)
	return wire.Message
}

func jsonOrNil(body []byte) json.RawMessage {
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	return nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func nonNilRaw(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}

// typedRecommendations flattens one recommendation group, defaulting the
// type to the group's kind when the item does not state one.
func typedRecommendations(items []json.RawMessage, kind domain.RecommendationType) []domain.Recommendation {
	out := make([]domain.Recommendation, 0, len(items))
	for _, item := range items {
		if rec, ok := translateRecommendation(item, kind); ok {
			out = append(out, rec)
		}
	}
	return out
}
