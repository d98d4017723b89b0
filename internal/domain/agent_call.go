package domain

import "time"

// AgentCall is one journaled request to the agent service.
type AgentCall struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"requestId,omitempty"`
	Operation  string    `json:"operation"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
}
