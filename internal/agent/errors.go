package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/budget-sentinel/internal/domain"
)

// ErrorKind classifies a failed agent call.
type ErrorKind string

const (
	// KindUnavailable means the agent could not be reached.
	KindUnavailable ErrorKind = "unavailable"
	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindRejected means the agent answered with a failure.
	KindRejected ErrorKind = "rejected"
)

// Error is the failure result of every API call. Payload holds the
// upstream error body when the agent sent one.
type Error struct {
	Op         string
	Kind       ErrorKind
	Message    string
	StatusCode int
	Payload    json.RawMessage
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is an agent timeout.
func IsTimeout(err error) bool {
	var agentErr *Error
	return errors.As(err, &agentErr) && agentErr.Kind == KindTimeout
}

// timeoutDetails is shown to callers when a write times out.
const timeoutDetails = "The agent service took too long to respond. Please try again later or check if the agent service is running."

// AsAppError converts an agent failure into the error the HTTP layer
// renders. message is the caller-facing summary, e.g. "Failed to track expense".
func AsAppError(err error, message string) *domain.AppError {
	if appErr, ok := domain.AsAppError(err); ok {
		return appErr
	}
	var agentErr *Error
	if !errors.As(err, &agentErr) {
		return domain.Internal(message, err)
	}

	appErr := &domain.AppError{Message: message, Cause: err}
	switch agentErr.Kind {
	case KindTimeout:
		appErr.Code = domain.CodeUpstreamTimeout
		appErr.Details = timeoutDetails
	case KindRejected:
		appErr.Code = domain.CodeUpstreamRejected
		if len(agentErr.Payload) > 0 {
			appErr.Details = agentErr.Payload
		} else {
			appErr.Details = agentErr.Message
		}
	default:
		appErr.Code = domain.CodeUpstreamUnavailable
		appErr.Details = agentErr.Message
	}
	return appErr
}
