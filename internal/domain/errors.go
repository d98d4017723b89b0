package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures for the HTTP layer.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "validation"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeUpstreamTimeout     ErrorCode = "upstream_timeout"
	CodeUpstreamRejected    ErrorCode = "upstream_rejected"
	CodeInternal            ErrorCode = "internal"
)

// AppError is the error type handlers translate into envelopes.
// Details holds whatever upstream payload was available.
type AppError struct {
	Code    ErrorCode
	Message string
	Details any
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func Validation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func Internal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Cause: cause}
}

// AsAppError unwraps err to an *AppError if there is one in the chain.
func AsAppError(err error) (*AppError, bool) {
	var typed *AppError
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}
