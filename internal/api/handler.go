// Package api provides HTTP handlers for the budget dashboard API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/workflow"
)

// Handler provides common handler utilities.
type Handler struct {
	svc    *workflow.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc *workflow.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response in the failure envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"success": false, "error": message})
}

// OK writes the success envelope with fields merged in.
func OK(w http.ResponseWriter, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	JSON(w, http.StatusOK, body)
}

// statusFor maps an error code to its HTTP status.
func statusFor(code domain.ErrorCode) int {
	if code == domain.CodeValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Fail writes the failure envelope for err. Internal errors are logged and
// answered with a generic message.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	h.failWithStatus(w, r, err, 0)
}

func (h *Handler) failWithStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	appErr, ok := domain.AsAppError(err)
	if !ok {
		appErr = domain.Internal("Internal server error", err)
	}
	if status == 0 {
		status = statusFor(appErr.Code)
	}

	body := map[string]any{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	}
	switch appErr.Code {
	case domain.CodeInternal:
		h.logger.Error("Request failed", "error", err, "path", r.URL.Path)
		body["error"] = "Internal server error"
	case domain.CodeValidation:
		h.logger.Debug("Request rejected", "error", appErr.Message, "path", r.URL.Path)
	default:
		h.logger.Warn("Agent call failed", "error", err, "path", r.URL.Path)
	}
	if appErr.Details != nil && appErr.Code != domain.CodeInternal {
		body["details"] = appErr.Details
	}
	JSON(w, status, body)
}

// validationFailure writes a 400 with a machine-readable code.
func validationFailure(w http.ResponseWriter, code, message string) {
	JSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return domain.Validation("Request body is required")
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return domain.Validation("Request body must be valid JSON")
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
