package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Upload rejection codes.
const (
	CodeMissingFile         = "missing_file"
	CodeFileTooLarge        = "file_too_large"
	CodeUnsupportedFileType = "unsupported_file_type"
	CodeTooManyFiles        = "too_many_files"
)

// UploadField is the multipart field carrying the budget document.
const UploadField = "budget"

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 1 << 20

var allowedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".pdf":  true,
	".docx": true,
	".csv":  true,
}

// BudgetHandler handles budget document and budget data endpoints.
type BudgetHandler struct {
	*Handler
	maxUploadBytes int64
}

// NewBudgetHandler creates a budget handler accepting uploads up to maxUploadBytes.
func NewBudgetHandler(base *Handler, maxUploadBytes int64) *BudgetHandler {
	return &BudgetHandler{Handler: base, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers budget routes.
func (h *BudgetHandler) RegisterRoutes(r chi.Router) {
	r.Route("/budget", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Get("/status", h.Status)
		r.Get("/data", h.Data)
	})
}

// Upload validates a single budget document and forwards it to the agent.
func (h *BudgetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			validationFailure(w, CodeFileTooLarge, h.sizeMessage())
			return
		}
		validationFailure(w, CodeMissingFile, "No budget file uploaded")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var total int
	for _, headers := range r.MultipartForm.File {
		total += len(headers)
	}
	files := r.MultipartForm.File[UploadField]
	switch {
	case len(files) == 0:
		validationFailure(w, CodeMissingFile, "No budget file uploaded")
		return
	case total > 1:
		validationFailure(w, CodeTooManyFiles, "Only one budget file can be uploaded at a time")
		return
	}

	header := files[0]
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		validationFailure(w, CodeUnsupportedFileType, "Invalid file type. Only Excel, PDF, Word, and CSV files are allowed.")
		return
	}
	if header.Size > h.maxUploadBytes {
		validationFailure(w, CodeFileTooLarge, h.sizeMessage())
		return
	}

	file, err := header.Open()
	if err != nil {
		h.Fail(w, r, domain.Internal("Failed to read uploaded file", err))
		return
	}
	defer func() { _ = file.Close() }()

	res, err := h.svc.UploadBudget(r.Context(), header.Filename, file)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	OK(w, map[string]any{
		"message":       "Budget file uploaded and processed successfully",
		"filename":      header.Filename,
		"agentResponse": res.Raw,
	})
}

func (h *BudgetHandler) sizeMessage() string {
	return fmt.Sprintf("File too large. Maximum size is %dMB.", h.maxUploadBytes>>20)
}

// Status reports whether a budget is loaded.
func (h *BudgetHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, degraded := h.svc.ReadState(r.Context())
	OK(w, withReadFlags(map[string]any{
		"budgetLoaded": state.BudgetLoaded,
		"departments":  len(state.BudgetData),
		"lastUpdated":  state.LastUpdated,
	}, state, degraded))
}

// Data returns the structured budget and its metadata.
func (h *BudgetHandler) Data(w http.ResponseWriter, r *http.Request) {
	state, degraded := h.svc.ReadState(r.Context())

	departments := make([]string, 0, len(state.BudgetData))
	categories := 0
	for name, dept := range state.BudgetData {
		departments = append(departments, name)
		categories += len(dept.Categories)
	}
	sort.Strings(departments)

	OK(w, withReadFlags(map[string]any{
		"data": state.BudgetData,
		"metadata": map[string]any{
			"departments":     departments,
			"totalCategories": categories,
			"lastUpdated":     state.LastUpdated,
		},
	}, state, degraded))
}

// withReadFlags marks responses served from the fallback state.
func withReadFlags(fields map[string]any, state domain.DashboardState, degraded bool) map[string]any {
	if degraded {
		fields["degraded"] = true
	}
	if state.Demo {
		fields["demo"] = true
	}
	return fields
}
