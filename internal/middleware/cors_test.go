package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{name: "explicit origin", allowed: []string{"http://localhost:3000"}, origin: "http://localhost:3000", method: http.MethodGet, wantOrigin: "http://localhost:3000", wantCreds: "true", wantStatus: http.StatusTeapot},
		{name: "unknown origin", allowed: []string{"http://localhost:3000"}, origin: "http://evil.test", method: http.MethodGet, wantStatus: http.StatusTeapot},
		{name: "wildcard no credentials", allowed: []string{"*"}, origin: "http://any.test", method: http.MethodGet, wantOrigin: "http://any.test", wantStatus: http.StatusTeapot},
		{name: "preflight", allowed: []string{"*"}, origin: "http://any.test", method: http.MethodOptions, wantOrigin: "http://any.test", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/dashboard", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected allow-origin %q, got %q", tt.wantOrigin, got)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Fatalf("expected credentials %q, got %q", tt.wantCreds, got)
			}
			if w.Header().Get("Vary") != "Origin" {
				t.Fatalf("expected Vary: Origin")
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := RequestIDHeader(func(*http.Request) string { return "req-42" })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := w.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected request id header, got %q", got)
	}
}
