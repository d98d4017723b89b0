package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "3002" {
		t.Errorf("expected default port 3002, got %q", cfg.Port)
	}
	if cfg.Agent.BaseURL != "http://localhost:8000" {
		t.Errorf("unexpected agent url %q", cfg.Agent.BaseURL)
	}
	if cfg.Agent.StatusTimeout != 5*time.Second || cfg.Agent.LongTimeout != 120*time.Second {
		t.Errorf("unexpected timeouts: %+v", cfg.Agent)
	}
	if cfg.Workflow.DebounceDelay != time.Second || cfg.Workflow.BulkDebounceDelay != 2*time.Second {
		t.Errorf("unexpected delays: %+v", cfg.Workflow)
	}
	if cfg.Upload.MaxBytes != 10<<20 {
		t.Errorf("expected 10MB upload limit, got %d", cfg.Upload.MaxBytes)
	}
	if cfg.FallbackMode != FallbackEmpty {
		t.Errorf("expected empty fallback, got %q", cfg.FallbackMode)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AGENT_API_URL", "http://agents.internal:8000")
	t.Setenv("DEBOUNCE_DELAY", "250ms")
	t.Setenv("FALLBACK_MODE", "DEMO")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.Agent.BaseURL != "http://agents.internal:8000" {
		t.Errorf("unexpected agent url %q", cfg.Agent.BaseURL)
	}
	if cfg.Workflow.DebounceDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms debounce, got %v", cfg.Workflow.DebounceDelay)
	}
	if cfg.FallbackMode != FallbackDemo {
		t.Errorf("expected demo fallback, got %q", cfg.FallbackMode)
	}
}

func TestLoadRejectsUnknownFallback(t *testing.T) {
	t.Setenv("FALLBACK_MODE", "rich")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown fallback mode")
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{FrontendURL: "https://budget.example.com/"}
	got := cfg.AllowedOrigins()
	if len(got) != 1 || got[0] != "https://budget.example.com" {
		t.Errorf("unexpected origins %v", got)
	}

	cfg.FrontendURL = ""
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("expected wildcard, got %v", got)
	}
}
