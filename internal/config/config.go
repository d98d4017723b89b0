// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Fallback modes for read paths when the agent service is unreachable.
const (
	FallbackEmpty = "empty"
	FallbackDemo  = "demo"
)

// Config holds all application configuration.
type Config struct {
	Port        string         `envconfig:"PORT" default:"3002"`
	FrontendURL string         `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
	DBPath      string         `envconfig:"DB_PATH" default:"./data/budget.db"`
	Agent       AgentConfig    `ignored:"true"`
	Workflow    WorkflowConfig `ignored:"true"`
	Upload      UploadConfig   `ignored:"true"`

	// FallbackMode is "empty" or "demo".
	FallbackMode     string        `envconfig:"FALLBACK_MODE" default:"empty"`
	JournalRetention time.Duration `envconfig:"JOURNAL_RETENTION" default:"168h"`
}

// AgentConfig controls the agent service client.
type AgentConfig struct {
	BaseURL       string        `envconfig:"AGENT_API_URL" default:"http://localhost:8000"`
	StatusTimeout time.Duration `envconfig:"AGENT_STATUS_TIMEOUT" default:"5s"`
	Timeout       time.Duration `envconfig:"AGENT_TIMEOUT" default:"30s"`
	LongTimeout   time.Duration `envconfig:"AGENT_LONG_TIMEOUT" default:"120s"`
}

// WorkflowConfig holds the delays used for deferred follow-up calls.
type WorkflowConfig struct {
	DebounceDelay     time.Duration `envconfig:"DEBOUNCE_DELAY" default:"1s"`
	BulkDebounceDelay time.Duration `envconfig:"BULK_DEBOUNCE_DELAY" default:"2s"`
	FollowUpDelay     time.Duration `envconfig:"FOLLOWUP_DELAY" default:"1s"`
}

// UploadConfig limits budget file uploads.
type UploadConfig struct {
	MaxBytes int64 `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	sections := []any{&cfg, &cfg.Agent, &cfg.Workflow, &cfg.Upload}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	}
	cfg.FallbackMode = strings.ToLower(strings.TrimSpace(cfg.FallbackMode))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.Agent.BaseURL); err != nil {
		return fmt.Errorf("AGENT_API_URL is not a valid URL: %w", err)
	}
	if c.Agent.StatusTimeout <= 0 || c.Agent.Timeout <= 0 || c.Agent.LongTimeout <= 0 {
		return fmt.Errorf("agent timeouts must be > 0")
	}
	if c.Workflow.DebounceDelay < 0 || c.Workflow.BulkDebounceDelay < 0 || c.Workflow.FollowUpDelay < 0 {
		return fmt.Errorf("workflow delays cannot be negative")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.FallbackMode != FallbackEmpty && c.FallbackMode != FallbackDemo {
		return fmt.Errorf("FALLBACK_MODE must be %q or %q, got %q", FallbackEmpty, FallbackDemo, c.FallbackMode)
	}
	if c.JournalRetention <= 0 {
		return fmt.Errorf("JOURNAL_RETENTION must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the origins CORS and the websocket accept.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" || c.FrontendURL == "*" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}
