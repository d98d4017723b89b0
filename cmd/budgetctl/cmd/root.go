// Package cmd holds the budgetctl commands.
package cmd

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/budget-sentinel/internal/agent"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultAgentURL = "http://localhost:8000"

type options struct {
	agentURL string
	timeout  time.Duration
	noColor  bool
}

// clientFactory builds the agent client once flags are parsed.
type clientFactory func(opts options) agent.API

func httpClientFactory(opts options) agent.API {
	// Warnings from the client go to stderr; stdout stays clean for output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return agent.NewHTTPClient(opts.agentURL, agent.Timeouts{
		Status:  opts.timeout,
		Default: opts.timeout,
		Long:    opts.timeout,
	}, nil, logger)
}

func newRootCmd(newClient clientFactory, out io.Writer) *cobra.Command {
	opts := options{}
	defaultURL := os.Getenv("AGENT_API_URL")
	if defaultURL == "" {
		defaultURL = defaultAgentURL
	}

	root := &cobra.Command{
		Use:          "budgetctl",
		Short:        "Operate the budget agent service",
		Long:         color.CyanString("budgetctl") + " inspects and drives the budget agents directly.",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&opts.agentURL, "agent-url", defaultURL, "Agent service base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-call timeout")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	client := func() agent.API { return newClient(opts) }
	root.AddCommand(
		newStatusCmd(client),
		newHealthCmd(client),
		newDashboardCmd(client),
		newTrackCmd(client),
		newDetectCmd(client),
	)
	return root
}

// Execute runs the CLI.
func Execute() error {
	_ = godotenv.Load()
	return newRootCmd(httpClientFactory, os.Stdout).Execute()
}
