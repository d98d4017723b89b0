package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/ashureev/budget-sentinel/internal/agent"
	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/workflow"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	faint  = color.New(color.Faint)
)

var (
	hundredPercent = decimal.NewFromInt(100)
	eightyPercent  = decimal.NewFromInt(80)
)

func newStatusCmd(client func() agent.API) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-agent status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := client().GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newHealthCmd(client func() agent.API) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the agent service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := client().Health(cmd.Context())
			if err != nil {
				red.Fprintln(cmd.OutOrStdout(), "unhealthy")
				return err
			}
			out := cmd.OutOrStdout()
			green.Fprintf(out, "%s\n", res.Status)
			for _, name := range res.Agents {
				fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}
}

func newDashboardCmd(client func() agent.API) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print the agent's dashboard data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := client().FetchDashboardData(cmd.Context())
			if err != nil {
				return err
			}
			printDashboard(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func newTrackCmd(client func() agent.API) *cobra.Command {
	var amount string
	var in workflow.ExpenseInput

	c := &cobra.Command{
		Use:   "track",
		Short: "Track one expense",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if amount != "" {
				in.Amount = json.RawMessage(strconv.Quote(amount))
			}
			req, err := in.Request()
			if err != nil {
				return err
			}
			res, err := client().TrackExpense(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			green.Fprintf(out, "Tracked %s for %s / %s", req.Amount.StringFixed(2), req.Department, req.Category)
			fmt.Fprintln(out)
			if res.Message != "" {
				faint.Fprintln(out, res.Message)
			}
			return nil
		},
	}
	c.Flags().StringVar(&amount, "amount", "", "Expense amount")
	c.Flags().StringVar(&in.Department, "department", "", "Department")
	c.Flags().StringVar(&in.Category, "category", "", "Category")
	c.Flags().StringVar(&in.Vendor, "vendor", "", "Vendor")
	c.Flags().StringVar(&in.Description, "description", "", "Description")
	return c
}

func newDetectCmd(client func() agent.API) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run breach detection now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := client().DetectBreaches(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(res.Breaches) == 0 {
				green.Fprintln(out, "No breaches")
				return nil
			}
			printBreaches(out, res.Breaches)
			return nil
		},
	}
}

func printStatus(out io.Writer, res *agent.StatusResult) {
	names := make([]string, 0, len(res.Agents))
	for name := range res.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	bold.Fprintln(out, "AGENTS")
	for _, name := range names {
		status := res.Agents[name]
		c := yellow
		switch status {
		case "active", "running", "ready", "healthy":
			c = green
		case "error", "failed", "down":
			c = red
		}
		fmt.Fprintf(out, "  %-28s ", name)
		c.Fprintln(out, status)
	}
}

func printDashboard(out io.Writer, state domain.DashboardState) {
	loaded := yellow.Sprint("no")
	if state.BudgetLoaded {
		loaded = green.Sprint("yes")
	}
	fmt.Fprintf(out, "Budget loaded: %s\n", loaded)
	if !state.LastUpdated.IsZero() {
		faint.Fprintf(out, "Last updated %s\n", state.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	}

	depts := make([]string, 0, len(state.ExpenseTracking))
	for dept := range state.ExpenseTracking {
		depts = append(depts, dept)
	}
	sort.Strings(depts)

	if len(depts) > 0 {
		fmt.Fprintln(out)
		bold.Fprintln(out, "USAGE")
		for _, dept := range depts {
			cats := state.ExpenseTracking[dept]
			names := make([]string, 0, len(cats))
			for name := range cats {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				u := cats[name]
				fmt.Fprintf(out, "  %-16s %-16s %12s / %-12s ", dept, name, u.Spent.StringFixed(2), u.Limit.StringFixed(2))
				usageColor(u).Fprintf(out, "%s%%\n", u.UsagePercent.StringFixed(2))
			}
		}
	}

	if len(state.DetectedBreaches) > 0 {
		fmt.Fprintln(out)
		printBreaches(out, state.DetectedBreaches)
	}
	if len(state.Recommendations) > 0 {
		fmt.Fprintln(out)
		bold.Fprintln(out, "RECOMMENDATIONS")
		for _, r := range state.Recommendations {
			fmt.Fprintf(out, "  [%s] %s (saves %s)\n", r.Type, r.Description, r.TargetSavings.StringFixed(2))
		}
	}
}

func printBreaches(out io.Writer, breaches []domain.Breach) {
	bold.Fprintln(out, "BREACHES")
	for _, b := range breaches {
		fmt.Fprint(out, "  ")
		severityColor(b.Severity).Fprintf(out, "%-9s", b.Severity)
		fmt.Fprintf(out, " %s / %s over by %s\n", b.Department, b.Category, b.Overage.StringFixed(2))
	}
}

func severityColor(s domain.Severity) *color.Color {
	switch s {
	case domain.SeverityCritical, domain.SeverityHigh:
		return red
	case domain.SeverityMedium:
		return yellow
	default:
		return faint
	}
}

func usageColor(u domain.CategoryUsage) *color.Color {
	switch {
	case u.UsagePercent.GreaterThanOrEqual(hundredPercent):
		return red
	case u.UsagePercent.GreaterThanOrEqual(eightyPercent):
		return yellow
	default:
		return green
	}
}
