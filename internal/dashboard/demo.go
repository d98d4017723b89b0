package dashboard

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ashureev/budget-sentinel/internal/config"
	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

//go:embed demo.toml
var demoData []byte

type demoFile struct {
	BudgetLoaded    bool                 `toml:"budget_loaded"`
	Departments     []demoDepartment     `toml:"department"`
	Breaches        []demoBreach         `toml:"breach"`
	Recommendations []demoRecommendation `toml:"recommendation"`
	Notifications   []demoNotification   `toml:"notification"`
}

type demoDepartment struct {
	Name        string          `toml:"name"`
	TotalBudget decimal.Decimal `toml:"total_budget"`
	Categories  []demoCategory  `toml:"category"`
}

type demoCategory struct {
	Name         string            `toml:"name"`
	Budget       decimal.Decimal   `toml:"budget"`
	Constraints  []string          `toml:"constraints"`
	Transactions []demoTransaction `toml:"transaction"`
}

type demoTransaction struct {
	ID          string          `toml:"id"`
	Amount      decimal.Decimal `toml:"amount"`
	Vendor      string          `toml:"vendor"`
	Description string          `toml:"description"`
	Timestamp   time.Time       `toml:"timestamp"`
}

type demoBreach struct {
	Department string          `toml:"department"`
	Category   string          `toml:"category"`
	Severity   string          `toml:"severity"`
	Spent      decimal.Decimal `toml:"spent"`
	Limit      decimal.Decimal `toml:"limit"`
	Overage    decimal.Decimal `toml:"overage"`
	DetectedAt time.Time       `toml:"detected_at"`
}

type demoRecommendation struct {
	Type          string          `toml:"type"`
	Description   string          `toml:"description"`
	TargetSavings decimal.Decimal `toml:"target_savings"`
}

type demoNotification struct {
	Subject    string    `toml:"subject"`
	SentAt     time.Time `toml:"sent_at"`
	Recipients []string  `toml:"recipients"`
	Urgency    string    `toml:"urgency"`
}

var loadDemo = sync.OnceValues(func() (domain.DashboardState, error) {
	return parseDemo(demoData)
})

// Demo returns the embedded placeholder dataset, marked demo.
func Demo() (domain.DashboardState, error) {
	return loadDemo()
}

// Fallback returns the state read paths serve when the agent is
// unreachable: the empty state, or the demo dataset in demo mode.
func Fallback(mode string) domain.DashboardState {
	if mode != config.FallbackDemo {
		return domain.EmptyState()
	}
	state, err := Demo()
	if err != nil {
		return domain.EmptyState()
	}
	return state
}

func parseDemo(data []byte) (domain.DashboardState, error) {
	var file demoFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return domain.DashboardState{}, fmt.Errorf("parse demo dataset: %w", err)
	}

	state := domain.EmptyState()
	state.BudgetLoaded = file.BudgetLoaded
	state.Demo = true

	for _, dept := range file.Departments {
		cats := make(map[string]domain.CategoryBudget, len(dept.Categories))
		usage := make(map[string]domain.CategoryUsage, len(dept.Categories))
		for _, cat := range dept.Categories {
			constraints := cat.Constraints
			if constraints == nil {
				constraints = []string{}
			}
			cats[cat.Name] = domain.CategoryBudget{Budget: cat.Budget, Constraints: constraints}
			usage[cat.Name] = domain.CategoryUsage{Limit: cat.Budget, Transactions: []domain.Transaction{}}
		}
		state.BudgetData[dept.Name] = domain.DepartmentBudget{TotalBudget: dept.TotalBudget, Categories: cats}
		state.ExpenseTracking[dept.Name] = usage

		for _, cat := range dept.Categories {
			for _, tx := range cat.Transactions {
				state.ExpenseTracking.Record(domain.Transaction{
					ID:          tx.ID,
					Amount:      tx.Amount,
					Department:  dept.Name,
					Category:    cat.Name,
					Vendor:      tx.Vendor,
					Description: tx.Description,
					Timestamp:   tx.Timestamp.UTC(),
				})
			}
		}
	}

	for _, b := range file.Breaches {
		state.DetectedBreaches = append(state.DetectedBreaches, domain.Breach{
			Department: b.Department,
			Category:   b.Category,
			Severity:   domain.Severity(b.Severity),
			Spent:      b.Spent,
			Limit:      b.Limit,
			Overage:    b.Overage,
			DetectedAt: b.DetectedAt.UTC(),
		})
	}
	for _, r := range file.Recommendations {
		state.Recommendations = append(state.Recommendations, domain.Recommendation{
			Type:          domain.RecommendationType(r.Type),
			Description:   r.Description,
			TargetSavings: r.TargetSavings,
		})
	}
	for _, n := range file.Notifications {
		state.Notifications = append(state.Notifications, domain.Notification{
			Subject:    n.Subject,
			SentAt:     n.SentAt.UTC(),
			Recipients: n.Recipients,
			Urgency:    n.Urgency,
		})
	}

	var latest time.Time
	for _, n := range state.Notifications {
		if n.SentAt.After(latest) {
			latest = n.SentAt
		}
	}
	state.LastUpdated = latest
	return state, nil
}
