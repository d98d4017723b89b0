// Package dashboard owns the aggregated dashboard state. Every change goes
// through Store.Apply, which merges, timestamps and broadcasts atomically.
package dashboard

import (
	"sync"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
)

// Clock supplies merge timestamps.
type Clock interface {
	Now() time.Time
}

// Broadcaster receives every merged state, in merge order.
type Broadcaster interface {
	Broadcast(state domain.DashboardState)
}

// Update replaces one or more top-level fields of the state.
type Update func(*domain.DashboardState)

// Store is the single owner of the dashboard state.
type Store struct {
	mu          sync.Mutex
	state       domain.DashboardState
	clock       Clock
	broadcaster Broadcaster
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewStore creates a store holding the empty state. A nil broadcaster
// disables broadcasting.
func NewStore(clock Clock, broadcaster Broadcaster) *Store {
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{
		state:       domain.EmptyState(),
		clock:       clock,
		broadcaster: broadcaster,
	}
}

// Apply merges updates into the state, stamps lastUpdated and broadcasts the
// result before releasing the lock. Later updates win over earlier ones.
func (s *Store) Apply(updates ...Update) domain.DashboardState {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	for _, update := range updates {
		update(&next)
	}
	next = next.Normalize()
	next.LastUpdated = s.clock.Now().UTC()
	s.state = next

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(next)
	}
	return next
}

// Snapshot returns the current state.
func (s *Store) Snapshot() domain.DashboardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join calls fn with the current state while holding the merge lock, so a
// subscriber registered inside fn sees no gap and no reordering.
func (s *Store) Join(fn func(domain.DashboardState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// SetBudgetLoaded replaces budgetLoaded.
func SetBudgetLoaded(loaded bool) Update {
	return func(s *domain.DashboardState) { s.BudgetLoaded = loaded }
}

// SetBudgetData replaces budgetData.
func SetBudgetData(data domain.BudgetData) Update {
	return func(s *domain.DashboardState) { s.BudgetData = data }
}

// SetExpenseTracking replaces expenseTracking.
func SetExpenseTracking(tracking domain.ExpenseTracking) Update {
	return func(s *domain.DashboardState) { s.ExpenseTracking = tracking }
}

// SetBreaches replaces detectedBreaches.
func SetBreaches(breaches []domain.Breach) Update {
	return func(s *domain.DashboardState) { s.DetectedBreaches = breaches }
}

// SetRecommendations replaces recommendations.
func SetRecommendations(recs []domain.Recommendation) Update {
	return func(s *domain.DashboardState) { s.Recommendations = recs }
}

// SetNotifications replaces notifications.
func SetNotifications(notifications []domain.Notification) Update {
	return func(s *domain.DashboardState) { s.Notifications = notifications }
}

// ReplaceAll swaps in every field of state. lastUpdated is still stamped
// by the store.
func ReplaceAll(state domain.DashboardState) Update {
	return func(s *domain.DashboardState) { *s = state }
}

// RecordTransaction appends tx to a copy of the current tracking map.
func RecordTransaction(tx domain.Transaction) Update {
	return func(s *domain.DashboardState) {
		tracking := s.ExpenseTracking.Clone()
		tracking.Record(tx)
		s.ExpenseTracking = tracking
	}
}

// AppendNotifications adds notifications after the ones already held.
func AppendNotifications(notifications []domain.Notification) Update {
	return func(s *domain.DashboardState) {
		merged := make([]domain.Notification, 0, len(s.Notifications)+len(notifications))
		merged = append(merged, s.Notifications...)
		s.Notifications = append(merged, notifications...)
	}
}
