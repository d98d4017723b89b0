// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
)

// Journal persists one entry per agent service call.
type Journal interface {
	// Record appends a call entry.
	Record(ctx context.Context, call domain.AgentCall) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]domain.AgentCall, error)

	// Prune deletes entries that started before cutoff and returns how many.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
