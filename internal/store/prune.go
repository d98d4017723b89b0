package store

import (
	"context"
	"log/slog"
	"time"
)

const pruneWorkerInterval = time.Hour

// StartPruneWorker runs a background goroutine that periodically deletes
// journal entries older than retention. It runs one sweep immediately.
func StartPruneWorker(ctx context.Context, journal Journal, retention time.Duration) {
	ticker := time.NewTicker(pruneWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Journal prune worker started", "interval", pruneWorkerInterval, "retention", retention)

		pruneOnce(ctx, journal, retention, time.Now())
		for {
			select {
			case now := <-ticker.C:
				pruneOnce(ctx, journal, retention, now)
			case <-ctx.Done():
				slog.Info("Journal prune worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneOnce(ctx context.Context, journal Journal, retention time.Duration, now time.Time) int64 {
	deleted, err := journal.Prune(ctx, now.Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Journal prune failed", "error", err)
		}
		return 0
	}
	if deleted > 0 {
		slog.Info("Journal pruned", "deleted", deleted)
	}
	return deleted
}
