package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/shared"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	journal, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestJournalRecordAndRecent(t *testing.T) {
	t.Parallel()

	journal := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	entries := []domain.AgentCall{
		{RequestID: "req-1", Operation: "track-expense", Success: true, StatusCode: 200, DurationMs: 12, StartedAt: base},
		{Operation: "detect-breaches", Success: false, Error: "agent detect-breaches: timeout", DurationMs: 30000, StartedAt: base.Add(time.Second)},
		{Operation: "dashboard-data", Success: true, StatusCode: 200, DurationMs: 4, StartedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := journal.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	calls, err := journal.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Operation != "dashboard-data" || calls[1].Operation != "detect-breaches" {
		t.Fatalf("expected newest first, got %s then %s", calls[0].Operation, calls[1].Operation)
	}
	if calls[1].Success || calls[1].Error == "" || calls[1].StatusCode != 0 {
		t.Fatalf("unexpected failed call: %+v", calls[1])
	}
	if !calls[0].StartedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("unexpected started_at: %v", calls[0].StartedAt)
	}

	all, err := journal.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(all) != 3 || all[2].RequestID != "req-1" {
		t.Fatalf("unexpected default listing: %+v", all)
	}
}

func TestJournalPrune(t *testing.T) {
	t.Parallel()

	journal := newTestJournal(t)
	ctx := context.Background()
	now := time.Now()

	old := domain.AgentCall{Operation: "status", Success: true, StartedAt: now.Add(-48 * time.Hour)}
	fresh := domain.AgentCall{Operation: "health", Success: true, StartedAt: now.Add(-time.Minute)}
	for _, e := range []domain.AgentCall{old, fresh} {
		if err := journal.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	if deleted := pruneOnce(ctx, journal, 24*time.Hour, now); deleted != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", deleted)
	}
	calls, err := journal.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(calls) != 1 || calls[0].Operation != "health" {
		t.Fatalf("expected only the fresh entry, got %+v", calls)
	}
}

func TestRetryOnConflict(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := shared.RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("expected success on third attempt, got err=%v attempts=%d", err, attempts)
	}

	attempts = 0
	plain := errors.New("constraint failed")
	err = shared.RetryOnConflict(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return plain
	})
	if !errors.Is(err, plain) || attempts != 1 {
		t.Fatalf("expected no retry on non-conflict error, got err=%v attempts=%d", err, attempts)
	}
}
