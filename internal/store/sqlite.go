package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/ashureev/budget-sentinel/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed journal at dbPath. ":memory:" opens
// a private in-memory database.
func NewSQLite(dbPath string) (*SQLiteJournal, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode lets the prune worker run alongside request writes.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	journal := &SQLiteJournal{db: db}
	if err := journal.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return journal, nil
}

func (s *SQLiteJournal) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS agent_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		operation TEXT NOT NULL,
		success INTEGER NOT NULL,
		status_code INTEGER,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		started_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_calls_started ON agent_calls(started_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteJournal) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

// Record appends a call entry, retrying briefly on lock contention.
func (s *SQLiteJournal) Record(ctx context.Context, call domain.AgentCall) error {
	query := `
		INSERT INTO agent_calls (request_id, operation, success, status_code, error, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	started := call.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx, query,
			nullString(call.RequestID), call.Operation, boolToInt(call.Success),
			call.StatusCode, nullString(call.Error), call.DurationMs, started.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert agent call: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// uses the default.
func (s *SQLiteJournal) Recent(ctx context.Context, limit int) ([]domain.AgentCall, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
		SELECT id, request_id, operation, success, status_code, error, duration_ms, started_at
		FROM agent_calls
		ORDER BY started_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query agent calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := make([]domain.AgentCall, 0, limit)
	for rows.Next() {
		var call domain.AgentCall
		var requestID, errMsg sql.NullString
		var statusCode sql.NullInt64
		var success int
		var startedAt int64

		if err := rows.Scan(&call.ID, &requestID, &call.Operation, &success, &statusCode, &errMsg, &call.DurationMs, &startedAt); err != nil {
			return nil, fmt.Errorf("scan agent call row: %w", err)
		}
		call.RequestID = requestID.String
		call.Error = errMsg.String
		call.StatusCode = int(statusCode.Int64)
		call.Success = success != 0
		call.StartedAt = time.UnixMilli(startedAt).UTC()
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent calls: %w", err)
	}
	return calls, nil
}

// Prune deletes entries that started before cutoff.
func (s *SQLiteJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, 3, 100*time.Millisecond, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM agent_calls WHERE started_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune agent calls: %w", err)
	}
	return deleted, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
