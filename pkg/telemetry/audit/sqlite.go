package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	event           TEXT NOT NULL,
	request_id      TEXT NOT NULL,
	timestamp       DATETIME NOT NULL,
	client_identity TEXT NOT NULL,
	instance_count  INTEGER NOT NULL DEFAULT 0,
	latency_ms      REAL NOT NULL DEFAULT 0,
	success         INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_entries(request_id);
`

// SQLiteSink persists audit entries to a local sqlite database.
type SQLiteSink struct {
	db *sql.DB
}

var _ Sink = (*SQLiteSink)(nil)

// NewSQLiteSink opens (creating if needed) the database at path and ensures
// the schema exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database %q: %w", path, err)
	}

	// Single writer; the trail's worker is the only goroutine writing.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Write inserts one entry.
func (s *SQLiteSink) Write(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
			(event, request_id, timestamp, client_identity, instance_count, latency_ms, success, error, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Event, e.RequestID, e.Timestamp, e.ClientIdentity,
		e.InstanceCount, e.LatencyMs, boolToInt(e.Success), e.Error, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// PruneBefore deletes entries older than cutoff and returns how many rows
// were removed.
func (s *SQLiteSink) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
