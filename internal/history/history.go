// Package history keeps a SQLite ledger of executions, one row per run.
// The ledger powers the /history endpoint and aggregate pass-rate stats;
// writes are best-effort and never fail an execution response.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded execution.
type Entry struct {
	ReportID   string    `json:"reportId"`
	TestPath   string    `json:"testPath"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
}

// Stats aggregates the ledger.
type Stats struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	PassRate float64 `json:"passRate"`
}

// Ledger records executions in SQLite.
type Ledger struct {
	db *sql.DB
}

// Open opens (and migrates) the ledger at the given DSN.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history database: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS executions (
		report_id TEXT PRIMARY KEY,
		test_path TEXT NOT NULL,
		success INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		started_at DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(`CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at)`)
	return err
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts one execution row.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions (report_id, test_path, success, duration_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		e.ReportID, e.TestPath, e.Success, e.DurationMs, e.StartedAt.UTC())
	return err
}

// Recent returns the latest entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT report_id, test_path, success, duration_ms, started_at FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ReportID, &e.TestPath, &e.Success, &e.DurationMs, &e.StartedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates pass rate across the whole ledger.
func (l *Ledger) Summary(ctx context.Context) (Stats, error) {
	var s Stats
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM executions`).Scan(&s.Total, &s.Passed)
	if err != nil {
		return Stats{}, err
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}
	return s, nil
}
