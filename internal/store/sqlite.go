package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store with the CGO-free modernc.org/sqlite driver.
// Path is a filesystem path to the database file; ":memory:" works for tests.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &SQLite{db: d}, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daemon_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			pid INTEGER NOT NULL,
			run_key TEXT NULL,
			occurred_at TIMESTAMP NOT NULL,
			detail TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daemon_events_at ON daemon_events(occurred_at);`,
		`CREATE TABLE IF NOT EXISTS update_attempts(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_version TEXT NOT NULL,
			to_version TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_update_attempts_at ON update_attempts(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) RecordEvent(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daemon_events(kind, pid, run_key, occurred_at, detail) VALUES(?,?,?,?,?)`,
		string(e.Kind), e.PID, e.RunKey, e.OccurredAt, e.Detail)
	return err
}

func (s *SQLite) RecordUpdate(ctx context.Context, r UpdateRecord) error {
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO update_attempts(from_version, to_version, outcome, error, occurred_at) VALUES(?,?,?,?,?)`,
		r.FromVersion, r.ToVersion, string(r.Outcome), r.Error, r.OccurredAt)
	return err
}

func (s *SQLite) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, pid, COALESCE(run_key,''), occurred_at, COALESCE(detail,'') FROM daemon_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&kind, &e.PID, &e.RunKey, &e.OccurredAt, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) RecentUpdates(ctx context.Context, limit int) ([]UpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_version, to_version, outcome, COALESCE(error,''), occurred_at FROM update_attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []UpdateRecord
	for rows.Next() {
		var r UpdateRecord
		var outcome string
		if err := rows.Scan(&r.FromVersion, &r.ToVersion, &outcome, &r.Error, &r.OccurredAt); err != nil {
			return nil, err
		}
		r.Outcome = UpdateOutcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
