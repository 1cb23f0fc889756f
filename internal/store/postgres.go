package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres implements Store on PostgreSQL via the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: d}, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daemon_events(
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			pid INTEGER NOT NULL,
			run_key TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			detail TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daemon_events_at ON daemon_events(occurred_at);`,
		`CREATE TABLE IF NOT EXISTS update_attempts(
			id BIGSERIAL PRIMARY KEY,
			from_version TEXT NOT NULL,
			to_version TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_update_attempts_at ON update_attempts(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) RecordEvent(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO daemon_events(kind, pid, run_key, occurred_at, detail) VALUES($1,$2,$3,$4,$5)`,
		string(e.Kind), e.PID, e.RunKey, e.OccurredAt, e.Detail)
	return err
}

func (p *Postgres) RecordUpdate(ctx context.Context, r UpdateRecord) error {
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO update_attempts(from_version, to_version, outcome, error, occurred_at) VALUES($1,$2,$3,$4,$5)`,
		r.FromVersion, r.ToVersion, string(r.Outcome), r.Error, r.OccurredAt)
	return err
}

func (p *Postgres) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT kind, pid, COALESCE(run_key,''), occurred_at, COALESCE(detail,'') FROM daemon_events ORDER BY id DESC LIMIT $1`, limit)
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

func (p *Postgres) RecentUpdates(ctx context.Context, limit int) ([]UpdateRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT from_version, to_version, outcome, COALESCE(error,''), occurred_at FROM update_attempts ORDER BY id DESC LIMIT $1`, limit)
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

func (p *Postgres) Close() error { return p.db.Close() }
