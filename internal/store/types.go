package store

import (
	"context"
	"fmt"
	"time"
)

// EventKind labels a daemon lifecycle event.
type EventKind string

const (
	EventStart EventKind = "start"
	EventStop  EventKind = "stop"
)

// Event records one daemon lifecycle transition. RunKey ties the start and
// stop rows of one dashboard run together; see UniqueKey.
type Event struct {
	Kind       EventKind `json:"kind"`
	PID        int       `json:"pid"`
	RunKey     string    `json:"run_key,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"` // exit status, escalation level, etc.
}

// UpdateOutcome labels the result of an update attempt.
type UpdateOutcome string

const (
	UpdateOK      UpdateOutcome = "ok"
	UpdateFailed  UpdateOutcome = "failed"
	UpdatePartial UpdateOutcome = "partial" // installed, but restart failed
)

// UpdateRecord records one install cycle.
type UpdateRecord struct {
	FromVersion string        `json:"from_version"`
	ToVersion   string        `json:"to_version"`
	Outcome     UpdateOutcome `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// Store persists daemon lifecycle events and update attempts.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordEvent(ctx context.Context, e Event) error
	RecordUpdate(ctx context.Context, r UpdateRecord) error
	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
	// RecentUpdates returns up to limit update attempts, newest first.
	RecentUpdates(ctx context.Context, limit int) ([]UpdateRecord, error)
	Close() error
}

// UniqueKey builds a stable identity for one daemon run.
func UniqueKey(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UnixNano())
}
