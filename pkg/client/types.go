package client

import "time"

// Status mirrors the daemon status snapshot served by the control API.
type Status struct {
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
	LogPath   string    `json:"log_path,omitempty"`
}

// CheckResult mirrors the update check response.
type CheckResult struct {
	Installed string `json:"installed"`
	Latest    string `json:"latest"`
	Available bool   `json:"update_available"`
}

// ApplyResult mirrors the update apply response.
type ApplyResult struct {
	Updated bool   `json:"updated"`
	Version string `json:"version,omitempty"`
	Outcome string `json:"outcome"`
}

// Event mirrors a recorded daemon lifecycle event.
type Event struct {
	Kind       string    `json:"kind"`
	PID        int       `json:"pid"`
	RunKey     string    `json:"run_key,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}

// UpdateRecord mirrors a recorded update attempt.
type UpdateRecord struct {
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
