package daemon

import "time"

// State is the daemon lifecycle state. Transitions only happen under the
// daemon's transition lock; reads are lock-free via an atomic.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// StateNames lists every state label, for metrics gauges.
var StateNames = []string{"stopped", "starting", "running", "stopping"}

// Status is a point-in-time snapshot of the supervised dashboard.
type Status struct {
	State     string    `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
	LogPath   string    `json:"log_path,omitempty"`
}
