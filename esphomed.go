package esphomed

import (
	"context"
	"net/http"
	"time"

	"esphomed/internal/config"
	"esphomed/internal/daemon"
	"esphomed/internal/metrics"
	iapi "esphomed/internal/server"
	"esphomed/internal/store"
	"esphomed/internal/updater"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type DaemonConfig = daemon.Config

type Status = daemon.Status

type State = daemon.State

type CheckResult = updater.CheckResult

// Supervisor is a thin facade over internal/daemon.Daemon for embedding.
type Supervisor struct{ inner *daemon.Daemon }

func NewSupervisor(cfg DaemonConfig) *Supervisor {
	return &Supervisor{inner: daemon.New(cfg)}
}

func (s *Supervisor) Start() error     { return s.inner.Start() }
func (s *Supervisor) Stop() error      { return s.inner.Stop() }
func (s *Supervisor) Restart() error   { return s.inner.Restart() }
func (s *Supervisor) IsRunning() bool  { return s.inner.IsRunning() }
func (s *Supervisor) Status() Status   { return s.inner.Status() }
func (s *Supervisor) Port() int        { return s.inner.Port() }
func (s *Supervisor) CurrentState() State { return s.inner.State() }

// WaitReady polls the dashboard until it answers HTTP or timeout elapses.
func (s *Supervisor) WaitReady(ctx context.Context, timeout time.Duration) bool {
	return daemon.WaitReady(ctx, s.inner.Port(), timeout)
}

// LoadConfig reads the TOML config at path (or the default location when
// path is empty) on top of built-in defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// OpenStore opens the configured event store. A disabled store returns
// (nil, nil).
func OpenStore(c store.Config) (store.Store, error) { return store.Open(c) }

// RegisterMetrics registers all collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error { return metrics.Register(reg) }

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// APIHandler returns the control API as an embeddable http.Handler.
func APIHandler(s *Supervisor, upd *updater.Updater, st store.Store, basePath string) http.Handler {
	return iapi.NewRouter(s.inner, upd, st, basePath).Handler()
}
