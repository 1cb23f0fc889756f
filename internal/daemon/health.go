package daemon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"esphomed/internal/metrics"
)

const (
	defaultHealthInterval = 30 * time.Second
	defaultProbeTimeout   = 5 * time.Second

	readyPollInterval = 500 * time.Millisecond
	// DefaultReadyTimeout bounds how long WaitReady polls for the
	// dashboard to start answering HTTP.
	DefaultReadyTimeout = 60 * time.Second
)

// HealthConfig tunes the periodic liveness probe against the dashboard's
// HTTP endpoint.
type HealthConfig struct {
	Disabled bool          `mapstructure:"disabled"`
	Interval time.Duration `mapstructure:"interval"` // defaultHealthInterval when zero
	Timeout  time.Duration `mapstructure:"timeout"`  // defaultProbeTimeout when zero
}

func (h HealthConfig) interval() time.Duration {
	if h.Interval > 0 {
		return h.Interval
	}
	return defaultHealthInterval
}

func (h HealthConfig) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return defaultProbeTimeout
}

// monitor probes the dashboard on a fixed interval until the context is
// cancelled or the running flag drops. A failed probe is only logged;
// restart decisions stay with the operator.
func (d *Daemon) monitor(ctx context.Context) {
	client := &http.Client{Timeout: d.cfg.Health.timeout()}
	url := dashboardURL(d.cfg.Port)
	t := time.NewTicker(d.cfg.Health.interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !d.running.Load() {
			return
		}
		ok, err := probe(ctx, client, url)
		metrics.IncHealthProbe(ok)
		switch {
		case ok:
			d.log.Debug("dashboard health ok", "url", url)
		case err != nil:
			d.log.Warn("dashboard health probe failed", "url", url, "err", err)
		default:
			d.log.Warn("dashboard responded unhealthy", "url", url)
		}
	}
}

// WaitReady polls the dashboard endpoint until it answers HTTP or the
// timeout elapses. Used after start to gate browser opening.
func WaitReady(ctx context.Context, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	return waitReadyURL(ctx, dashboardURL(port), timeout, readyPollInterval)
}

func waitReadyURL(ctx context.Context, url string, timeout, poll time.Duration) bool {
	client := &http.Client{Timeout: defaultProbeTimeout}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok, _ := probe(ctx, client, url); ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
	return false
}

// probe issues a GET and reports whether the response was a 2xx. Any
// status at all means the process is alive, but only a healthy status
// counts as ready.
func probe(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func dashboardURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/", port)
}
