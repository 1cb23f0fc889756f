package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	daemonStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "esphomed",
			Subsystem: "daemon",
			Name:      "starts_total",
			Help:      "Number of successful dashboard starts.",
		},
	)
	daemonStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "esphomed",
			Subsystem: "daemon",
			Name:      "stops_total",
			Help:      "Number of dashboard stops (graceful or kill).",
		},
	)
	daemonRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "esphomed",
			Subsystem: "daemon",
			Name:      "restarts_total",
			Help:      "Number of dashboard restarts.",
		},
	)
	daemonState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "esphomed",
			Subsystem: "daemon",
			Name:      "state",
			Help:      "Current daemon state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	healthProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "esphomed",
			Subsystem: "daemon",
			Name:      "health_probes_total",
			Help:      "Health probe outcomes against the dashboard endpoint.",
		}, []string{"result"},
	)
	updateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "esphomed",
			Subsystem: "update",
			Name:      "checks_total",
			Help:      "Update check outcomes.",
		}, []string{"outcome"},
	)
	updateInstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "esphomed",
			Subsystem: "update",
			Name:      "installs_total",
			Help:      "Update install outcomes.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{daemonStarts, daemonStops, daemonRestarts, daemonState, healthProbes, updateChecks, updateInstalls}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers with the prometheus default registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler serving the DefaultGatherer. The caller
// wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart() {
	if regOK.Load() {
		daemonStarts.Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		daemonStops.Inc()
	}
}

func IncRestart() {
	if regOK.Load() {
		daemonRestarts.Inc()
	}
}

// SetState marks state as the single active daemon state.
func SetState(state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		daemonState.WithLabelValues(s).Set(v)
	}
}

func IncHealthProbe(ok bool) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if !ok {
		result = "fail"
	}
	healthProbes.WithLabelValues(result).Inc()
}

func IncUpdateCheck(outcome string)   { incVec(updateChecks, outcome) }
func IncUpdateInstall(outcome string) { incVec(updateInstalls, outcome) }

func incVec(v *prometheus.CounterVec, label string) {
	if regOK.Load() {
		v.WithLabelValues(label).Inc()
	}
}
