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

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidwatch",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of child starts that survived the grace window.",
		}, []string{"name"},
	)
	processStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidwatch",
			Subsystem: "process",
			Name:      "start_failures_total",
			Help:      "Number of child starts that exited inside the grace window.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidwatch",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops, labeled by how the child ended.",
		}, []string{"name", "mode"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidwatch",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of stop-then-start restarts.",
		}, []string{"name"},
	)
	processUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tidwatch",
			Subsystem: "process",
			Name:      "up",
			Help:      "1 while the supervised child is running.",
		}, []string{"name"},
	)
	watchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidwatch",
			Subsystem: "watch",
			Name:      "events_total",
			Help:      "Filesystem events received, labeled by kind and outcome.",
		}, []string{"kind", "outcome"},
	)
)

// Stop modes.
const (
	StopGraceful = "graceful"
	StopKilled   = "killed"
	StopGone     = "gone"
)

// Event outcomes.
const (
	OutcomeFiltered  = "filtered"
	OutcomeDebounced = "debounced"
	OutcomeTriggered = "triggered"
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStartFailures, processStops, processRestarts, processUp, watchEvents}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
		processUp.WithLabelValues(name).Set(1)
	}
}

func IncStartFailure(name string) {
	if regOK.Load() {
		processStartFailures.WithLabelValues(name).Inc()
		processUp.WithLabelValues(name).Set(0)
	}
}

func IncStop(name, mode string) {
	if regOK.Load() {
		processStops.WithLabelValues(name, mode).Inc()
		processUp.WithLabelValues(name).Set(0)
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func IncEvent(kind, outcome string) {
	if regOK.Load() {
		watchEvents.WithLabelValues(kind, outcome).Inc()
	}
}
