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

	deployRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "runs_total",
			Help:      "Number of deploy runs by result.",
		}, []string{"result"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "phase_duration_seconds",
			Help:      "Duration of the stop/update/start/confirm phases.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"},
	)
	phaseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "phase_failures_total",
			Help:      "Number of failed deploy phases.",
		}, []string{"phase"},
	)
	strayKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "redeployr",
			Subsystem: "deploy",
			Name:      "stray_kills_total",
			Help:      "Number of stray worker processes killed by the pattern sweep.",
		},
	)
	workerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "redeployr",
			Subsystem: "worker",
			Name:      "up",
			Help:      "Whether the managed worker is running (1) or not (0).",
		}, []string{"worker"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{deployRuns, phaseDuration, phaseFailures, strayKills, workerUp}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncDeploy(result string) {
	if regOK.Load() {
		deployRuns.WithLabelValues(result).Inc()
	}
}

func ObservePhaseDuration(phase string, seconds float64) {
	if regOK.Load() {
		phaseDuration.WithLabelValues(phase).Observe(seconds)
	}
}

func IncPhaseFailure(phase string) {
	if regOK.Load() {
		phaseFailures.WithLabelValues(phase).Inc()
	}
}

func IncStrayKill() {
	if regOK.Load() {
		strayKills.Inc()
	}
}

func SetWorkerUp(worker string, up bool) {
	if regOK.Load() {
		var value float64
		if up {
			value = 1
		}
		workerUp.WithLabelValues(worker).Set(value)
	}
}
