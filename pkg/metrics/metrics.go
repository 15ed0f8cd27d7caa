// Package metrics provides Prometheus-based metrics for scheduler activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records scheduler and session metrics.
type Recorder struct {
	dispatchesTotal  *prometheus.CounterVec
	dispatchErrors   prometheus.Counter
	sessionOutcomes  *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionDuration  prometheus.Histogram
	concurrencyLimit prometheus.Gauge
}

// NewRecorder creates a Recorder registered against the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a throwaway
// registry so repeated construction does not collide.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		dispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_dispatches_total",
				Help: "Total number of feature dispatches by priority bucket",
			},
			[]string{"priority"},
		),
		dispatchErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conductor_dispatch_errors_total",
				Help: "Total number of dispatches reverted due to store or runner errors",
			},
		),
		sessionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_session_outcomes_total",
				Help: "Total number of finished agent sessions by outcome",
			},
			[]string{"outcome"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_sessions_active",
				Help: "Number of agent sessions currently running",
			},
		),
		sessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conductor_session_duration_seconds",
				Help:    "Duration of agent sessions in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		concurrencyLimit: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_concurrency_limit",
				Help: "Configured maximum number of concurrent agent sessions",
			},
		),
	}
}

// ObserveDispatch records a successful dispatch.
func (r *Recorder) ObserveDispatch(priority int) {
	r.dispatchesTotal.WithLabelValues(priorityBucket(priority)).Inc()
	r.sessionsActive.Inc()
}

// ObserveDispatchError records a dispatch that was reverted.
func (r *Recorder) ObserveDispatchError() {
	r.dispatchErrors.Inc()
}

// ObserveSessionEnd records a finished session and its duration.
func (r *Recorder) ObserveSessionEnd(success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.sessionOutcomes.WithLabelValues(outcome).Inc()
	r.sessionsActive.Dec()
	r.sessionDuration.Observe(duration.Seconds())
}

// SetConcurrencyLimit records the configured session limit.
func (r *Recorder) SetConcurrencyLimit(limit int) {
	r.concurrencyLimit.Set(float64(limit))
}

func priorityBucket(priority int) string {
	switch {
	case priority <= 0:
		return "critical"
	case priority <= 2:
		return "high"
	case priority <= 5:
		return "normal"
	default:
		return "low"
	}
}
