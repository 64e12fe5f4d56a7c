// Package health implements the health/metrics HTTP surface: a liveness
// endpoint backed by Lifecycle.Healthy and a Prometheus registry of the
// Attempt Executor's and Consumer Loop's outcome counters.
package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters the Attempt Executor and Consumer Loop
// update and the Health/Metrics Surface exposes at /metrics.
type Metrics struct {
	sent         prometheus.Counter
	transient    prometheus.Counter
	permanent    prometheus.Counter
	deadLettered prometheus.Counter
	reclaimed    prometheus.Counter
	retryDelay   prometheus.Histogram
}

// NewMetrics builds and registers the counters against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailer_sent_total",
			Help: "Total number of messages successfully delivered via SMTP.",
		}),
		transient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailer_transient_failures_total",
			Help: "Total number of attempts that failed transiently (re-enqueued for retry, or dead-lettered once retries are exhausted).",
		}),
		permanent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailer_permanent_failures_total",
			Help: "Total number of attempts that failed permanently (render or send).",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailer_dead_lettered_total",
			Help: "Total number of messages appended to the dead-letter sink.",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailer_reclaimed_total",
			Help: "Total number of stalled entries reassigned via auto-claim on startup.",
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailer_retry_delay_seconds",
			Help:    "Distribution of the computed per-attempt retry delay.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		}),
	}
	reg.MustRegister(m.sent, m.transient, m.permanent, m.deadLettered, m.reclaimed, m.retryDelay)
	return m
}

// IncSent implements executor.Metrics.
func (m *Metrics) IncSent() { m.sent.Inc() }

// IncTransient implements executor.Metrics.
func (m *Metrics) IncTransient() { m.transient.Inc() }

// IncPermanent implements executor.Metrics.
func (m *Metrics) IncPermanent() { m.permanent.Inc() }

// IncDeadLettered implements executor.Metrics.
func (m *Metrics) IncDeadLettered() { m.deadLettered.Inc() }

// IncReclaimed records one stalled entry reassigned by the Consumer Loop's
// startup auto-claim step.
func (m *Metrics) IncReclaimed() { m.reclaimed.Inc() }

// ObserveRetryDelay records the computed per-attempt delay in seconds.
func (m *Metrics) ObserveRetryDelay(seconds float64) { m.retryDelay.Observe(seconds) }
