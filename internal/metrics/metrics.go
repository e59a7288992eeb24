// Package metrics exposes Prometheus collectors for the coordinator.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal          *prometheus.CounterVec
	collectorCalls     *prometheus.CounterVec
	reconcileDecisions *prometheus.CounterVec
	pollRounds         prometheus.Histogram
	pollDuration       prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_jobs_total",
				Help: "Jobs reaching a terminal status, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		collectorCalls = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_collector_calls_total",
				Help: "Collector API calls, labeled by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		)

		reconcileDecisions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_reconcile_decisions_total",
				Help: "Reconciliation decisions, labeled by operation and action.",
			},
			[]string{"operation", "action"},
		)

		pollRounds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_poll_rounds",
			Help:    "Status-poll rounds consumed per executed job.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		})

		pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_poll_duration_seconds",
			Help:    "Wall time spent polling per executed job.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		})
	})
}

// RecordJobOutcome counts a job reaching a terminal status.
func RecordJobOutcome(platform, outcome string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(platform, outcome).Inc()
}

// RecordCollectorCall counts one collector API call.
func RecordCollectorCall(endpoint, result string) {
	if collectorCalls == nil {
		return
	}
	collectorCalls.WithLabelValues(endpoint, result).Inc()
}

// RecordReconcileDecision counts one reconciliation decision.
func RecordReconcileDecision(operation, action string) {
	if reconcileDecisions == nil {
		return
	}
	reconcileDecisions.WithLabelValues(operation, action).Inc()
}

// RecordPoll observes one completed poll loop.
func RecordPoll(rounds int, dur time.Duration) {
	if pollRounds == nil {
		return
	}
	pollRounds.Observe(float64(rounds))
	pollDuration.Observe(dur.Seconds())
}
