// Package metrics holds the Prometheus collectors of the session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts Start calls by outcome: created or resumed.
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_sessions_started_total",
			Help: "Total number of exam sessions started or resumed",
		},
		[]string{"outcome"},
	)

	// SessionsSubmitted counts accepted submissions by trigger: MANUAL or TIMEOUT.
	SessionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_sessions_submitted_total",
			Help: "Total number of exam sessions submitted",
		},
		[]string{"trigger"},
	)

	// SubmitRejected counts submissions refused because the session was
	// already closed.
	SubmitRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_submit_rejected_total",
			Help: "Total number of submissions rejected as already submitted",
		},
	)

	// SubmitDuration is the time spent in the submission coordinator.
	SubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_submit_duration_seconds",
			Help:    "Time spent locking, scoring and persisting a submission",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ScorePercentage is the distribution of final percentages.
	ScorePercentage = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exam_score_percentage",
			Help:    "Distribution of submitted session percentages",
			Buckets: prometheus.LinearBuckets(-20, 10, 13),
		},
	)

	// SessionOperations counts session mutations by operation and status.
	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_session_operations_total",
			Help: "Total number of session operations",
		},
		[]string{"operation", "status"},
	)

	// ActiveCountdowns is the number of countdowns running in this process.
	ActiveCountdowns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_active_countdowns_current",
			Help: "Current number of session countdowns running in this process",
		},
	)

	// WorkerFlushes counts worker batch flushes by worker and result.
	WorkerFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_worker_flushes_total",
			Help: "Total number of worker batch flushes",
		},
		[]string{"worker", "result"},
	)
)
