// Package metrics exposes Prometheus collectors for the fault pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FaultsLogged tracks faults accepted by the log sink.
	FaultsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_faults_logged_total",
			Help: "Total number of faults logged",
		},
		[]string{"severity", "category", "module"},
	)

	// FlushFailures tracks failed flushes to persistent storage or the
	// external endpoint.
	FlushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_flush_failures_total",
			Help: "Total number of failed log flushes",
		},
		[]string{"target"},
	)

	// BufferSize tracks the current number of unflushed log entries.
	BufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_log_buffer_size",
			Help: "Current number of buffered log entries",
		},
	)

	// NotificationsSent tracks delivery attempts by channel and result.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_notifications_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"channel", "status"},
	)

	// RateLimited tracks notification passes rejected by the hourly limit.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_notifications_rate_limited_total",
			Help: "Total number of rate-limited notification passes",
		},
	)

	// BatchesFlushed tracks flushed notification batches by trigger.
	BatchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_batches_flushed_total",
			Help: "Total number of flushed notification batches",
		},
		[]string{"trigger"},
	)

	// PendingBatches tracks batches waiting for their scheduled send time.
	PendingBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultline_pending_batches",
			Help: "Current number of pending notification batches",
		},
	)

	// RecoveryAttempts tracks recovery invocations by outcome.
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_recovery_attempts_total",
			Help: "Total number of recovery strategy invocations",
		},
		[]string{"code", "outcome"},
	)

	// RetryAttempts tracks operation retries by the retry collaborator.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_retry_attempts_total",
			Help: "Total number of operation retry attempts",
		},
		[]string{"operation"},
	)

	// BreakerState tracks circuit breaker state per operation
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultline_breaker_state",
			Help: "Circuit breaker state per operation (0 closed, 1 half-open, 2 open)",
		},
		[]string{"operation"},
	)
)
