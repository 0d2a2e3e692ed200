package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerTransitions tracks circuit breaker state changes.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	// BreakerShortCircuits tracks calls rejected without invoking the operation.
	BreakerShortCircuits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_breaker_short_circuits_total",
			Help: "Total number of short-circuited calls",
		},
		[]string{"breaker", "fallback"},
	)

	// RetryAttempts tracks retry engine attempts per policy and outcome.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"policy", "outcome"},
	)

	// RetryOperations tracks completed operations per policy.
	RetryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_retry_operations_total",
			Help: "Total number of operations run under a retry policy",
		},
		[]string{"policy", "result"},
	)

	// QueueDepth tracks the number of deferred actions awaiting replay.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegis_queue_depth",
			Help: "Number of deferred actions awaiting replay",
		},
		[]string{"queue"},
	)

	// QueueReplays tracks drain outcomes.
	QueueReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_queue_replays_total",
			Help: "Total number of deferred action replays",
		},
		[]string{"queue", "result"},
	)

	// Faults tracks classified faults reaching a boundary or the global hook.
	Faults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_faults_total",
			Help: "Total number of classified faults",
		},
		[]string{"kind", "severity", "source"},
	)

	// StorageFallbacks tracks swallowed storage-layer failures.
	StorageFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_storage_fallbacks_total",
			Help: "Total number of storage operations degraded to a no-op",
		},
		[]string{"scope", "op"},
	)
)
