// Package metrics defines the Prometheus instrumentation for the token
// rotation subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rotation metrics
var (
	// RotationsTotal tracks rotation attempts by provider and outcome
	// (rotated, fresh, locked, failed).
	RotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_rotations_total",
			Help: "Token rotation attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// RotationLostWrites tracks rotations where the provider issued new
	// tokens but the store write was lost to cancellation or a conflict.
	RotationLostWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_rotation_lost_writes_total",
			Help: "Rotations where new provider tokens could not be persisted",
		},
		[]string{"provider"},
	)

	// SweepRecordsTotal tracks bulk-sweep record outcomes.
	SweepRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_sweep_records_total",
			Help: "Bulk rotation sweep records by status",
		},
		[]string{"status"},
	)

	// MigrationRecordsTotal tracks plaintext-to-envelope migration outcomes.
	MigrationRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_migration_records_total",
			Help: "Token encryption migration records by status",
		},
		[]string{"status"},
	)
)

// Provider metrics
var (
	// ProviderRefreshesTotal tracks OAuth refresh calls by provider and result.
	ProviderRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_token_refreshes_total",
			Help: "OAuth refresh-token grants by provider and result",
		},
		[]string{"provider", "result"},
	)

	// ProviderRefreshDuration tracks refresh-call latency in seconds.
	ProviderRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_token_refresh_duration_seconds",
			Help:    "OAuth refresh-token grant duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
