package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copov_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// PermissionChecks counts permission evaluations by action and outcome (allowed|denied|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copov_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"action", "result"},
	)

	// PermissionCacheHits counts decision cache lookups by result (hit|miss).
	PermissionCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copov_permission_cache_lookups_total",
			Help: "Permission cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	// ActiveRefreshTokens tracks refresh tokens that are neither expired nor revoked.
	ActiveRefreshTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "copov_active_refresh_tokens",
			Help: "Number of active refresh tokens",
		},
	)

	// StatusTransitions counts PoV lifecycle transitions by target status and outcome.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copov_status_transitions_total",
			Help: "Total number of PoV status transition attempts",
		},
		[]string{"to", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copov_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
