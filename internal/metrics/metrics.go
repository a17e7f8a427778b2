// Package metrics defines the Prometheus instrumentation for the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection registry metrics
var (
	// RegistryActiveConnections tracks the current number of live connections
	RegistryActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_connections",
			Help: "Current number of live connections in the registry",
		},
	)

	// RegistryConnectionsTotal tracks connection adds by outcome
	RegistryConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_connections_total",
			Help: "Connection registration attempts by outcome (accepted/limit_reached/addr_limit_reached)",
		},
		[]string{"outcome"},
	)

	// RegistryIdleCleanups tracks connections removed by the idle sweep
	RegistryIdleCleanups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_idle_cleanups_total",
			Help: "Connections removed by the idle cleanup sweep",
		},
	)

	// RegistryRateLimited tracks per-connection rate limit rejections
	RegistryRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_rate_limited_total",
			Help: "Messages rejected by the per-connection rate limiter",
		},
	)
)

// Broadcast engine metrics
var (
	// BroadcastQueueDepth tracks current queue depth per priority tier
	BroadcastQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broadcast_queue_depth",
			Help: "Current broadcast queue depth by priority tier",
		},
		[]string{"priority"},
	)

	// BroadcastsTotal tracks broadcast messages created by target kind
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcasts_total",
			Help: "Broadcast messages created by target kind",
		},
		[]string{"target"},
	)

	// BroadcastDeliveriesTotal tracks per-target delivery results
	BroadcastDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Per-target delivery results (delivered/failed)",
		},
		[]string{"status"},
	)

	// BroadcastRetriesTotal tracks re-enqueued dispatch passes
	BroadcastRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_retries_total",
			Help: "Broadcast messages re-enqueued for another dispatch pass",
		},
	)

	// BroadcastThrottledTotal tracks dispatch passes skipped by the global throttle
	BroadcastThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_throttled_total",
			Help: "Dispatch passes skipped by the global broadcast rate limiter",
		},
	)

	// BroadcastDispatchDuration tracks dispatch pass latency in seconds
	BroadcastDispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_dispatch_duration_seconds",
			Help:    "Duration of a single broadcast dispatch pass",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// BroadcastPanicsTotal tracks dispatch loop panic recoveries
	BroadcastPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_panics_total",
			Help: "Broadcast dispatch loop panic recoveries",
		},
	)
)

// Resilience metrics
var (
	// CircuitBreakerState tracks current breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	// CircuitBreakerStateChanges tracks breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by service and new state",
		},
		[]string{"service", "state"},
	)

	// ErrorsClassifiedTotal tracks classified errors by category and severity
	ErrorsClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_classified_total",
			Help: "Errors routed through the resilience layer by category and severity",
		},
		[]string{"category", "severity"},
	)
)

// Status monitor metrics
var (
	// MonitorComponentHealthy tracks per-component health (1=healthy, 0=unhealthy)
	MonitorComponentHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_component_healthy",
			Help: "Component health as observed by the status monitor",
		},
		[]string{"component"},
	)

	// MonitorAlertsTotal tracks raised alerts by severity
	MonitorAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_alerts_total",
			Help: "Threshold alerts raised by severity",
		},
		[]string{"severity"},
	)
)

// External store metrics
var (
	// StoreOpsTotal tracks store operations by operation and status
	StoreOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "External store operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// StoreFallbackServes tracks reads served from the fallback cache
	StoreFallbackServes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_fallback_serves_total",
			Help: "Reads served from the fallback cache while the circuit is open",
		},
	)
)
