// Package metrics holds the prometheus collectors of the goal graph engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "goalgraph"

var (
	// mutationDuration measures façade mutations end to end, retries included.
	// Labels: op, outcome (ok, rejected, conflict, error)
	mutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "mutation_duration_seconds",
		Help:      "Graph mutation latency in seconds",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op", "outcome"})

	// rejections counts validator rejections.
	// Labels: code (CYCLE_DETECTED, REDUNDANT_EDGE, ...)
	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rejections_total",
		Help:      "Mutations rejected by invariant validation",
	}, []string{"code"})

	// conflictRetries counts retried concurrent-mutation conflicts.
	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "conflict_retries_total",
		Help:      "Mutation attempts retried after a concurrent-mutation conflict",
	}, []string{"op"})

	// statusChanges counts automatic and manual status transitions.
	// Labels: to (todo, blocked, done, canceled)
	statusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "status_changes_total",
		Help:      "Goal status transitions made by mutations",
	}, []string{"to"})

	// storageViolations counts constraints that fired after validation passed.
	storageViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "invariant_violations_total",
		Help:      "Storage constraint violations by kind",
	}, []string{"kind"})

	// providerCalls measures embedding and summary calls.
	// Labels: kind (embed, summarize), outcome (ok, error, breaker_open)
	providerCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "call_duration_seconds",
		Help:      "Provider call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"kind", "outcome"})

	// breakerState is 0 closed, 1 half-open, 2 open.
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open",
	}, []string{"kind"})

	// refreshQueue is the number of embedding refreshes waiting for a worker.
	refreshQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "refresh_queue_length",
		Help:      "Embedding refreshes waiting for a worker",
	})

	// refreshes counts finished embedding refreshes.
	// Labels: outcome (refreshed, unchanged, error)
	refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "refreshes_total",
		Help:      "Embedding refreshes by outcome",
	}, []string{"outcome"})
)

// ObserveMutation records one façade mutation.
func ObserveMutation(op, outcome string, started time.Time) {
	mutationDuration.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
}

// IncRejection counts a validator rejection.
func IncRejection(code string) {
	rejections.WithLabelValues(code).Inc()
}

// IncConflictRetry counts a retried conflict.
func IncConflictRetry(op string) {
	conflictRetries.WithLabelValues(op).Inc()
}

// AddStatusChange counts a status transition.
func AddStatusChange(to string) {
	statusChanges.WithLabelValues(to).Inc()
}

// IncStorageViolation counts a storage invariant violation.
func IncStorageViolation(kind string) {
	storageViolations.WithLabelValues(kind).Inc()
}

// ObserveProviderCall records one provider call.
func ObserveProviderCall(kind, outcome string, started time.Time) {
	providerCalls.WithLabelValues(kind, outcome).Observe(time.Since(started).Seconds())
}

// SetBreakerState publishes the breaker state for a provider kind.
func SetBreakerState(kind string, state float64) {
	breakerState.WithLabelValues(kind).Set(state)
}

// SetRefreshQueue publishes the refresh backlog.
func SetRefreshQueue(n int) {
	refreshQueue.Set(float64(n))
}

// IncRefresh counts a finished refresh.
func IncRefresh(outcome string) {
	refreshes.WithLabelValues(outcome).Inc()
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
