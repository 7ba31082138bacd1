// Package metrics defines the internal Prometheus counters, gauges, and
// histograms recorded by the embedding pipeline. No HTTP handler is wired
// here: exposing a /metrics endpoint is part of the admin surface spec.md
// §1 places out of scope. Components record directly against the package
// vars, mirroring original_source/src/metrics.rs's `embed_star_*` naming
// and the package-level prometheus.New* pattern used in etalazz-vsa's
// churn telemetry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EmbeddingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_star_embeddings_total",
		Help: "Total embeddings successfully generated, validated, and staged for write-back.",
	}, []string{"provider", "model"})

	EmbeddingsErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_star_embeddings_errors_total",
		Help: "Total embedding generation errors by provider and error kind.",
	}, []string{"provider", "kind"})

	EmbeddingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "embed_star_embedding_duration_seconds",
		Help:    "Duration of a single embedder.Generate call.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	EmbeddingValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_star_embedding_validations_total",
		Help: "Total validation outcomes by result (pass/fail).",
	}, []string{"result"})

	ReposPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "embed_star_repos_pending",
		Help: "Repositories currently matching the needs-embedding predicate.",
	})

	ReposProcessed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "embed_star_repos_processed",
		Help: "Repositories with a current embedding.",
	})

	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_star_provider_requests_total",
		Help: "Total provider requests by provider and outcome (success/failure).",
	}, []string{"provider", "outcome"})

	RateLimitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_star_rate_limits_total",
		Help: "Total requests rejected or delayed by the rate limiter, by provider.",
	}, []string{"provider"})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "embed_star_active_connections",
		Help: "Connections currently checked out of the pool.",
	})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "embed_star_circuit_breaker_state",
		Help: "Circuit breaker state per service: 0=closed, 1=open, 2=half_open.",
	}, []string{"service"})

	RetryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_star_retry_attempts_total",
		Help: "Total retry attempts by operation and layer (inner/outer).",
	}, []string{"operation", "layer"})

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "embed_star_cache_requests_total",
		Help: "Total cache lookups by outcome (hit/miss).",
	}, []string{"outcome"})

	LocksHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "embed_star_locks_held",
		Help: "Processing locks currently held by this instance.",
	})
)

func init() {
	prometheus.MustRegister(
		EmbeddingsTotal, EmbeddingsErrors, EmbeddingDuration, EmbeddingValidations,
		ReposPending, ReposProcessed, ProviderRequests, RateLimitsTotal,
		ActiveConnections, CircuitBreakerState, RetryAttempts, CacheHits, LocksHeld,
	)
}

// BreakerStateValue maps a breaker state name to the numeric gauge value
// used by original_source/src/metrics.rs (0=closed, 1=open, 2=half_open).
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}
