// Package metrics exposes Prometheus collectors for the geocoding pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup outcomes.
const (
	OutcomeMatch           = "match"
	OutcomeEmpty           = "empty"
	OutcomeUnexpectedShape = "unexpected_shape"
)

var (
	lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_lookups_total",
			Help: "Provider lookups by outcome.",
		},
		[]string{"outcome", "source"},
	)

	providerLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geocode_provider_latency_seconds",
			Help:    "Latency of provider HTTP calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_cache_results_total",
			Help: "Cache gateway results by operation and outcome.",
		},
		[]string{"backend", "op", "outcome"},
	)

	countiesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geocode_counties_created_total",
			Help: "County records created while resolving provider responses.",
		},
	)

	enrichments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_enrichments_total",
			Help: "Address enrichments by result.",
		},
		[]string{"result"},
	)

	breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geocode_provider_circuit_state",
			Help: "Provider circuit breaker state: 0 closed, 1 open, 2 half-open.",
		},
	)
)

// ObserveLookup counts a lookup. source is "network" or "cache".
func ObserveLookup(outcome, source string) {
	lookups.WithLabelValues(outcome, source).Inc()
}

// ObserveProviderLatency records one provider round trip.
func ObserveProviderLatency(seconds float64) {
	providerLatency.Observe(seconds)
}

// ObserveCache counts one cache operation.
func ObserveCache(backend, op, outcome string) {
	cacheResults.WithLabelValues(backend, op, outcome).Inc()
}

// IncCountiesCreated counts a newly created county.
func IncCountiesCreated() {
	countiesCreated.Inc()
}

// ObserveEnrichment counts an enrichment by result ("geocoded", "failed",
// "no_data", "error").
func ObserveEnrichment(result string) {
	enrichments.WithLabelValues(result).Inc()
}

// SetCircuitState records the provider circuit breaker state.
func SetCircuitState(state int) {
	breakerState.Set(float64(state))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
