// Package telemetry holds the prometheus collectors shared across the
// service. Counters live in the default registry; the HTTP surface mounts
// the standard handler on /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_cache_hits_total",
		Help: "Cache hits per cache.",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_cache_misses_total",
		Help: "Cache misses per cache.",
	}, []string{"cache"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_cache_evictions_total",
		Help: "Cache evictions per cache and reason (expired, lru, pressure).",
	}, []string{"cache", "reason"})

	StoreLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_store_lookups_total",
		Help: "Snapshot store lookups per store and outcome (hit, empty, error).",
	}, []string{"store", "outcome"})

	ExhaustedSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_store_exhausted_skips_total",
		Help: "Lookups short-circuited because the store was marked exhausted for the id.",
	}, []string{"store"})

	AggregatorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_aggregator_requests_total",
		Help: "Remote aggregator requests per language configuration and outcome.",
	}, []string{"language", "outcome"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_provider_requests_total",
		Help: "Scraping provider requests per provider and outcome (success, error, ratelimited).",
	}, []string{"provider", "outcome"})

	StreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torrentera_stream_requests_total",
		Help: "Stream pipeline requests per content type and outcome.",
	}, []string{"type", "outcome"})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
