package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	PagesIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pages_indexed_total",
			Help: "Total number of index requests by outcome.",
		},
		[]string{"status"},
	)

	SearchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "searches_total",
			Help: "Total number of search requests.",
		},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "Duration of search requests.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	EnrichmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_total",
			Help: "Total number of enrichment attempts by outcome.",
		},
		[]string{"kind", "status"},
	)

	PagesEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pages_evicted_total",
			Help: "Total number of pages removed by eviction.",
		},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "query_cache_hits_total",
			Help: "Query embedding cache hits.",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "query_cache_misses_total",
			Help: "Query embedding cache misses.",
		},
	)

	IndexedPages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexed_pages",
			Help: "Current number of pages in the document store.",
		},
	)

	VectorCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vector_index_size",
			Help: "Current number of vectors in the in-memory index.",
		},
	)
)
