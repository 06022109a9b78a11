package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apidelta_surface_cache_hits_total",
		Help: "Number of in-memory hits with a matching freshness token",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apidelta_surface_cache_misses_total",
		Help: "Number of in-memory misses, including stale entries",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apidelta_surface_cache_evictions_total",
		Help: "Number of entries evicted by the LRU policy",
	})

	cacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apidelta_surface_cache_invalidations_total",
		Help: "Number of entries discarded, by reason",
	}, []string{"reason"})

	cacheComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apidelta_surface_cache_computations_total",
		Help: "Number of surface extractions run by the cache, by outcome",
	}, []string{"outcome"})

	computeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apidelta_surface_cache_compute_duration_seconds",
		Help:    "Time spent extracting a surface on a miss",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	storeHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apidelta_surface_store_hits_total",
		Help: "Number of misses served from the persistent store",
	})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apidelta_surface_store_errors_total",
		Help: "Persistent store failures, by operation",
	}, []string{"op"})
)
