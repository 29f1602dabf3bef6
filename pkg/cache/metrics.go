package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, store)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drf_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks keys that required a new producer execution
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drf_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	// CacheJoins tracks callers attached to an in-flight execution
	CacheJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drf_cache_joins_total",
			Help: "Total number of calls de-duplicated onto an in-flight execution",
		},
	)

	// CacheProducerErrors tracks executions that ended in the errored state
	CacheProducerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drf_cache_producer_errors_total",
			Help: "Total number of producer executions that failed",
		},
	)

	// CacheEntries tracks the number of keys held by bindings
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drf_cache_entries",
			Help: "Current number of cached keys",
		},
	)

	// CacheStoreErrors tracks second-level store errors
	CacheStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drf_cache_store_errors_total",
			Help: "Total number of second-level store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
