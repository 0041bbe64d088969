package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "layer_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "layer_cache_misses_total",
		Help: "Total number of cache misses",
	})

	CacheStores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "layer_cache_stores_total",
		Help: "Total number of cache store operations",
	})

	CacheStaleServes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "layer_cache_stale_serves_total",
		Help: "Total number of expired entries served as failure fallback",
	})

	UpstreamCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_call_duration_seconds",
		Help:    "Duration of upstream compute calls in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"endpoint"})

	UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_retries_total",
		Help: "Total number of retried upstream attempts",
	}, []string{"endpoint"})

	CircuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_transitions_total",
		Help: "Total number of circuit breaker state transitions",
	}, []string{"endpoint", "state"})

	CircuitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_rejections_total",
		Help: "Total number of calls rejected by an open circuit",
	}, []string{"endpoint"})

	CoordinatorDedups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_dedup_joins_total",
		Help: "Total number of callers attached to an already in-flight request",
	})

	SnapshotFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_snapshot_flushes_total",
		Help: "Total number of debounced session snapshot writes",
	})
)
