package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IDsAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_ids_allocated_total",
			Help: "Total number of identifiers allocated",
		},
		[]string{"entity_type"},
	)

	IDAllocationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_id_allocation_errors_total",
			Help: "Total number of failed identifier allocations",
		},
		[]string{"reason"},
	)

	// TransitionsApplied is labelled by machine key and result (applied, noop, rejected).
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_transitions_total",
			Help: "Total number of state transitions evaluated",
		},
		[]string{"machine", "result"},
	)

	ShadowedEdges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_shadowed_edges_total",
			Help: "Transition edges ignored because an earlier edge has the same from/action pair",
		},
		[]string{"machine"},
	)

	// CacheInvalidations is labelled by result (ok, error, dropped, empty).
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_cache_invalidations_total",
			Help: "Total number of cache invalidation flushes",
		},
		[]string{"entity_type", "result"},
	)

	CacheEvictionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_cache_eviction_failures_total",
			Help: "Total number of failed cache eviction calls",
		},
	)

	CacheEvictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entitycore_cache_eviction_duration_seconds",
			Help:    "Time taken by cache eviction calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	UnresolvedTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_invalidation_unresolved_triggers_total",
			Help: "Triggers registered without an entity type; they can never be flushed",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_cache_hits_total",
			Help: "Total number of query cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_cache_misses_total",
			Help: "Total number of query cache misses",
		},
		[]string{"backend"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_cache_errors_total",
			Help: "Total number of query cache errors",
		},
		[]string{"backend", "op"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitycore_worker_pool_active_workers",
			Help: "Number of running workers per pool (-1 after a failed shutdown)",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitycore_worker_pool_queue_size",
			Help: "Number of tasks waiting in the pool queue",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by the pool",
		},
		[]string{"pool"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitycore_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"name"},
	)

	// APIRequests is labelled by route template, method and status code.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitycore_api_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "method", "code"},
	)

	APIRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitycore_api_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)
)
