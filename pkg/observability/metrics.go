package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every Prometheus metric the platform exposes. Each
// Collector owns its own registry so parallel tests never collide on
// duplicate registration.
type Collector struct {
	registry *prometheus.Registry

	// Indexing pipeline
	IndexRequests      *prometheus.CounterVec
	IndexStageDuration *prometheus.HistogramVec
	DocumentsDeduped   prometheus.Counter
	ChunksWritten      prometheus.Counter
	EntitiesMerged     prometheus.Counter

	// Embedding client
	EmbeddingRequests *prometheus.CounterVec
	EmbeddingDuration prometheus.Histogram
	EmbeddingInflight prometheus.Gauge

	// Search aggregator
	SearchRequests       *prometheus.CounterVec
	SearchDuration       *prometheus.HistogramVec
	SearchSourceFailures *prometheus.CounterVec

	// Event transport
	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec

	// Worker pool
	PoolTasks      *prometheus.CounterVec
	PoolQueueDepth prometheus.Gauge

	// Stores and HTTP surface
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewCollector creates a metrics collector with a fresh registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		IndexRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_requests_total",
				Help:      "Indexing requests by terminal outcome",
			},
			[]string{"outcome"},
		),
		IndexStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_stage_duration_seconds",
				Help:      "Duration of each indexing pipeline stage",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		DocumentsDeduped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_deduplicated_total",
				Help:      "Documents skipped because their content hash was already indexed",
			},
		),
		ChunksWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_written_total",
				Help:      "Chunk points upserted into the vector store",
			},
		),
		EntitiesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_merged_total",
				Help:      "Entity nodes merged into the graph store",
			},
		),

		EmbeddingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Embedding provider calls by status",
			},
			[]string{"status"},
		),
		EmbeddingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embedding_request_duration_seconds",
				Help:      "Embedding provider round-trip duration",
				Buckets:   prometheus.DefBuckets,
			},
		),
		EmbeddingInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "embedding_inflight_requests",
				Help:      "Embedding calls currently holding a concurrency slot",
			},
		),

		SearchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_requests_total",
				Help:      "Search requests by mode",
			},
			[]string{"mode"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "End-to-end search duration by mode",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		SearchSourceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_source_failures_total",
				Help:      "Search source failures tolerated by the aggregator",
			},
			[]string{"source"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Events published by topic",
			},
			[]string{"topic"},
		),
		EventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Events consumed by topic and handling status",
			},
			[]string{"topic", "status"},
		),

		PoolTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_tasks_total",
				Help:      "Worker pool tasks by terminal status",
			},
			[]string{"status"},
		),
		PoolQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_queue_depth",
				Help:      "Tasks waiting in the worker pool queue",
			},
		),

		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Backend store operations by store and status",
			},
			[]string{"store", "operation", "status"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Backend store operation duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store", "operation"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.IndexRequests,
		c.IndexStageDuration,
		c.DocumentsDeduped,
		c.ChunksWritten,
		c.EntitiesMerged,
		c.EmbeddingRequests,
		c.EmbeddingDuration,
		c.EmbeddingInflight,
		c.SearchRequests,
		c.SearchDuration,
		c.SearchSourceFailures,
		c.EventsPublished,
		c.EventsConsumed,
		c.PoolTasks,
		c.PoolQueueDepth,
		c.StoreOperations,
		c.StoreDuration,
		c.HTTPRequests,
		c.HTTPDuration,
	)

	return c
}

// ObserveStage records one pipeline stage duration.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.IndexStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveStore records one backend store call.
func (c *Collector) ObserveStore(store, operation string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.StoreOperations.WithLabelValues(store, operation, status).Inc()
	c.StoreDuration.WithLabelValues(store, operation).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the scrape endpoint handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
