package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidhost_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidhost_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidhost_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Metadata store metrics
var (
	StoreQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidhost_store_queries_total",
			Help: "Total number of metadata store operations",
		},
		[]string{"operation"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidhost_store_query_duration_seconds",
			Help:    "Metadata store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// Transcode pipeline metrics
var (
	PipelineJobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidhost_pipeline_jobs_enqueued_total",
			Help: "Total number of transcode jobs accepted onto the queue",
		},
	)

	PipelineJobsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidhost_pipeline_jobs_rejected_total",
			Help: "Total number of transcode jobs rejected (queue saturated or duplicate)",
		},
	)

	PipelineJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidhost_pipeline_jobs_completed_total",
			Help: "Total number of transcode jobs that reached a terminal state",
		},
		[]string{"status"}, // "processed" or "failed"
	)

	PipelineJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidhost_pipeline_job_duration_seconds",
			Help:    "Wall-clock duration of one full pipeline run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	PipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidhost_pipeline_queue_depth",
			Help: "Number of transcode jobs waiting on the queue",
		},
	)

	PipelineJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidhost_pipeline_jobs_in_flight",
			Help: "Number of transcode jobs currently running",
		},
	)

	RenditionsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidhost_renditions_produced_total",
			Help: "Total number of renditions produced per resolution label",
		},
		[]string{"resolution"},
	)
)

// External transcoder metrics
var (
	TranscoderInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidhost_transcoder_invocations_total",
			Help: "Total number of external transcoder invocations",
		},
		[]string{"operation", "status"}, // operation: "thumbnail"/"transcode"/"probe"
	)
)

// Memory backpressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidhost_memory_usage_ratio",
			Help: "Heap usage as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidhost_memory_paused",
			Help: "Whether transcode job intake is paused for memory pressure (0 or 1)",
		},
	)
)

// Cache metrics
var (
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidhost_cache_requests_total",
			Help: "Total number of read-through cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)
)
