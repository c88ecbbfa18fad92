package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiler_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Tile metrics
var (
	TileRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_tile_requests_total",
			Help: "Tile requests by result (served, invalid, not_found, placeholder)",
		},
		[]string{"result"},
	)

	TilesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_tiles_generated_total",
			Help: "Tiles cropped and written, by trigger (batch, fallback)",
		},
		[]string{"source"},
	)

	TilesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiler_tiles_skipped_total",
			Help: "Tiles that already existed when requested",
		},
	)

	TileCropDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tiler_tile_crop_duration_seconds",
			Help:    "Time to crop, encode and write one tile",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	ResizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_resize_total",
			Help: "Resize requests by scaler and status (created, skipped, error)",
		},
		[]string{"scaler", "status"},
	)

	ResizeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiler_resize_duration_seconds",
			Help:    "Time to produce one resized raster",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"scaler"},
	)

	ThumbnailsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_thumbnails_generated_total",
			Help: "Thumbnails written by width and status",
		},
		[]string{"width", "status"},
	)
)

// Raster cache metrics
var (
	RasterCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiler_raster_cache_hits_total",
			Help: "Decoded raster cache hits",
		},
	)

	RasterCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiler_raster_cache_misses_total",
			Help: "Decoded raster cache misses",
		},
	)

	RasterCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_raster_cache_evictions_total",
			Help: "Decoded rasters evicted by reason (ttl, capacity, purge)",
		},
		[]string{"reason"},
	)

	RasterCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_raster_cache_entries",
			Help: "Decoded rasters currently cached",
		},
	)
)

// Job queue metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_jobs_total",
			Help: "Jobs reaching a terminal state, by kind and state",
		},
		[]string{"kind", "state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiler_job_duration_seconds",
			Help:    "Job run time by kind",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_job_retries_total",
			Help: "Job attempts retried after a transient failure",
		},
		[]string{"kind"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tiler_queue_depth",
			Help: "Jobs waiting in the local queue by priority",
		},
		[]string{"priority"},
	)

	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_jobs_running",
			Help: "Jobs currently executing",
		},
	)

	AMQPMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_amqp_messages_total",
			Help: "AMQP messages by direction (publish, consume, reply) and status",
		},
		[]string{"direction", "status"},
	)
)

// Scheduler metrics
var (
	SchedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_scheduler_runs_total",
			Help: "Pyramid preparations by outcome (complete, partial, gave_up, error)",
		},
		[]string{"outcome"},
	)

	SchedulerWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tiler_scheduler_wait_seconds",
			Help:    "Time a preparation waited for its jobs",
			Buckets: []float64{1, 3, 6, 10, 15, 21, 28, 36, 45, 55},
		},
	)

	OptimizerBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiler_optimizer_bytes_saved_total",
			Help: "Bytes removed by the external optimizers",
		},
	)

	OptimizerFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_optimizer_files_total",
			Help: "Files handed to an optimizer by extension and status (optimized, skipped, error)",
		},
		[]string{"ext", "status"},
	)
)

// Storage metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiler_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	ImagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_images_total",
			Help: "Images in the catalog",
		},
	)

	KVOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_kv_operations_total",
			Help: "Flag store operations by backend, operation and status",
		},
		[]string{"backend", "operation", "status"},
	)

	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiler_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation latency by volume and operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_filesystem_operation_errors_total",
			Help: "Filesystem operation errors by volume and operation",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_filesystem_retry_attempts_total",
			Help: "NFS stale handle retries by operation and volume",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_filesystem_retry_success_total",
			Help: "Operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiler_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)
)

// Memory metrics
var (
	GoMemLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_go_memlimit_bytes",
			Help: "Configured GOMEMLIMIT in bytes (0 if not set)",
		},
	)

	GoMemAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_go_mem_alloc_bytes",
			Help: "Current heap allocation in bytes",
		},
	)

	GoMemSysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_go_mem_sys_bytes",
			Help: "Total memory obtained from the OS",
		},
	)

	GoGCRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_go_gc_runs",
			Help: "Completed GC cycles",
		},
	)

	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_memory_usage_ratio",
			Help: "Heap allocation as a ratio of the memory limit (0.0-1.0)",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiler_memory_paused",
			Help: "Whether job execution is paused due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiler_memory_gc_pauses_total",
			Help: "Times job execution was paused for memory",
		},
	)
)

// AppInfo exposes build information as labels.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tiler_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)
