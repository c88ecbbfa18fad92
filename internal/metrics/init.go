package metrics

// Label values pre-populated by InitializeMetrics.
var (
	JobKinds    = []string{"resize", "tiles", "thumbnail", "optimize"}
	JobStates   = []string{"succeeded", "failed", "timed-out"}
	Priorities  = []string{"high", "default", "low"}
	Volumes     = []string{"static", "database", "unknown"}
	FSOps       = []string{"stat", "open", "read", "write", "mkdir"}
	TileResults = []string{"served", "invalid", "not_found", "placeholder"}
	Outcomes    = []string{"complete", "partial", "gave_up", "error"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, vol := range Volumes {
		for _, op := range FSOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
		}
	}

	for _, kind := range JobKinds {
		for _, state := range JobStates {
			JobsTotal.WithLabelValues(kind, state)
		}
		JobDuration.WithLabelValues(kind)
		JobRetries.WithLabelValues(kind)
	}

	for _, p := range Priorities {
		QueueDepth.WithLabelValues(p)
	}

	for _, r := range TileResults {
		TileRequestsTotal.WithLabelValues(r)
	}
	for _, s := range []string{"batch", "fallback"} {
		TilesGenerated.WithLabelValues(s)
	}

	for _, scaler := range []string{"vips", "imaging"} {
		for _, status := range []string{"created", "skipped", "error"} {
			ResizeTotal.WithLabelValues(scaler, status)
		}
		ResizeDuration.WithLabelValues(scaler)
	}

	for _, width := range []string{"100", "300"} {
		for _, status := range []string{"created", "skipped", "error"} {
			ThumbnailsGenerated.WithLabelValues(width, status)
		}
	}

	for _, reason := range []string{"ttl", "capacity", "purge"} {
		RasterCacheEvictions.WithLabelValues(reason)
	}

	for _, o := range Outcomes {
		SchedulerRunsTotal.WithLabelValues(o)
	}

	for _, ext := range []string{"jpg", "png"} {
		for _, status := range []string{"optimized", "skipped", "error"} {
			OptimizerFilesTotal.WithLabelValues(ext, status)
		}
	}

	for _, backend := range []string{"memory", "bolt"} {
		for _, op := range []string{"get", "set", "delete"} {
			for _, status := range []string{"success", "error"} {
				KVOperationsTotal.WithLabelValues(backend, op, status)
			}
		}
	}

	for _, dir := range []string{"publish", "consume", "reply"} {
		for _, status := range []string{"success", "error"} {
			AMQPMessagesTotal.WithLabelValues(dir, status)
		}
	}
}
