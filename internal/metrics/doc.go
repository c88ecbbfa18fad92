// Package metrics provides Prometheus instrumentation for the tiler.
//
// All metrics are registered with the default registry through promauto and
// prefixed with "tiler_". Other packages record by importing the exported
// variables:
//
//	metrics.TilesGenerated.WithLabelValues("fallback").Inc()
//	metrics.ResizeDuration.WithLabelValues("vips").Observe(elapsed.Seconds())
//
// # Metric Categories
//
//   - HTTP: requests, latency, in-flight.
//   - Tiles: tile requests by result, tiles generated and skipped, crop and
//     resize latency, thumbnails.
//   - Raster cache: hits, misses, evictions by reason, entries.
//   - Jobs: terminal states by kind, duration, retries, queue depth per
//     priority lane, AMQP message counts.
//   - Scheduler: preparation outcomes, wait time, optimizer savings.
//   - Storage: database queries, catalog size, flag store operations,
//     filesystem latency and NFS retries.
//   - Memory: GOMEMLIMIT, heap, GC, backpressure pauses.
//
// Call [InitializeMetrics] once at startup so every label combination is
// exported from the first scrape. [Collector] refreshes gauges derived from
// the catalog and the Go runtime.
//
// # Prometheus Queries
//
// Fallback share of tile traffic:
//
//	sum(rate(tiler_tile_requests_total{result="generated"}[5m])) /
//	sum(rate(tiler_tile_requests_total[5m]))
//
// Raster cache hit rate:
//
//	rate(tiler_raster_cache_hits_total[5m]) /
//	(rate(tiler_raster_cache_hits_total[5m]) + rate(tiler_raster_cache_misses_total[5m]))
//
// Preparations that gave up:
//
//	increase(tiler_scheduler_runs_total{outcome="gave_up"}[1h])
package metrics
