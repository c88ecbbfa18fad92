// Package startup loads the tiler configuration and writes the sectioned
// startup and shutdown log.
//
// # Configuration
//
// All configuration comes from environment variables via [LoadConfig]:
//
//   - STATIC_DIR: root of uploads, resized rasters, tiles and thumbnails (default: /static)
//   - DATABASE_DIR: holds tiler.db and, with KV_BACKEND=bolt, flags.db (default: /database)
//   - PORT, METRICS_PORT: HTTP ports (default: 8080, 9090)
//   - METRICS_ENABLED: serve /metrics on METRICS_PORT (default: true)
//   - LOG_HTTP: log every request (default: true)
//   - MIN_ZOOM, MAX_ZOOM: zoom bounds (default: 2, 5)
//   - SCALER: vips or imaging (default: vips, falls back to imaging)
//   - JPEG_QUALITY: quality of jpg rasters and tiles (default: 90)
//   - RASTER_CACHE_TTL, RASTER_CACHE_MAX_ENTRIES: decoded raster cache (default: 10s, 8)
//   - TILER_WORKERS: local pool size (default: GOMAXPROCS)
//   - QUEUE_BACKEND: local or amqp (default: local); AMQP_URL, AMQP_QUEUE
//   - JOB_TIMEOUT: per job timeout (default: 5m)
//   - WAIT_UNIT, WAIT_CEILING, GIVE_UP_THRESHOLD: preparation wait (default: 1s, 50, 3)
//   - OPTIMIZE_ENABLED: run jpegoptim / optipng passes (default: true)
//   - KV_BACKEND: memory or bolt (default: memory)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT: see package memory
//
// Invalid numbers and durations fall back to their default with a warning;
// inconsistent settings (unknown backend, MIN_ZOOM > MAX_ZOOM, amqp without
// AMQP_URL) make LoadConfig fail.
//
// # Directory Setup
//
// STATIC_DIR and DATABASE_DIR are created when missing and must be
// writable.
package startup
