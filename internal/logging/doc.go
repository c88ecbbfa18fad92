// Package logging provides the leveled logger used by every tiler binary.
//
// Levels, lowest to highest:
//   - DEBUG: per-tile and per-cache decisions
//   - INFO: job lifecycle, scheduler outcomes, startup
//   - WARN: recoverable failures (placeholder served, optimizer skipped)
//   - ERROR: failed jobs and I/O errors
//   - FATAL: unrecoverable startup errors
//
// The level comes from DEBUG (any truthy value forces debug) or LOG_LEVEL.
// Tests may pin it with SetLevel.
package logging
