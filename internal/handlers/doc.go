// Package handlers provides the HTTP handlers of the tile server.
//
// It includes handlers for:
//   - The tile fallback, reached when the static server misses a tile
//   - Preparing a whole pyramid and reading an image's status
//   - Health, liveness, readiness and version endpoints
//
// Error mapping follows the pipeline sentinels: invalid input is a 400,
// a missing source is a 404, and any other tile failure serves a
// placeholder image that clients must not cache.
package handlers
