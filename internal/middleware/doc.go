// Package middleware provides the HTTP middleware of the tile server.
//
// [Logger] writes one access line per request through package logging, with
// user controlled fields stripped of control characters. Tile requests are
// logged at debug level since a single map view issues hundreds of them.
// [Metrics] records request counts and latencies labelled by the gorilla/mux
// route template, so tile coordinates never become label values.
package middleware
