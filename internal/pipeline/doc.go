// Package pipeline ties the pyramid components together.
//
// Scheduler enqueues every unit of work for one source image (resize and
// tile batch per zoom, thumbnails, optimize passes), sets the upload lock
// and waits with a triangular backoff before deciding whether the
// preparation gave up. Runner executes job specs against the tile
// components; it is the queue.Runner of both the in-process pool and the
// AMQP worker. Service is the image-level API used by the HTTP handlers and
// tilerctl: ingest, ranges, prepare, counts, delete and lock management.
package pipeline
