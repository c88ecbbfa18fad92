// Package workers sizes worker pools from the CPUs available to the
// process.
//
// runtime.NumCPU reports the host CPUs even inside a CPU-limited container,
// while GOMAXPROCS follows the container limit, so every count here starts
// from GOMAXPROCS:
//
//	pool := queue.NewLocal(runner, queue.LocalConfig{
//		Workers: workers.ForCPU(0),
//	})
//
// Tile work is CPU bound (decode, Lanczos resize, crop, encode), so the
// local job queue uses ForCPU. tilerctl fans out over images with ForIO.
//
// Set TILER_WORKERS to pin the count, for example to leave CPUs for libvips
// threads:
//
//	TILER_WORKERS=2 ./tiler
package workers
