// Package memory keeps the tiler inside its container memory limit.
//
// ConfigureFromEnv derives GOMEMLIMIT from MEMORY_LIMIT so the Go GC works
// harder before the kernel OOM killer steps in. Decoded rasters are large
// (a 8192x4096 NRGBA raster is 128 MiB), so a few concurrent tile jobs can
// reach the limit quickly.
//
// Monitor samples the heap and, above the critical water mark, makes
// WaitIfPaused block. The local job queue calls WaitIfPaused before taking
// each job, so intake stops until usage drops below the high water mark:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	pool := queue.NewLocal(runner, queue.LocalConfig{Pauser: monitor})
//
// Memory held by libvips is not visible to the Go runtime, which is why
// DefaultMemoryRatio leaves a quarter of the container limit unassigned.
package memory
