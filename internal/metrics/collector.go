package metrics

import (
	"runtime"
	"time"

	"tiler/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current catalog statistics
type Stats struct {
	TotalImages int
}

// Collector periodically collects catalog and runtime statistics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	GoMemAllocBytes.Set(float64(ms.Alloc))
	GoMemSysBytes.Set(float64(ms.Sys))
	GoGCRuns.Set(float64(ms.NumGC))

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()
	ImagesTotal.Set(float64(stats.TotalImages))

	logging.Debug("Metrics collected: images=%d, heap=%d", stats.TotalImages, ms.Alloc)
}
