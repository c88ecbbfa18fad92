package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiler/internal/artifacts"
	"tiler/internal/database"
	"tiler/internal/filesystem"
	"tiler/internal/kv"
	"tiler/internal/logging"
	"tiler/internal/memory"
	"tiler/internal/metrics"
	"tiler/internal/optimizer"
	"tiler/internal/pipeline"
	"tiler/internal/queue"
	"tiler/internal/queue/amqpqueue"
	"tiler/internal/raster"
	"tiler/internal/rastercache"
	"tiler/internal/startup"
	"tiler/internal/tiles"
	"tiler/internal/workers"
)

// Options adjust Open for the binary using it.
type Options struct {
	// ForceLocal runs jobs in process even when QUEUE_BACKEND=amqp. The
	// worker binary sets it.
	ForceLocal bool
	// Pauser gates the local pool; nil disables backpressure.
	Pauser queue.Pauser
}

// App holds the assembled components.
type App struct {
	Config  *startup.Config
	Layout  artifacts.Layout
	Store   artifacts.Store
	DB      *database.Database
	Flags   kv.Store
	Cache   *rastercache.Cache
	Runner  *pipeline.Runner
	Local   *queue.Local
	Queue   queue.Queue
	Service *pipeline.Service
	// Scaler names the scaler in use after any fallback.
	Scaler string

	closers []func() error
}

// Open builds every component. On error the ones already built are closed.
func Open(ctx context.Context, cfg *startup.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Layout: artifacts.NewLayout(cfg.StaticDir)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"static":   cfg.StaticDir,
		"database": cfg.DatabaseDir,
	}))
	a.Store = artifacts.NewDiskStore()

	dbStart := time.Now()
	if a.DB, err = database.New(ctx, cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.onClose(a.DB.Close)
	startup.LogDatabaseInit(time.Since(dbStart))

	if a.Flags, err = kv.Open(cfg.KVBackend, cfg.KVPath); err != nil {
		return nil, fmt.Errorf("failed to open flag store: %w", err)
	}
	a.onClose(a.Flags.Close)

	if cfg.Scaler == "vips" {
		if err := raster.InitVips(0); err != nil {
			logging.Warn("libvips init failed: %v", err)
		} else {
			a.onClose(func() error { raster.ShutdownVips(); return nil })
		}
	}
	scaler, err := raster.NewScaler(cfg.Scaler, cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	startup.LogRasterInit(cfg.Scaler, scaler.Name())
	a.Scaler = scaler.Name()

	if a.Cache, err = rastercache.New(rastercache.Options{
		TTL:        cfg.RasterCacheTTL,
		MaxEntries: cfg.RasterCacheMaxEntries,
	}); err != nil {
		return nil, err
	}

	resizer := tiles.NewResizer(a.Store, scaler)
	resizer.MaxZoom = cfg.MaxZoom
	cropper := tiles.NewCropper(a.Layout, a.Store, resizer, a.Cache)
	cropper.MinZoom = cfg.MinZoom
	cropper.MaxZoom = cfg.MaxZoom
	cropper.JPEGQuality = cfg.JPEGQuality
	thumbs := tiles.NewThumbnailer(a.Layout, a.Store, resizer)
	var opt *optimizer.Optimizer
	if cfg.OptimizeEnabled {
		opt = optimizer.New(a.Layout, a.Store, nil)
	}
	startup.LogOptimizerInit(cfg.OptimizeEnabled)
	a.Runner = pipeline.NewRunner(a.Layout, a.Store, resizer, cropper, thumbs, opt)

	if err := a.openQueue(cfg, opts); err != nil {
		return nil, err
	}

	flags := a.Flags
	scheduler := pipeline.NewScheduler(a.Queue, kv.NewUploadLock(flags), kv.NewTileCountCache(flags), pipeline.SchedulerConfig{
		MinZoom:         cfg.MinZoom,
		WaitUnit:        cfg.WaitUnit,
		WaitCeiling:     cfg.WaitCeiling,
		GiveUpThreshold: cfg.GiveUpThreshold,
		Optimize:        cfg.OptimizeEnabled,
		JobTimeout:      cfg.JobTimeout,
	})
	scheduler.FollowUp = func(fileid string, done, total int) {
		logging.Info("pyramid %s settled after partial preparation: %d/%d jobs done", fileid, done, total)
	}

	a.Service = pipeline.NewService(pipeline.Deps{
		Catalog:   a.DB,
		Layout:    a.Layout,
		Store:     a.Store,
		Flags:     flags,
		Scheduler: scheduler,
		Cropper:   cropper,
		Optimizer: opt,
	})
	a.Service.MinZoom = cfg.MinZoom
	a.Service.MaxZoom = cfg.MaxZoom
	return a, nil
}

func (a *App) openQueue(cfg *startup.Config, opts Options) error {
	if cfg.QueueBackend == "amqp" && !opts.ForceLocal {
		pub, err := amqpqueue.Dial(amqpqueue.Config{URL: cfg.AMQPURL, Queue: cfg.AMQPQueue})
		if err != nil {
			return fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		a.Queue = pub
		a.onClose(pub.Close)
		startup.LogQueueInit("amqp", 0)
		return nil
	}

	n := cfg.Workers
	if n <= 0 {
		n = workers.ForCPU(0)
	}
	a.Local = queue.NewLocal(a.Runner, queue.LocalConfig{
		Workers: n,
		Timeout: cfg.JobTimeout,
		Pauser:  opts.Pauser,
	})
	a.Local.Start()
	a.Queue = a.Local
	a.onClose(a.Local.Close)
	startup.LogQueueInit("local", n)
	return nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every component in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// MemoryMonitor returns a started monitor bounded by the configured limit.
func MemoryMonitor(result memory.ConfigResult) *memory.Monitor {
	cfg := memory.DefaultConfig()
	cfg.LimitBytes = result.GoMemLimit
	m := memory.NewMonitor(cfg)
	m.Start()
	return m
}
