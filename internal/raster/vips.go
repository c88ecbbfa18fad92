package raster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"tiler/internal/artifacts"
	"tiler/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// vipsLogSettings maps the application log level to a vips level and a
// handler forwarding vips messages to the application log.
func vipsLogSettings(appLevel logging.LogLevel) (vips.LogLevel, func(string, vips.LogLevel, string)) {
	switch appLevel {
	case logging.LevelDebug:
		return vips.LogLevelInfo, func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			default:
				logging.Debug("[%s] %s", domain, msg)
			}
		}
	case logging.LevelWarn, logging.LevelError:
		return vips.LogLevelError, func(domain string, level vips.LogLevel, msg string) {
			if level >= vips.LogLevelError {
				logging.Error("[%s] %s", domain, msg)
			}
		}
	default:
		return vips.LogLevelWarning, func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logging.Error("[%s] %s", domain, msg)
			case vips.LogLevelWarning:
				logging.Warn("[%s] %s", domain, msg)
			}
		}
	}
}

// InitVips starts libvips once. concurrency bounds the vips worker threads
// per operation; 0 lets vips decide.
func InitVips(concurrency int) error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	level, handler := vipsLogSettings(logging.GetLevel())
	vips.LoggingSettings(handler, level)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips releases libvips. vips cannot be restarted afterwards.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// VipsScaler resizes with libvips' Lanczos3 kernel.
type VipsScaler struct {
	JPEGQuality int
}

func (s VipsScaler) Name() string { return "vips" }

func (s VipsScaler) Scale(ctx context.Context, src io.Reader, edge int, ext string, dst io.Writer) (Dimensions, error) {
	if !IsVipsAvailable() {
		return Dimensions{}, fmt.Errorf("libvips not available")
	}
	if err := ctx.Err(); err != nil {
		return Dimensions{}, err
	}

	buf, err := io.ReadAll(src)
	if err != nil {
		return Dimensions{}, fmt.Errorf("read source: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(buf)
	if err != nil {
		return Dimensions{}, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return Dimensions{}, fmt.Errorf("vips autorotate failed: %w", err)
	}

	factor := ScaleFactor(ref.Width(), ref.Height(), edge)
	if err := ref.Resize(factor, vips.KernelLanczos3); err != nil {
		return Dimensions{}, fmt.Errorf("vips resize failed: %w", err)
	}

	var out []byte
	switch ext {
	case artifacts.ExtPNG:
		out, _, err = ref.ExportPng(vips.NewPngExportParams())
	default:
		params := vips.NewJpegExportParams()
		params.Quality = quality(s.JPEGQuality)
		params.OptimizeCoding = true
		out, _, err = ref.ExportJpeg(params)
	}
	if err != nil {
		return Dimensions{}, fmt.Errorf("vips export failed: %w", err)
	}

	if _, err := io.Copy(dst, bytes.NewReader(out)); err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: ref.Width(), Height: ref.Height()}, nil
}
