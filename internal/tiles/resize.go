package tiles

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"tiler/internal/artifacts"
	"tiler/internal/logging"
	"tiler/internal/metrics"
	"tiler/internal/pyramid"
	"tiler/internal/raster"

	"golang.org/x/sync/singleflight"
)

// Resizer produces the resized raster of an upload for one zoom level.
type Resizer struct {
	store  artifacts.Store
	scaler raster.Scaler
	group  singleflight.Group

	// MaxZoom is the largest zoom Resize accepts.
	MaxZoom int
}

// NewResizer returns a Resizer writing through store.
func NewResizer(store artifacts.Store, scaler raster.Scaler) *Resizer {
	return &Resizer{store: store, scaler: scaler, MaxZoom: pyramid.DefaultMaxZoom}
}

// Resize returns the path of sourcePath scaled so its larger side is
// 256*2^zoom, creating it if needed.
func (r *Resizer) Resize(ctx context.Context, sourcePath string, zoom int) (string, error) {
	if err := pyramid.CheckZoom(zoom, 0, r.MaxZoom); err != nil {
		return "", err
	}
	ext := strings.TrimPrefix(filepath.Ext(sourcePath), ".")
	if err := artifacts.ValidateExt(ext); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	edge := pyramid.EdgePixels(zoom)
	dest := artifacts.ResizedPath(sourcePath, zoom, edge)

	if ok, err := r.store.Exists(ctx, dest); err != nil {
		return "", fmt.Errorf("stat %s: %w", dest, err)
	} else if ok {
		metrics.ResizeTotal.WithLabelValues(r.scaler.Name(), "skipped").Inc()
		return dest, nil
	}

	// The shared call outlives any single caller; each caller waits on its
	// own ctx.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(dest, func() (interface{}, error) {
		// Another caller may have finished since the Exists check.
		if ok, err := r.store.Exists(shared, dest); err == nil && ok {
			metrics.ResizeTotal.WithLabelValues(r.scaler.Name(), "skipped").Inc()
			return nil, nil
		}
		return nil, r.resize(shared, sourcePath, dest, edge, ext)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return dest, nil
	}
}

func (r *Resizer) resize(ctx context.Context, sourcePath, dest string, edge int, ext string) error {
	start := time.Now()

	src, err := r.store.Open(ctx, sourcePath)
	if err != nil {
		if artifacts.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, sourcePath)
		}
		return fmt.Errorf("open source %s: %w", sourcePath, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logging.Warn("failed to close source %s: %v", sourcePath, err)
		}
	}()

	var dims raster.Dimensions
	err = r.store.Write(ctx, dest, func(w io.Writer) error {
		var err error
		dims, err = r.scaler.Scale(ctx, src, edge, ext, w)
		return err
	})
	if err != nil {
		metrics.ResizeTotal.WithLabelValues(r.scaler.Name(), "error").Inc()
		return fmt.Errorf("resize %s to %d: %w", sourcePath, edge, err)
	}

	elapsed := time.Since(start)
	metrics.ResizeTotal.WithLabelValues(r.scaler.Name(), "created").Inc()
	metrics.ResizeDuration.WithLabelValues(r.scaler.Name()).Observe(elapsed.Seconds())
	logging.Debug("Resized %s to %dx%d with %s in %v", filepath.Base(sourcePath), dims.Width, dims.Height, r.scaler.Name(), elapsed)
	return nil
}
