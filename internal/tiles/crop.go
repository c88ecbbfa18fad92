package tiles

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"tiler/internal/artifacts"
	"tiler/internal/logging"
	"tiler/internal/metrics"
	"tiler/internal/pyramid"
	"tiler/internal/raster"
	"tiler/internal/rastercache"
)

// Cropper cuts tiles out of resized rasters.
type Cropper struct {
	layout  artifacts.Layout
	store   artifacts.Store
	resizer *Resizer
	cache   *rastercache.Cache

	// JPEGQuality applies to jpg tiles; 0 uses raster.DefaultJPEGQuality.
	JPEGQuality int
	// MinZoom and MaxZoom bound the zooms tiles are cut for. MinZoom also
	// fixes the grid size at each zoom.
	MinZoom int
	MaxZoom int
}

// NewCropper returns a Cropper. cache may be nil, in which case every call
// decodes the resized raster again.
func NewCropper(layout artifacts.Layout, store artifacts.Store, resizer *Resizer, cache *rastercache.Cache) *Cropper {
	return &Cropper{
		layout:  layout,
		store:   store,
		resizer: resizer,
		cache:   cache,
		MinZoom: pyramid.DefaultMinZoom,
		MaxZoom: pyramid.DefaultMaxZoom,
	}
}

// BatchReport summarizes a MakeTiles call.
type BatchReport struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
}

// Total returns Generated + Skipped.
func (b BatchReport) Total() int {
	return b.Generated + b.Skipped
}

func (c *Cropper) validateTile(size, zoom int, ext string) error {
	if size != pyramid.TileSize {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if err := pyramid.CheckZoom(zoom, c.MinZoom, c.MaxZoom); err != nil {
		return err
	}
	if err := artifacts.ValidateExt(ext); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// MakeTile returns the path of tile (row, col) at zoom, creating it if
// needed.
func (c *Cropper) MakeTile(ctx context.Context, fileid string, size, zoom, row, col int, ext string) (string, error) {
	if err := c.validateTile(size, zoom, ext); err != nil {
		return "", err
	}
	if err := pyramid.CheckTile(zoom, c.MinZoom, row, col); err != nil {
		return "", err
	}
	path, err := c.layout.TilePath(fileid, size, zoom, row, col, ext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if ok, err := c.store.Exists(ctx, path); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	} else if ok {
		metrics.TilesSkipped.Inc()
		return path, nil
	}

	img, err := c.resolve(ctx, fileid, zoom)
	if err != nil {
		return "", err
	}
	if err := c.write(ctx, img, path, row, col, ext); err != nil {
		return "", err
	}
	metrics.TilesGenerated.WithLabelValues("fallback").Inc()
	return path, nil
}

// MakeTiles creates every tile in [0, rows] x [0, cols] at zoom, decoding
// the resized raster once for the whole batch.
func (c *Cropper) MakeTiles(ctx context.Context, fileid string, size, zoom, rows, cols int, ext string) (BatchReport, error) {
	var report BatchReport
	if err := c.validateTile(size, zoom, ext); err != nil {
		return report, err
	}
	if err := pyramid.CheckTile(zoom, c.MinZoom, rows, cols); err != nil {
		return report, fmt.Errorf("batch %dx%d: %w", rows, cols, err)
	}
	if _, err := c.layout.TileDir(fileid, size, zoom); err != nil {
		return report, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	start := time.Now()
	var img image.Image
	for row := 0; row <= rows; row++ {
		for col := 0; col <= cols; col++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			path, _ := c.layout.TilePath(fileid, size, zoom, row, col, ext)
			ok, err := c.store.Exists(ctx, path)
			if err != nil {
				return report, fmt.Errorf("stat %s: %w", path, err)
			}
			if ok {
				report.Skipped++
				metrics.TilesSkipped.Inc()
				continue
			}

			if img == nil {
				if img, err = c.resolve(ctx, fileid, zoom); err != nil {
					return report, err
				}
			}
			if err := c.write(ctx, img, path, row, col, ext); err != nil {
				return report, err
			}
			report.Generated++
			metrics.TilesGenerated.WithLabelValues("batch").Inc()
		}
	}

	logging.Debug("Tiles for %s zoom %d: %d generated, %d skipped in %v",
		fileid, zoom, report.Generated, report.Skipped, time.Since(start))
	return report, nil
}

// resolve finds the upload, makes sure the resized raster exists and returns
// it decoded.
func (c *Cropper) resolve(ctx context.Context, fileid string, zoom int) (image.Image, error) {
	source, _, err := artifacts.FindUpload(ctx, c.store, c.layout, fileid)
	if err != nil {
		if artifacts.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileid)
		}
		return nil, err
	}

	resized, err := c.resizer.Resize(ctx, source, zoom)
	if err != nil {
		return nil, err
	}
	return c.load(ctx, resized, zoom)
}

func (c *Cropper) load(ctx context.Context, resized string, zoom int) (image.Image, error) {
	// Concurrent callers share one decode, so it must not fail with the
	// first caller's ctx.
	shared := context.WithoutCancel(ctx)
	decode := func() (image.Image, error) {
		rc, err := c.store.Open(shared, resized)
		if err != nil {
			return nil, fmt.Errorf("open resized raster %s: %w", resized, err)
		}
		defer func() { _ = rc.Close() }()
		return raster.Decode(rc)
	}
	if c.cache == nil {
		return decode()
	}

	edge := pyramid.EdgePixels(zoom)
	key := rastercache.Key{Source: resized, Zoom: zoom, Width: edge, Height: edge}
	return c.cache.GetOrCreate(key, decode)
}

func (c *Cropper) write(ctx context.Context, img image.Image, path string, row, col int, ext string) error {
	start := time.Now()
	tile := raster.CropTile(img, row, col)
	err := c.store.Write(ctx, path, func(w io.Writer) error {
		return raster.Encode(w, tile, ext, c.JPEGQuality)
	})
	if err != nil {
		return fmt.Errorf("write tile %s: %w", path, err)
	}
	metrics.TileCropDuration.Observe(time.Since(start).Seconds())
	return nil
}
