package tiles

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"tiler/internal/artifacts"
	"tiler/internal/metrics"
	"tiler/internal/raster"
)

// ThumbnailWidths are generated for every image.
var ThumbnailWidths = []int{100, 300}

// Thumbnailer writes width-bounded previews derived from a resized raster.
type Thumbnailer struct {
	layout  artifacts.Layout
	store   artifacts.Store
	resizer *Resizer

	JPEGQuality int
}

// NewThumbnailer returns a Thumbnailer.
func NewThumbnailer(layout artifacts.Layout, store artifacts.Store, resizer *Resizer) *Thumbnailer {
	return &Thumbnailer{layout: layout, store: store, resizer: resizer}
}

// MakeThumbnail returns the path of the width-pixel thumbnail, derived from
// the raster at zoom.
func (t *Thumbnailer) MakeThumbnail(ctx context.Context, fileid string, zoom, width int, ext string) (string, error) {
	if width <= 0 {
		return "", fmt.Errorf("%w: thumbnail width %d", ErrInvalidInput, width)
	}
	path, err := t.layout.ThumbnailPath(fileid, width, ext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	label := strconv.Itoa(width)

	if ok, err := t.store.Exists(ctx, path); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	} else if ok {
		metrics.ThumbnailsGenerated.WithLabelValues(label, "skipped").Inc()
		return path, nil
	}

	source, _, err := artifacts.FindUpload(ctx, t.store, t.layout, fileid)
	if err != nil {
		if artifacts.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, fileid)
		}
		return "", err
	}
	resized, err := t.resizer.Resize(ctx, source, zoom)
	if err != nil {
		return "", err
	}

	rc, err := t.store.Open(ctx, resized)
	if err != nil {
		return "", fmt.Errorf("open resized raster %s: %w", resized, err)
	}
	img, err := raster.Decode(rc)
	_ = rc.Close()
	if err != nil {
		return "", err
	}

	thumb := raster.Thumbnail(img, width)
	err = t.store.Write(ctx, path, func(w io.Writer) error {
		return raster.Encode(w, thumb, ext, t.JPEGQuality)
	})
	if err != nil {
		metrics.ThumbnailsGenerated.WithLabelValues(label, "error").Inc()
		return "", fmt.Errorf("write thumbnail %s: %w", path, err)
	}
	metrics.ThumbnailsGenerated.WithLabelValues(label, "created").Inc()
	return path, nil
}
