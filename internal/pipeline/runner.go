package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tiler/internal/artifacts"
	"tiler/internal/optimizer"
	"tiler/internal/queue"
	"tiler/internal/tiles"
)

// Runner executes job specs. It implements queue.Runner.
type Runner struct {
	layout    artifacts.Layout
	store     artifacts.Store
	resizer   *tiles.Resizer
	cropper   *tiles.Cropper
	thumbs    *tiles.Thumbnailer
	optimizer *optimizer.Optimizer
}

// NewRunner returns a Runner. opt may be nil, in which case optimize jobs
// succeed without doing anything.
func NewRunner(layout artifacts.Layout, store artifacts.Store, resizer *tiles.Resizer, cropper *tiles.Cropper, thumbs *tiles.Thumbnailer, opt *optimizer.Optimizer) *Runner {
	return &Runner{layout: layout, store: store, resizer: resizer, cropper: cropper, thumbs: thumbs, optimizer: opt}
}

type pathOutput struct {
	Path string `json:"path"`
}

// Run dispatches spec by kind. InvalidInput and NotFound failures are
// marked permanent so the queue does not retry them.
func (r *Runner) Run(ctx context.Context, spec queue.Spec) (json.RawMessage, error) {
	out, err := r.run(ctx, spec)
	if err != nil {
		if tiles.IsPermanent(err) || errors.Is(err, optimizer.ErrUnsupported) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}
	return json.Marshal(out)
}

func (r *Runner) run(ctx context.Context, spec queue.Spec) (any, error) {
	switch spec.Kind {
	case queue.KindResize:
		source := spec.Source
		if source == "" {
			path, _, err := artifacts.FindUpload(ctx, r.store, r.layout, spec.FileID)
			if err != nil {
				if artifacts.IsNotExist(err) {
					return nil, fmt.Errorf("%w: %v", tiles.ErrNotFound, err)
				}
				return nil, err
			}
			source = path
		}
		path, err := r.resizer.Resize(ctx, source, spec.Zoom)
		return pathOutput{Path: path}, err

	case queue.KindTiles:
		return r.cropper.MakeTiles(ctx, spec.FileID, spec.TileSize, spec.Zoom, spec.Rows, spec.Cols, spec.Ext)

	case queue.KindThumbnail:
		path, err := r.thumbs.MakeThumbnail(ctx, spec.FileID, spec.Zoom, spec.Width, spec.Ext)
		return pathOutput{Path: path}, err

	case queue.KindOptimize:
		if r.optimizer == nil {
			return optimizer.Report{Skipped: true}, nil
		}
		if spec.Thumbnails {
			return r.optimizer.OptimizeThumbnails(ctx, spec.FileID, spec.Ext)
		}
		return r.optimizer.OptimizeZoom(ctx, spec.FileID, spec.Zoom, spec.Ext)

	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", tiles.ErrInvalidInput, spec.Kind)
	}
}
