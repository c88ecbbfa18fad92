package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"tiler/internal/artifacts"
	"tiler/internal/database"
	"tiler/internal/kv"
	"tiler/internal/logging"
	"tiler/internal/optimizer"
	"tiler/internal/pyramid"
	"tiler/internal/raster"
	"tiler/internal/tiles"
)

// Catalog is the part of the image catalog the service needs.
// *database.Database implements it.
type Catalog interface {
	InsertImage(ctx context.Context, img *database.Image) error
	GetImage(ctx context.Context, fileid string) (*database.Image, error)
	SetSize(ctx context.Context, fileid string, width, height int) error
	OverrideSize(ctx context.Context, fileid string, width, height int) error
	SetRanges(ctx context.Context, fileid string, ranges []int) error
	DeleteImage(ctx context.Context, fileid string) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Catalog   Catalog
	Layout    artifacts.Layout
	Store     artifacts.Store
	Flags     kv.Store
	Scheduler *Scheduler
	Cropper   *tiles.Cropper
	// Optimizer may be nil.
	Optimizer *optimizer.Optimizer
}

// Service is the image-level API.
type Service struct {
	catalog   Catalog
	layout    artifacts.Layout
	store     artifacts.Store
	flags     kv.Store
	lock      *kv.UploadLock
	counts    *kv.TileCountCache
	scheduler *Scheduler
	cropper   *tiles.Cropper
	optimizer *optimizer.Optimizer

	MinZoom int
	MaxZoom int
}

// NewService returns a Service using the default zoom bounds.
func NewService(deps Deps) *Service {
	return &Service{
		catalog:   deps.Catalog,
		layout:    deps.Layout,
		store:     deps.Store,
		flags:     deps.Flags,
		lock:      kv.NewUploadLock(deps.Flags),
		counts:    kv.NewTileCountCache(deps.Flags),
		scheduler: deps.Scheduler,
		cropper:   deps.Cropper,
		optimizer: deps.Optimizer,
		MinZoom:   pyramid.DefaultMinZoom,
		MaxZoom:   pyramid.DefaultMaxZoom,
	}
}

// notFound maps catalog and artifact misses to tiles.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, database.ErrNotFound) || artifacts.IsNotExist(err) {
		return fmt.Errorf("%w: %v", tiles.ErrNotFound, err)
	}
	return err
}

// Ingest copies r into the upload layout, records the image and its size.
// An empty fileid gets a generated one.
func (s *Service) Ingest(ctx context.Context, r io.Reader, contentType, fileid string) (*database.Image, error) {
	ext, err := artifacts.ExtForContentType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tiles.ErrInvalidInput, err)
	}
	if fileid == "" {
		fileid = artifacts.NewFileID()
	} else if err := artifacts.ValidateFileID(fileid); err != nil {
		return nil, fmt.Errorf("%w: %v", tiles.ErrInvalidInput, err)
	}

	path, err := s.layout.UploadPath(fileid, ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tiles.ErrInvalidInput, err)
	}
	if existing, _, err := artifacts.FindUpload(ctx, s.store, s.layout, fileid); err == nil {
		return nil, fmt.Errorf("%s: %w", existing, database.ErrExists)
	}

	err = s.store.Write(ctx, path, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store upload %s: %w", fileid, err)
	}

	dims, err := s.readDimensions(ctx, path)
	if err != nil {
		s.removeQuietly(ctx, path)
		return nil, fmt.Errorf("%w: %v", tiles.ErrInvalidInput, err)
	}

	if err := s.catalog.InsertImage(ctx, &database.Image{FileID: fileid, ContentType: contentType}); err != nil {
		s.removeQuietly(ctx, path)
		return nil, err
	}
	if err := s.catalog.SetSize(ctx, fileid, dims.Width, dims.Height); err != nil {
		s.removeQuietly(ctx, path)
		if derr := s.catalog.DeleteImage(context.WithoutCancel(ctx), fileid); derr != nil && !errors.Is(derr, database.ErrNotFound) {
			logging.Warn("ingest %s: failed to drop catalog row: %v", fileid, derr)
		}
		return nil, err
	}
	logging.Info("ingested %s (%s, %dx%d)", fileid, contentType, dims.Width, dims.Height)
	return s.catalog.GetImage(ctx, fileid)
}

func (s *Service) readDimensions(ctx context.Context, path string) (raster.Dimensions, error) {
	rc, err := s.store.Open(ctx, path)
	if err != nil {
		return raster.Dimensions{}, err
	}
	defer rc.Close()
	return raster.DecodeDimensions(rc)
}

func (s *Service) removeQuietly(ctx context.Context, path string) {
	if err := s.store.Remove(ctx, path); err != nil && !artifacts.IsNotExist(err) {
		logging.Warn("failed to remove %s: %v", path, err)
	}
}

// Image returns the catalog document of fileid.
func (s *Service) Image(ctx context.Context, fileid string) (*database.Image, error) {
	img, err := s.catalog.GetImage(ctx, fileid)
	if err != nil {
		return nil, notFound(err)
	}
	return img, nil
}

// Ranges returns the zoom range of fileid, computing it with the area
// policy and persisting it on first use.
func (s *Service) Ranges(ctx context.Context, fileid string) ([]int, error) {
	img, err := s.Image(ctx, fileid)
	if err != nil {
		return nil, err
	}
	if img.Ranges != nil {
		return img.Ranges, nil
	}
	if !img.HasSize() {
		return nil, fmt.Errorf("%w: %s has no recorded size", tiles.ErrInvalidInput, fileid)
	}
	ranges, err := pyramid.ComputeZoomRange(img.Width, img.Height, s.MinZoom, s.MaxZoom, pyramid.AreaPolicy)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetRanges(ctx, fileid, ranges); err != nil {
		return nil, err
	}
	return ranges, nil
}

// Prepare runs the scheduler over the whole range of fileid.
func (s *Service) Prepare(ctx context.Context, fileid string) (Outcome, error) {
	ranges, err := s.Ranges(ctx, fileid)
	if err != nil {
		return Outcome{FileID: fileid}, err
	}
	source, ext, err := artifacts.FindUpload(ctx, s.store, s.layout, fileid)
	if err != nil {
		return Outcome{FileID: fileid}, notFound(err)
	}
	return s.scheduler.PrepareAll(ctx, fileid, source, ranges, ext)
}

// Tile returns the path of one tile, producing it synchronously when
// missing.
func (s *Service) Tile(ctx context.Context, fileid string, size, zoom, row, col int, ext string) (string, error) {
	return s.cropper.MakeTile(ctx, fileid, size, zoom, row, col, ext)
}

// Count returns the tile counts of fileid. The found total is cached for
// kv.TileCountTTL; cached reports whether it came from the cache, in which
// case PerZoom is nil.
func (s *Service) Count(ctx context.Context, fileid string) (counts tiles.Counts, cached bool, err error) {
	ranges, err := s.Ranges(ctx, fileid)
	if err != nil {
		return tiles.Counts{}, false, err
	}
	if n, ok, err := s.counts.Get(ctx, fileid); err != nil {
		logging.Warn("tile count cache: %v", err)
	} else if ok {
		return tiles.Counts{Found: n, Expected: pyramid.ExpectedTiles(ranges, s.MinZoom)}, true, nil
	}

	counts, err = tiles.CountTiles(ctx, s.store, s.layout, fileid, ranges, s.MinZoom)
	if err != nil {
		return tiles.Counts{}, false, err
	}
	if err := s.counts.Set(ctx, fileid, counts.Found); err != nil {
		logging.Warn("tile count cache: %v", err)
	}
	return counts, false, nil
}

// LockState describes the upload lock of an image.
type LockState struct {
	Locked    bool          `json:"locked"`
	Since     time.Time     `json:"since,omitzero"`
	Remaining time.Duration `json:"remaining"`
	Label     string        `json:"label,omitempty"`
}

// Status is the image document with its tile counts and lock state.
type Status struct {
	Image  *database.Image `json:"image"`
	Tiles  tiles.Counts    `json:"tiles"`
	Cached bool            `json:"tiles_cached"`
	Lock   LockState       `json:"uploading_locked"`
}

// Status returns the admin view of fileid.
func (s *Service) Status(ctx context.Context, fileid string) (*Status, error) {
	img, err := s.Image(ctx, fileid)
	if err != nil {
		return nil, err
	}
	st := &Status{Image: img}
	if img.HasSize() {
		if st.Tiles, st.Cached, err = s.Count(ctx, fileid); err != nil {
			return nil, err
		}
	}
	if st.Lock, err = s.LockState(ctx, fileid); err != nil {
		return nil, err
	}
	return st, nil
}

// LockState reports the upload lock of fileid.
func (s *Service) LockState(ctx context.Context, fileid string) (LockState, error) {
	left, locked, err := s.lock.Remaining(ctx, fileid)
	if err != nil || !locked {
		return LockState{}, err
	}
	state := LockState{Locked: true, Remaining: left, Label: kv.FormatRemaining(left)}
	if since, ok, err := s.lock.LockedAt(ctx, fileid); err != nil {
		return LockState{}, err
	} else if ok {
		state.Since = since
	}
	return state, nil
}

// Lock sets the upload lock of fileid for kv.UploadLockTTL.
func (s *Service) Lock(ctx context.Context, fileid string) error {
	if _, err := s.Image(ctx, fileid); err != nil {
		return err
	}
	return s.lock.Lock(ctx, fileid)
}

// Unlock clears the upload lock of fileid.
func (s *Service) Unlock(ctx context.Context, fileid string) error {
	if _, err := s.Image(ctx, fileid); err != nil {
		return err
	}
	return s.lock.Unlock(ctx, fileid)
}

// LockMore extends the upload lock of fileid by another kv.UploadLockTTL.
func (s *Service) LockMore(ctx context.Context, fileid string) (time.Duration, error) {
	if _, err := s.Image(ctx, fileid); err != nil {
		return 0, err
	}
	return s.lock.LockMore(ctx, fileid)
}

// RecalculateSize reads the size of the original again and overrides the
// recorded one. The persisted range is cleared and recomputed on next use.
func (s *Service) RecalculateSize(ctx context.Context, fileid string) (raster.Dimensions, error) {
	if _, err := s.Image(ctx, fileid); err != nil {
		return raster.Dimensions{}, err
	}
	path, _, err := artifacts.FindUpload(ctx, s.store, s.layout, fileid)
	if err != nil {
		return raster.Dimensions{}, notFound(err)
	}
	dims, err := s.readDimensions(ctx, path)
	if err != nil {
		return raster.Dimensions{}, err
	}
	if err := s.catalog.OverrideSize(ctx, fileid, dims.Width, dims.Height); err != nil {
		return raster.Dimensions{}, notFound(err)
	}
	logging.Info("recalculated size of %s: %dx%d", fileid, dims.Width, dims.Height)
	return dims, nil
}

// Optimize runs the optimizers over every zoom and the thumbnails.
func (s *Service) Optimize(ctx context.Context, fileid string) (optimizer.Report, error) {
	if s.optimizer == nil {
		return optimizer.Report{Skipped: true}, nil
	}
	ranges, err := s.Ranges(ctx, fileid)
	if err != nil {
		return optimizer.Report{}, err
	}
	_, ext, err := artifacts.FindUpload(ctx, s.store, s.layout, fileid)
	if err != nil {
		return optimizer.Report{}, notFound(err)
	}

	var total optimizer.Report
	for _, zoom := range ranges {
		r, err := s.optimizer.OptimizeZoom(ctx, fileid, zoom, ext)
		if err != nil {
			return total, err
		}
		total.Add(r)
	}
	r, err := s.optimizer.OptimizeThumbnails(ctx, fileid, ext)
	if err != nil {
		return total, err
	}
	total.Add(r)
	return total, nil
}

// Delete removes the image, every derived artifact and its flags. Artifacts
// are removed even when the catalog has no row, in which case the returned
// error wraps tiles.ErrNotFound.
func (s *Service) Delete(ctx context.Context, fileid string) error {
	if err := artifacts.ValidateFileID(fileid); err != nil {
		return fmt.Errorf("%w: %v", tiles.ErrInvalidInput, err)
	}

	candidates, err := s.layout.UploadCandidates(fileid)
	if err != nil {
		return err
	}
	for _, upload := range candidates {
		resized, err := s.store.Glob(ctx, artifacts.ResizedPattern(upload))
		if err != nil {
			return err
		}
		for _, p := range append(resized, upload) {
			if err := s.store.Remove(ctx, p); err != nil && !artifacts.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", p, err)
			}
		}
	}

	tileRoot, err := s.layout.TileRoot(fileid)
	if err != nil {
		return err
	}
	thumbDir, err := s.layout.ThumbnailDir(fileid)
	if err != nil {
		return err
	}
	for _, dir := range []string{tileRoot, thumbDir} {
		if err := s.store.RemoveAll(ctx, dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}

	if err := kv.DeleteAll(ctx, s.flags, fileid); err != nil {
		return err
	}
	if err := s.catalog.DeleteImage(ctx, fileid); err != nil {
		return notFound(err)
	}
	logging.Info("deleted %s", fileid)
	return nil
}
