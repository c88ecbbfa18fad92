package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"tiler/internal/artifacts"
	"tiler/internal/database"
	"tiler/internal/kv"
	"tiler/internal/pyramid"
	"tiler/internal/queue"
	"tiler/internal/raster"
	"tiler/internal/rastercache"
	"tiler/internal/tiles"
)

type env struct {
	layout  artifacts.Layout
	store   *artifacts.MemoryStore
	flags   *kv.MemoryStore
	db      *database.Database
	local   *queue.Local
	runner  *Runner
	service *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		layout: artifacts.NewLayout("/static"),
		store:  artifacts.NewMemoryStore(),
		flags:  kv.NewMemoryStore(),
	}

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "tiler.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	e.db = db

	cache, err := rastercache.New(rastercache.Options{})
	if err != nil {
		t.Fatal(err)
	}
	resizer := tiles.NewResizer(e.store, raster.ImagingScaler{})
	cropper := tiles.NewCropper(e.layout, e.store, resizer, cache)
	thumbs := tiles.NewThumbnailer(e.layout, e.store, resizer)
	e.runner = NewRunner(e.layout, e.store, resizer, cropper, thumbs, nil)

	e.local = queue.NewLocal(e.runner, queue.LocalConfig{Workers: 2, RetryBackoff: time.Millisecond})
	e.local.Start()

	scheduler := NewScheduler(e.local, kv.NewUploadLock(e.flags), kv.NewTileCountCache(e.flags), SchedulerConfig{
		MinZoom:  pyramid.DefaultMinZoom,
		WaitUnit: 5 * time.Millisecond,
		Optimize: true,
	})
	e.service = NewService(Deps{
		Catalog:   db,
		Layout:    e.layout,
		Store:     e.store,
		Flags:     e.flags,
		Scheduler: scheduler,
		Cropper:   cropper,
	})

	t.Cleanup(func() {
		e.local.Close()
		e.flags.Close()
		db.Close()
	})
	return e
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := raster.Encode(&buf, img, artifacts.ExtPNG, 0); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIngestPrepareCount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	img, err := e.service.Ingest(ctx, bytes.NewReader(pngBytes(t, 600, 300)), "image/png", testFileID)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if img.Width != 600 || img.Height != 300 {
		t.Fatalf("ingested size %dx%d, want 600x300", img.Width, img.Height)
	}

	ranges, err := e.service.Ranges(ctx, testFileID)
	if err != nil {
		t.Fatalf("Ranges: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != 2 {
		t.Fatalf("Ranges = %v, want [2]", ranges)
	}
	stored, _ := e.db.GetImage(ctx, testFileID)
	if len(stored.Ranges) != 1 {
		t.Errorf("ranges not persisted: %+v", stored)
	}

	outcome, err := e.service.Prepare(ctx, testFileID)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if outcome.GaveUp || outcome.Partial || outcome.Done != outcome.Total {
		t.Fatalf("outcome = %+v, want complete", outcome)
	}

	counts, cached, err := e.service.Count(ctx, testFileID)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if cached || counts.Found != 16 || counts.Expected != 16 || !counts.Complete() {
		t.Errorf("Count = %+v (cached %v), want 16/16 fresh", counts, cached)
	}
	counts, cached, _ = e.service.Count(ctx, testFileID)
	if !cached || counts.Found != 16 {
		t.Errorf("second Count = %+v (cached %v), want cached 16", counts, cached)
	}

	for _, width := range tiles.ThumbnailWidths {
		p, _ := e.layout.ThumbnailPath(testFileID, width, "png")
		if ok, _ := e.store.Exists(ctx, p); !ok {
			t.Errorf("thumbnail %d missing", width)
		}
	}

	st, err := e.service.Status(ctx, testFileID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Lock.Locked || st.Lock.Label == "" || st.Lock.Since.IsZero() {
		t.Errorf("Status lock = %+v, want locked with a set time", st.Lock)
	}

	// Re-running is safe and produces nothing new.
	if outcome, err := e.service.Prepare(ctx, testFileID); err != nil || outcome.GaveUp {
		t.Errorf("second Prepare = %+v, %v", outcome, err)
	}
	tile, _ := e.layout.TilePath(testFileID, 256, 2, 1, 1, "png")
	if n := e.store.Writes(tile); n != 1 {
		t.Errorf("tile written %d times, want 1", n)
	}
}

func TestIngestErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.service.Ingest(ctx, bytes.NewReader(nil), "image/gif", ""); !errors.Is(err, tiles.ErrInvalidInput) {
		t.Errorf("gif ingest = %v, want ErrInvalidInput", err)
	}
	if _, err := e.service.Ingest(ctx, bytes.NewReader([]byte("not an image")), "image/png", testFileID); !errors.Is(err, tiles.ErrInvalidInput) {
		t.Errorf("garbage ingest = %v, want ErrInvalidInput", err)
	}
	if path, _ := e.layout.UploadPath(testFileID, "png"); e.store.Writes(path) != 1 {
		t.Error("garbage upload not written once")
	} else if ok, _ := e.store.Exists(ctx, path); ok {
		t.Error("garbage upload left behind")
	}

	img, err := e.service.Ingest(ctx, bytes.NewReader(pngBytes(t, 10, 10)), "image/png", "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(img.FileID) != artifacts.FileIDLength {
		t.Errorf("generated fileid %q", img.FileID)
	}
	if _, err := e.service.Ingest(ctx, bytes.NewReader(pngBytes(t, 10, 10)), "image/png", img.FileID); !errors.Is(err, database.ErrExists) {
		t.Errorf("duplicate ingest = %v, want ErrExists", err)
	}
}

// sizeFailingCatalog records rows but cannot store their size.
type sizeFailingCatalog struct {
	*database.Database
}

var errSizeWrite = errors.New("size column unwritable")

func (c sizeFailingCatalog) SetSize(context.Context, string, int, int) error {
	return errSizeWrite
}

func TestIngestSetSizeFailureCleansUp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	service := NewService(Deps{
		Catalog: sizeFailingCatalog{e.db},
		Layout:  e.layout,
		Store:   e.store,
		Flags:   e.flags,
	})

	if _, err := service.Ingest(ctx, bytes.NewReader(pngBytes(t, 20, 20)), "image/png", testFileID); !errors.Is(err, errSizeWrite) {
		t.Fatalf("Ingest = %v, want the SetSize error", err)
	}
	path, _ := e.layout.UploadPath(testFileID, "png")
	if ok, _ := e.store.Exists(ctx, path); ok {
		t.Error("upload left behind after SetSize failure")
	}
	if _, err := e.db.GetImage(ctx, testFileID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("catalog row = %v, want ErrNotFound", err)
	}

	// The same fileid can be ingested again once the size is writable.
	if _, err := e.service.Ingest(ctx, bytes.NewReader(pngBytes(t, 20, 20)), "image/png", testFileID); err != nil {
		t.Errorf("retry Ingest: %v", err)
	}
}

func TestLockOperations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.service.Ingest(ctx, bytes.NewReader(pngBytes(t, 20, 20)), "image/png", testFileID); err != nil {
		t.Fatal(err)
	}

	if err := e.service.Lock(ctx, testFileID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	left, err := e.service.LockMore(ctx, testFileID)
	if err != nil {
		t.Fatalf("LockMore: %v", err)
	}
	if left <= kv.UploadLockTTL || left > 2*kv.UploadLockTTL {
		t.Errorf("LockMore = %v, want just under 2h", left)
	}
	if err := e.service.Unlock(ctx, testFileID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if st, _ := e.service.LockState(ctx, testFileID); st.Locked {
		t.Error("still locked")
	}
	if err := e.service.Lock(ctx, "missing00"); !errors.Is(err, tiles.ErrNotFound) {
		t.Errorf("Lock(missing) = %v, want ErrNotFound", err)
	}
}

func TestRecalculateSize(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.service.Ingest(ctx, bytes.NewReader(pngBytes(t, 40, 30)), "image/png", testFileID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.service.Ranges(ctx, testFileID); err != nil {
		t.Fatal(err)
	}
	e.db.OverrideSize(ctx, testFileID, 1, 1)

	dims, err := e.service.RecalculateSize(ctx, testFileID)
	if err != nil {
		t.Fatalf("RecalculateSize: %v", err)
	}
	if dims.Width != 40 || dims.Height != 30 {
		t.Errorf("dims = %+v, want 40x30", dims)
	}
	img, _ := e.db.GetImage(ctx, testFileID)
	if img.Width != 40 || img.Ranges != nil {
		t.Errorf("after recalc: %+v", img)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.service.Ingest(ctx, bytes.NewReader(pngBytes(t, 300, 300)), "image/png", testFileID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.service.Prepare(ctx, testFileID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.service.Count(ctx, testFileID); err != nil {
		t.Fatal(err)
	}

	if err := e.service.Delete(ctx, testFileID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	left, _ := e.store.Glob(ctx, "/static/*/*/*/*")
	deeper, _ := e.store.Glob(ctx, "/static/tiles/*/*/*/*/*/*")
	thumbs, _ := e.store.Glob(ctx, "/static/thumbnails/*/*/*/*")
	if len(left)+len(deeper)+len(thumbs) != 0 {
		t.Errorf("artifacts left: %v %v %v", left, deeper, thumbs)
	}
	for _, key := range []string{kv.UploadLockKey(testFileID), kv.TileCountKey(testFileID)} {
		if _, ok, _ := e.flags.Get(ctx, key); ok {
			t.Errorf("%s survived Delete", key)
		}
	}
	if _, err := e.service.Image(ctx, testFileID); !errors.Is(err, tiles.ErrNotFound) {
		t.Errorf("Image after Delete = %v, want ErrNotFound", err)
	}
	if err := e.service.Delete(ctx, testFileID); !errors.Is(err, tiles.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestRunnerErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec queue.Spec
	}{
		{"bad tile size", queue.Spec{Kind: queue.KindTiles, FileID: testFileID, TileSize: 512, Ext: "png"}},
		{"missing upload", queue.Spec{Kind: queue.KindResize, FileID: testFileID, Zoom: 2}},
		{"tiles zoom past max", queue.Spec{Kind: queue.KindTiles, FileID: testFileID, TileSize: 256, Zoom: 40, Ext: "png"}},
		{"tiles past grid", queue.Spec{Kind: queue.KindTiles, FileID: testFileID, TileSize: 256, Zoom: 2, Rows: 100000, Cols: 0, Ext: "png"}},
		{"unknown kind", queue.Spec{Kind: "rotate", FileID: testFileID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.runner.Run(ctx, tt.spec)
			if err == nil || !queue.IsPermanent(err) {
				t.Errorf("Run = %v, want permanent error", err)
			}
		})
	}

	out, err := e.runner.Run(ctx, queue.Spec{Kind: queue.KindOptimize, FileID: testFileID, Ext: "png"})
	if err != nil {
		t.Fatalf("optimize without optimizer: %v", err)
	}
	var report struct {
		Skipped bool `json:"skipped"`
	}
	if err := json.Unmarshal(out, &report); err != nil || !report.Skipped {
		t.Errorf("optimize output = %s", out)
	}
}
