package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"tiler/internal/artifacts"
	"tiler/internal/database"
	"tiler/internal/pipeline"
	"tiler/internal/raster"
	"tiler/internal/tiles"
)

type fakeImages struct {
	tilePath string
	tileErr  error
	outcome  pipeline.Outcome
	prepErr  error
	status   *pipeline.Status
	statErr  error
	calls    []string
}

func (f *fakeImages) Tile(_ context.Context, fileid string, size, zoom, row, col int, ext string) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%d/%d/%d,%d.%s", fileid, size, zoom, row, col, ext))
	return f.tilePath, f.tileErr
}

func (f *fakeImages) Prepare(_ context.Context, fileid string) (pipeline.Outcome, error) {
	f.calls = append(f.calls, "prepare "+fileid)
	return f.outcome, f.prepErr
}

func (f *fakeImages) Status(_ context.Context, fileid string) (*pipeline.Status, error) {
	f.calls = append(f.calls, "status "+fileid)
	return f.status, f.statErr
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func tileRequest(vars map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/tiles/x", nil)
	return mux.SetURLVars(r, vars)
}

func tileVars(size string) map[string]string {
	return map[string]string{
		"c0": "a", "c12": "bc", "rest": "def123",
		"size": size, "zoom": "3", "row": "1", "col": "2", "ext": "png",
	}
}

func TestGetTile(t *testing.T) {
	store := artifacts.NewMemoryStore()
	store.Put("/static/tiles/a/bc/def123/256/3/1,2.png", []byte("tile-bytes"))

	tests := []struct {
		name        string
		vars        map[string]string
		tileErr     error
		wantCode    int
		wantCache   string
		wantBody    string
		wantType    string
		wantService bool
	}{
		{
			name: "served", vars: tileVars("256"),
			wantCode: http.StatusOK, wantCache: tileCacheControl, wantBody: "tile-bytes", wantType: "image/png", wantService: true,
		},
		{
			name: "invalid size", vars: tileVars("512"), tileErr: tiles.ErrInvalidSize,
			wantCode: http.StatusBadRequest, wantService: true,
		},
		{
			name: "source missing", vars: tileVars("256"), tileErr: fmt.Errorf("%w: abcdef123", tiles.ErrNotFound),
			wantCode: http.StatusNotFound, wantService: true,
		},
		{
			name: "transient failure", vars: tileVars("256"), tileErr: errors.New("disk full"),
			wantCode: http.StatusOK, wantCache: placeholderCacheControl, wantType: "image/png", wantService: true,
		},
		{
			name: "bad fileid split",
			vars: map[string]string{"c0": "ab", "c12": "c", "rest": "def123", "size": "256", "zoom": "3", "row": "1", "col": "2", "ext": "png"},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "non numeric row",
			vars: map[string]string{"c0": "a", "c12": "bc", "rest": "def123", "size": "256", "zoom": "3", "row": "x", "col": "2", "ext": "png"},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images := &fakeImages{tilePath: "/static/tiles/a/bc/def123/256/3/1,2.png", tileErr: tt.tileErr}
			h := New(images, store)

			w := httptest.NewRecorder()
			h.GetTile(w, tileRequest(tt.vars))

			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCache != "" && w.Header().Get("Cache-Control") != tt.wantCache {
				t.Errorf("Cache-Control = %q, want %q", w.Header().Get("Cache-Control"), tt.wantCache)
			}
			if tt.wantType != "" && w.Header().Get("Content-Type") != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", w.Header().Get("Content-Type"), tt.wantType)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
			if called := len(images.calls) > 0; called != tt.wantService {
				t.Errorf("service called = %v, want %v", called, tt.wantService)
			}
		})
	}
}

func TestGetTileParsesCoordinates(t *testing.T) {
	images := &fakeImages{tileErr: tiles.ErrNotFound}
	New(images, artifacts.NewMemoryStore()).GetTile(httptest.NewRecorder(), tileRequest(tileVars("256")))

	if len(images.calls) != 1 || images.calls[0] != "abcdef123/256/3/1,2.png" {
		t.Errorf("calls = %v", images.calls)
	}
}

// edgeScaler records the edges it is asked for and never produces output.
type edgeScaler struct{ edges []int }

func (s *edgeScaler) Name() string { return "edges" }

func (s *edgeScaler) Scale(_ context.Context, _ io.Reader, edge int, _ string, _ io.Writer) (raster.Dimensions, error) {
	s.edges = append(s.edges, edge)
	return raster.Dimensions{}, errors.New("unexpected scale")
}

// cropperImages serves tiles through a real Cropper.
type cropperImages struct {
	fakeImages
	cropper *tiles.Cropper
}

func (c *cropperImages) Tile(ctx context.Context, fileid string, size, zoom, row, col int, ext string) (string, error) {
	return c.cropper.MakeTile(ctx, fileid, size, zoom, row, col, ext)
}

func TestGetTileRejectsOutOfRangeCoordinates(t *testing.T) {
	store := artifacts.NewMemoryStore()
	scaler := &edgeScaler{}
	cropper := tiles.NewCropper(artifacts.NewLayout("/static"), store, tiles.NewResizer(store, scaler), nil)

	r := mux.NewRouter()
	New(&cropperImages{cropper: cropper}, store).Register(r)

	tests := []struct {
		path string
		want int
	}{
		{"/tiles/a/bc/def123/256/20/0,0.png", http.StatusBadRequest},
		{"/tiles/a/bc/def123/256/40/0,0.png", http.StatusBadRequest},
		{"/tiles/a/bc/def123/256/60/0,0.png", http.StatusBadRequest},
		{"/tiles/a/bc/def123/256/1/0,0.png", http.StatusBadRequest},
		{"/tiles/a/bc/def123/256/2/100000,100000.png", http.StatusBadRequest},
		{"/tiles/a/bc/def123/256/2/4,0.png", http.StatusBadRequest},
		{"/tiles/a/bc/def123/256/3/0,9.png", http.StatusBadRequest},
		{"/tiles/a/bc/def123/256/3/8,8.png", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if w.Code != tt.want {
			t.Errorf("%s: code = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
	if len(scaler.edges) != 0 {
		t.Errorf("scaler asked for edges %v", scaler.edges)
	}
}

func TestPlaceholderIsPNG(t *testing.T) {
	data := placeholder()
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Fatalf("placeholder is not a PNG (%d bytes)", len(data))
	}
}

func TestPrepareImage(t *testing.T) {
	tests := []struct {
		name     string
		outcome  pipeline.Outcome
		err      error
		wantCode int
	}{
		{"complete", pipeline.Outcome{FileID: "abcdef123", Done: 8, Total: 8}, nil, http.StatusOK},
		{"partial", pipeline.Outcome{FileID: "abcdef123", Partial: true, Done: 5, Total: 8}, nil, http.StatusAccepted},
		{"gave up", pipeline.Outcome{FileID: "abcdef123", GaveUp: true, Done: 2, Total: 8}, nil, http.StatusServiceUnavailable},
		{"not found", pipeline.Outcome{}, tiles.ErrNotFound, http.StatusNotFound},
		{"no zooms", pipeline.Outcome{}, tiles.ErrInvalidInput, http.StatusBadRequest},
		{"internal", pipeline.Outcome{}, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeImages{outcome: tt.outcome, prepErr: tt.err}, artifacts.NewMemoryStore())
			r := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/api/images/abcdef123/prepare", nil),
				map[string]string{"fileid": "abcdef123"})
			w := httptest.NewRecorder()
			h.PrepareImage(w, r)

			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.err != nil {
				return
			}
			var got pipeline.Outcome
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Done != tt.outcome.Done || got.GaveUp != tt.outcome.GaveUp || got.Partial != tt.outcome.Partial {
				t.Errorf("outcome = %+v, want %+v", got, tt.outcome)
			}
		})
	}
}

func TestGetImage(t *testing.T) {
	st := &pipeline.Status{
		Image: &database.Image{FileID: "abcdef123", Width: 600, Height: 300, Ranges: []int{2}},
		Tiles: tiles.Counts{Found: 16, Expected: 16},
		Lock:  pipeline.LockState{Locked: true, Label: "59 minutes left"},
	}
	h := New(&fakeImages{status: st}, artifacts.NewMemoryStore())

	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/images/abcdef123", nil),
		map[string]string{"fileid": "abcdef123"})
	w := httptest.NewRecorder()
	h.GetImage(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"image", "tiles", "uploading_locked"} {
		if _, ok := got[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}

	h = New(&fakeImages{statErr: fmt.Errorf("%w: abcdef123", tiles.ErrNotFound)}, artifacts.NewMemoryStore())
	w = httptest.NewRecorder()
	h.GetImage(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing image code = %d, want 404", w.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	h := New(&fakeImages{}, artifacts.NewMemoryStore(), fakePinger{})
	w := httptest.NewRecorder()
	h.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("ready code = %d", w.Code)
	}

	down := New(&fakeImages{}, artifacts.NewMemoryStore(), fakePinger{err: errors.New("database is locked")})
	w = httptest.NewRecorder()
	down.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready code = %d", w.Code)
	}

	w = httptest.NewRecorder()
	down.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != statusDegraded || resp.Ready {
		t.Errorf("health = %+v", resp)
	}

	w = httptest.NewRecorder()
	down.LivenessCheck(w, httptest.NewRequest(http.MethodHead, "/livez", nil))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("HEAD /livez = %d with %d bytes", w.Code, w.Body.Len())
	}
}

func TestRegisterRoutes(t *testing.T) {
	store := artifacts.NewMemoryStore()
	store.Put("/static/tiles/a/bc/def123/256/2/0,0.jpg", []byte("jpeg"))
	images := &fakeImages{tilePath: "/static/tiles/a/bc/def123/256/2/0,0.jpg"}

	r := mux.NewRouter()
	New(images, store).Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tiles/a/bc/def123/256/2/0,0.jpg", nil))
	if w.Code != http.StatusOK || w.Body.String() != "jpeg" {
		t.Fatalf("tile route = %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
	if images.calls[0] != "abcdef123/256/2/0,0.jpg" {
		t.Errorf("calls = %v", images.calls)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	if w.Code != http.StatusOK {
		t.Errorf("version code = %d", w.Code)
	}
}

func TestGetVersionReportsPyramid(t *testing.T) {
	h := New(&fakeImages{}, artifacts.NewMemoryStore())
	h.Pyramid = Pyramid{TileSize: 256, MinZoom: 1, MaxZoom: 7, Scaler: "imaging", Queue: "amqp"}

	w := httptest.NewRecorder()
	h.GetVersion(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}

	var body struct {
		Version string  `json:"version"`
		Pyramid Pyramid `json:"pyramid"`
		Uptime  string  `json:"uptime"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Version == "" || body.Uptime == "" {
		t.Errorf("version = %q, uptime = %q", body.Version, body.Uptime)
	}
	if body.Pyramid != h.Pyramid {
		t.Errorf("pyramid = %+v, want %+v", body.Pyramid, h.Pyramid)
	}

	if def := New(&fakeImages{}, artifacts.NewMemoryStore()).Pyramid; def.TileSize != 256 || def.MinZoom != 2 || def.MaxZoom != 5 {
		t.Errorf("default pyramid = %+v", def)
	}
}
