package startup

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Version == "" || info.GoVersion == "" || info.OS == "" || info.Arch == "" {
		t.Errorf("incomplete build info: %+v", info)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STATIC_DIR", filepath.Join(dir, "static"))
	t.Setenv("DATABASE_DIR", filepath.Join(dir, "db"))
	for _, key := range []string{"MIN_ZOOM", "MAX_ZOOM", "SCALER", "QUEUE_BACKEND", "KV_BACKEND", "WAIT_CEILING", "WAIT_UNIT", "TILER_WORKERS", "RASTER_CACHE_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MinZoom != 2 || cfg.MaxZoom != 5 {
		t.Errorf("zoom bounds = %d..%d, want 2..5", cfg.MinZoom, cfg.MaxZoom)
	}
	if cfg.QueueBackend != "local" || cfg.KVBackend != "memory" || cfg.Scaler != "vips" {
		t.Errorf("backends = %s/%s/%s", cfg.QueueBackend, cfg.KVBackend, cfg.Scaler)
	}
	if cfg.WaitCeiling != 50 || cfg.WaitUnit != time.Second || cfg.GiveUpThreshold != 3 {
		t.Errorf("wait = %v x %d, threshold %d", cfg.WaitUnit, cfg.WaitCeiling, cfg.GiveUpThreshold)
	}
	if cfg.RasterCacheTTL != 10*time.Second {
		t.Errorf("RasterCacheTTL = %v, want 10s", cfg.RasterCacheTTL)
	}
	if cfg.DatabasePath != filepath.Join(dir, "db", "tiler.db") {
		t.Errorf("DatabasePath = %s", cfg.DatabasePath)
	}
	if _, err := os.Stat(cfg.StaticDir); err != nil {
		t.Errorf("static dir not created: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STATIC_DIR", dir)
	t.Setenv("DATABASE_DIR", dir)
	t.Setenv("MAX_ZOOM", "4")
	t.Setenv("WAIT_UNIT", "100ms")
	t.Setenv("KV_BACKEND", "bolt")
	t.Setenv("RASTER_CACHE_TTL", "not-a-duration")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxZoom != 4 || cfg.WaitUnit != 100*time.Millisecond || cfg.KVBackend != "bolt" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.RasterCacheTTL != 10*time.Second {
		t.Errorf("invalid duration should fall back, got %v", cfg.RasterCacheTTL)
	}
	if cfg.KVPath != filepath.Join(dir, "flags.db") {
		t.Errorf("KVPath = %s", cfg.KVPath)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{MinZoom: 2, MaxZoom: 5, Scaler: "imaging", QueueBackend: "local", KVBackend: "memory", WaitUnit: time.Second, WaitCeiling: 50}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"min above max", func(c *Config) { c.MinZoom = 6 }, true},
		{"negative min", func(c *Config) { c.MinZoom = -1 }, true},
		{"unknown scaler", func(c *Config) { c.Scaler = "magick" }, true},
		{"amqp without url", func(c *Config) { c.QueueBackend = "amqp" }, true},
		{"amqp with url", func(c *Config) { c.QueueBackend = "amqp"; c.AMQPURL = "amqp://localhost" }, false},
		{"unknown kv", func(c *Config) { c.KVBackend = "redis" }, true},
		{"zero ceiling", func(c *Config) { c.WaitCeiling = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TILER_TEST_BOOL", "yes")
	if got := getEnvBool("TILER_TEST_BOOL", true); !got {
		t.Error("invalid bool should fall back to default true")
	}
	t.Setenv("TILER_TEST_INT", "12")
	if got := getEnvInt("TILER_TEST_INT", 1); got != 12 {
		t.Errorf("getEnvInt = %d, want 12", got)
	}
	t.Setenv("TILER_TEST_INT", "twelve")
	if got := getEnvInt("TILER_TEST_INT", 1); got != 1 {
		t.Errorf("getEnvInt(invalid) = %d, want 1", got)
	}
}

func TestGetRoutes(t *testing.T) {
	r := mux.NewRouter()
	noop := func(http.ResponseWriter, *http.Request) {}
	r.HandleFunc("/health", noop).Methods(http.MethodGet).Name("health")
	r.HandleFunc("/api/images/{fileid}/prepare", noop).Methods(http.MethodPost)

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	if routes[0].Path != "/api/images/{fileid}/prepare" || routes[0].Method != http.MethodPost {
		t.Errorf("routes[0] = %+v", routes[0])
	}
	if routes[1].Name != "health" {
		t.Errorf("routes[1] = %+v", routes[1])
	}
}
