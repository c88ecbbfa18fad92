package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"tiler/internal/logging"
	"tiler/internal/memory"
	"tiler/internal/pyramid"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration
type Config struct {
	StaticDir      string
	DatabaseDir    string
	Port           string
	MetricsPort    string
	MetricsEnabled bool
	LogHTTP        bool

	// Pyramid
	MinZoom     int
	MaxZoom     int
	Scaler      string
	JPEGQuality int

	// Raster cache
	RasterCacheTTL        time.Duration
	RasterCacheMaxEntries int

	// Jobs
	Workers         int
	QueueBackend    string
	AMQPURL         string
	AMQPQueue       string
	JobTimeout      time.Duration
	WaitUnit        time.Duration
	WaitCeiling     int
	GiveUpThreshold int
	OptimizeEnabled bool

	// Flags
	KVBackend string

	// Derived paths
	DatabasePath string
	KVPath       string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logSection("CONFIGURATION")

	config := &Config{
		StaticDir:      getEnv("STATIC_DIR", "/static"),
		DatabaseDir:    getEnv("DATABASE_DIR", "/database"),
		Port:           getEnv("PORT", "8080"),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		LogHTTP:        getEnvBool("LOG_HTTP", true),

		MinZoom:     getEnvInt("MIN_ZOOM", pyramid.DefaultMinZoom),
		MaxZoom:     getEnvInt("MAX_ZOOM", pyramid.DefaultMaxZoom),
		Scaler:      getEnv("SCALER", "vips"),
		JPEGQuality: getEnvInt("JPEG_QUALITY", 90),

		RasterCacheTTL:        getEnvDuration("RASTER_CACHE_TTL", 10*time.Second),
		RasterCacheMaxEntries: getEnvInt("RASTER_CACHE_MAX_ENTRIES", 8),

		Workers:         getEnvInt("TILER_WORKERS", 0),
		QueueBackend:    getEnv("QUEUE_BACKEND", "local"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		AMQPQueue:       getEnv("AMQP_QUEUE", "tiler.jobs"),
		JobTimeout:      getEnvDuration("JOB_TIMEOUT", 5*time.Minute),
		WaitUnit:        getEnvDuration("WAIT_UNIT", time.Second),
		WaitCeiling:     getEnvInt("WAIT_CEILING", 50),
		GiveUpThreshold: getEnvInt("GIVE_UP_THRESHOLD", 3),
		OptimizeEnabled: getEnvBool("OPTIMIZE_ENABLED", true),

		KVBackend: getEnv("KV_BACKEND", "memory"),
	}

	logging.Info("  STATIC_DIR:               %s", config.StaticDir)
	logging.Info("  DATABASE_DIR:             %s", config.DatabaseDir)
	logging.Info("  PORT:                     %s", config.Port)
	logging.Info("  METRICS_PORT:             %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:          %v", config.MetricsEnabled)
	logging.Info("  LOG_HTTP:                 %v", config.LogHTTP)
	logging.Info("  LOG_LEVEL:                %s", logging.GetLevel())
	logging.Info("  MIN_ZOOM / MAX_ZOOM:      %d / %d", config.MinZoom, config.MaxZoom)
	logging.Info("  SCALER:                   %s", config.Scaler)
	logging.Info("  RASTER_CACHE_TTL:         %v", config.RasterCacheTTL)
	logging.Info("  RASTER_CACHE_MAX_ENTRIES: %d", config.RasterCacheMaxEntries)
	logging.Info("  QUEUE_BACKEND:            %s", config.QueueBackend)
	logging.Info("  TILER_WORKERS:            %s", workersString(config.Workers))
	logging.Info("  JOB_TIMEOUT:              %v", config.JobTimeout)
	logging.Info("  WAIT_UNIT / WAIT_CEILING: %v / %d", config.WaitUnit, config.WaitCeiling)
	logging.Info("  GIVE_UP_THRESHOLD:        %d", config.GiveUpThreshold)
	logging.Info("  OPTIMIZE_ENABLED:         %v", config.OptimizeEnabled)
	logging.Info("  KV_BACKEND:               %s", config.KVBackend)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logging.Info("")
	logSection("DIRECTORY SETUP")

	var err error
	if config.StaticDir, err = filepath.Abs(config.StaticDir); err != nil {
		return nil, fmt.Errorf("failed to resolve static directory path: %w", err)
	}
	if config.DatabaseDir, err = filepath.Abs(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	config.DatabasePath = filepath.Join(config.DatabaseDir, "tiler.db")
	config.KVPath = filepath.Join(config.DatabaseDir, "flags.db")

	for _, dir := range []struct{ path, name string }{
		{config.StaticDir, "static"},
		{config.DatabaseDir, "database"},
	} {
		logging.Info("  %s directory: %s", dir.name, dir.path)
		if err := ensureDirectory(dir.path); err != nil {
			return nil, fmt.Errorf("%s directory error: %w", dir.name, err)
		}
		if err := testWriteAccess(dir.path); err != nil {
			return nil, fmt.Errorf("%s directory is not writable: %w", dir.name, err)
		}
		logging.Info("  [OK] %s directory is writable", dir.name)
	}

	return config, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.MinZoom < 0 || c.MinZoom > c.MaxZoom || c.MaxZoom > pyramid.ZoomLimit {
		return fmt.Errorf("invalid zoom bounds MIN_ZOOM=%d MAX_ZOOM=%d", c.MinZoom, c.MaxZoom)
	}
	switch c.Scaler {
	case "vips", "imaging":
	default:
		return fmt.Errorf("invalid SCALER %q (vips or imaging)", c.Scaler)
	}
	switch c.QueueBackend {
	case "local":
	case "amqp":
		if c.AMQPURL == "" {
			return fmt.Errorf("QUEUE_BACKEND=amqp requires AMQP_URL")
		}
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q (local or amqp)", c.QueueBackend)
	}
	switch c.KVBackend {
	case "memory", "bolt":
	default:
		return fmt.Errorf("invalid KV_BACKEND %q (memory or bolt)", c.KVBackend)
	}
	if c.WaitCeiling <= 0 || c.WaitUnit <= 0 {
		return fmt.Errorf("WAIT_UNIT and WAIT_CEILING must be positive")
	}
	return nil
}

func workersString(n int) string {
	if n <= 0 {
		return "auto"
	}
	return strconv.Itoa(n)
}

func logSection(title string) {
	logging.Info("------------------------------------------------------------")
	logging.Info("%s", title)
	logging.Info("------------------------------------------------------------")
}

func printBanner() {
	if logging.GetLevel() > logging.LevelInfo {
		return
	}
	banner := `
------------------------------------------------------------
  __  _ __
 / /_(_) /__ ____
/ __/ / / -_) __/
\__/_/_/\__/_/

------------------------------------------------------------`
	fmt.Fprintln(os.Stderr, banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logSection("SYSTEM INFORMATION")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))
	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}
	if hostname, err := os.Hostname(); err == nil {
		logging.Debug("  Hostname:        %s", hostname)
	}
	logging.Info("")
}

func ensureDirectory(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// LogMemoryConfig logs the GOMEMLIMIT configuration.
func LogMemoryConfig(result memory.ConfigResult) {
	logging.Info("")
	logSection("MEMORY")
	if result.Configured {
		logging.Info("  [OK] %s", result)
	} else {
		logging.Info("  %s (set MEMORY_LIMIT to configure GOMEMLIMIT)", result)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
