package startup

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tiler/internal/logging"
)

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logSection("DATABASE INITIALIZATION")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogRasterInit logs which scaler serves resize jobs.
func LogRasterInit(requested, active string) {
	logging.Info("")
	logSection("RASTER INITIALIZATION")
	if requested != active {
		logging.Warn("  Scaler %q unavailable, using %q", requested, active)
		return
	}
	logging.Info("  [OK] Scaler: %s", active)
}

// LogQueueInit logs the job queue backend.
func LogQueueInit(backend string, workers int) {
	logging.Info("")
	logSection("JOB QUEUE INITIALIZATION")
	if backend == "amqp" {
		logging.Info("  [OK] AMQP publisher ready (jobs run in tiler-worker)")
		return
	}
	logging.Info("  [OK] Local pool with %d workers", workers)
}

// LogOptimizerInit checks the optimizer binaries. Missing tools only
// disable their pass.
func LogOptimizerInit(enabled bool) {
	logging.Info("")
	logSection("OPTIMIZER INITIALIZATION")
	if !enabled {
		logging.Info("  Optimizer disabled (OPTIMIZE_ENABLED=false)")
		return
	}
	for _, tool := range []string{"jpegoptim", "optipng"} {
		if version, err := toolVersion(tool); err != nil {
			logging.Warn("  %s not available: %v", tool, err)
		} else {
			logging.Info("  [OK] %s: %s", tool, version)
		}
	}
}

func toolVersion(name string) (string, error) {
	if _, err := exec.LookPath(name); err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get %s version: %w", name, err)
	}
	first, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(first), nil
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		for _, method := range methods {
			routes = append(routes, RouteInfo{Method: method, Path: pathTemplate, Name: route.GetName()})
		}
		return nil
	})

	sort.SliceStable(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	return routes, err
}

// LogHTTPRoutes logs the registered routes at debug level.
func LogHTTPRoutes(router *mux.Router, logHTTP bool) {
	logging.Info("")
	logSection("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}
		logging.Debug("  Registered routes (%d total):", len(routes))
		for _, route := range routes {
			logging.Debug("    %-6s %s", route.Method, route.Path)
		}
	}

	if logHTTP {
		logging.Info("  HTTP request logging: ON")
	} else {
		logging.Info("  HTTP request logging: OFF (set LOG_HTTP=true to enable)")
	}
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logSection("SERVER STARTED")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("  Tiles:           http://0.0.0.0:%s/tiles/", config.Port)
	if config.MetricsEnabled {
		logging.Info("  Metrics:         http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("  Metrics:         DISABLED")
	}
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logSection(fmt.Sprintf("SHUTDOWN INITIATED (received %s)", signal))
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}
