package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"tiler/internal/app"
	"tiler/internal/handlers"
	"tiler/internal/logging"
	"tiler/internal/memory"
	"tiler/internal/metrics"
	"tiler/internal/middleware"
	"tiler/internal/pyramid"
	"tiler/internal/startup"
)

func main() {
	startTime := time.Now()

	memResult := memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}
	startup.LogMemoryConfig(memResult)

	metrics.InitializeMetrics()
	monitor := app.MemoryMonitor(memResult)

	a, err := app.Open(context.Background(), config, app.Options{Pauser: monitor})
	if err != nil {
		logging.Fatal("Startup failed: %v", err)
	}

	collector := metrics.NewCollector(a.DB, time.Minute)
	collector.Start()

	h := handlers.New(a.Service, a.Store, a.DB)
	h.Pyramid = handlers.Pyramid{
		TileSize: pyramid.TileSize,
		MinZoom:  config.MinZoom,
		MaxZoom:  config.MaxZoom,
		Scaler:   a.Scaler,
		Queue:    config.QueueBackend,
	}

	router := mux.NewRouter()
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	h.Register(router)
	startup.LogHTTPRoutes(router, config.LogHTTP)

	var handler http.Handler = router
	if config.LogHTTP {
		handler = middleware.Logger(middleware.DefaultLoggingConfig())(router)
	}

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      config.JobTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", h.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		handleShutdown(srv, metricsSrv, a, collector, monitor)
		close(done)
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("Server error: %v", err)
	}
	<-done
}

func handleShutdown(srv, metricsSrv *http.Server, a *app.App, collector *metrics.Collector, monitor *memory.Monitor) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	collector.Stop()
	monitor.Stop()

	startup.LogShutdownStep("Stopping job queue and closing stores")
	if err := a.Close(); err != nil {
		logging.Warn("Shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Job queue and stores closed")
	}

	startup.LogShutdownComplete()
}
