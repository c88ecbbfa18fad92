// Command tiler-worker consumes pyramid jobs from the AMQP work queue and
// runs them with a local worker pool.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tiler/internal/app"
	"tiler/internal/logging"
	"tiler/internal/memory"
	"tiler/internal/metrics"
	"tiler/internal/queue/amqpqueue"
	"tiler/internal/startup"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	memResult := memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}
	startup.LogMemoryConfig(memResult)
	if config.AMQPURL == "" {
		logging.Fatal("tiler-worker requires AMQP_URL")
	}

	metrics.InitializeMetrics()
	monitor := app.MemoryMonitor(memResult)
	defer monitor.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, config, app.Options{ForceLocal: true, Pauser: monitor})
	if err != nil {
		logging.Fatal("Startup failed: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Warn("Shutdown error: %v", err)
		}
	}()

	if config.MetricsEnabled {
		srv := &http.Server{Addr: ":" + config.MetricsPort, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	worker, err := amqpqueue.DialWorker(amqpqueue.Config{URL: config.AMQPURL, Queue: config.AMQPQueue}, a.Local)
	if err != nil {
		logging.Error("Failed to connect to AMQP broker: %v", err)
		return
	}
	defer worker.Close()

	logging.Info("Consuming %s", config.AMQPQueue)
	if err := worker.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("Worker stopped: %v", err)
		return
	}
	logging.Info("Worker stopped")
}
