// Command tilerctl administers tile pyramids: ingest originals, prepare
// pyramids, inspect counts and manage upload locks.
//
// It reads the same environment as the server. Jobs run in process unless
// QUEUE_BACKEND=amqp, in which case they are published to the workers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tiler/internal/app"
	"tiler/internal/logging"
	"tiler/internal/startup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newCLI(openService).rootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openService(ctx context.Context) (imageService, func() error, error) {
	config, err := startup.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Open(ctx, config, app.Options{})
	if err != nil {
		return nil, nil, err
	}
	logging.Debug("tilerctl using %s queue", config.QueueBackend)
	return a.Service, a.Close, nil
}
