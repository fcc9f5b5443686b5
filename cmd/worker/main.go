package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/activism/internal/application"
	"github.com/JonMunkholm/activism/internal/config"
	"github.com/JonMunkholm/activism/internal/logging"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if !cfg.Redis.Enabled() {
		slog.Error("REDIS_ADDR is required to run the worker")
		os.Exit(1)
	}

	app, err := application.Open(context.Background(), cfg, application.Options{})
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := asynq.NewServer(app.RedisOpt(), asynq.Config{
		Concurrency: cfg.Redis.Concurrency,
		Queues:      map[string]int{cfg.Redis.Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	app.Queue.RegisterHandlers(mux)

	// Run blocks until SIGINT or SIGTERM, then drains in-flight steps.
	slog.Info("worker starting", "concurrency", cfg.Redis.Concurrency, "queue", cfg.Redis.Queue)
	if err := srv.Run(mux); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("worker exited")
}
