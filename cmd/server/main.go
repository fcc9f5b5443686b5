package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/activism/internal/application"
	"github.com/JonMunkholm/activism/internal/config"
	"github.com/JonMunkholm/activism/internal/logging"
	"github.com/JonMunkholm/activism/internal/web"
)

func main() {
	// Overload lets .env win over variables already in the environment
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"queue_enabled", cfg.Redis.Enabled(),
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"ical_sync_interval", cfg.ICal.SyncInterval,
	)

	ctx := context.Background()
	app, err := application.Open(ctx, cfg, application.Options{Metrics: cfg.Metrics.Enabled})
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := web.NewServer(app.Service, cfg, app.Metrics)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	if cfg.ICal.SyncInterval > 0 {
		go app.Service.StartResync(jobCtx, cfg.ICal.SyncInterval)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Runs outlive the requests that started them
		if status := app.Service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for batch runs to complete", "active", status.Active)
		}
		if err := app.Service.Wait(shutdownCtx); err != nil {
			slog.Warn("batch runs did not complete in time", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	<-done
}
