// Package application wires configuration into the running components
// shared by the server, worker and CLI binaries.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/activism/internal/batch"
	"github.com/JonMunkholm/activism/internal/config"
	"github.com/JonMunkholm/activism/internal/core"
	"github.com/JonMunkholm/activism/internal/entity"
	"github.com/JonMunkholm/activism/internal/geocode"
	"github.com/JonMunkholm/activism/internal/importer"
	"github.com/JonMunkholm/activism/internal/metrics"
	"github.com/JonMunkholm/activism/internal/service"
	"github.com/JonMunkholm/activism/internal/store/postgres"
)

// Options selects optional components.
type Options struct {
	// InProcess runs batches in the calling process even when redis is
	// configured.
	InProcess bool
	// Metrics creates the prometheus collectors.
	Metrics bool
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Registry *core.Registry
	Adapter  *entity.Adapter
	Redis    *redis.Client
	Tasks    *asynq.Client
	Queue    *batch.Queue
	Metrics  *metrics.Metrics
	Service  *service.Service
}

// Open connects to PostgreSQL and, unless InProcess is set, redis, and
// builds the service.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Registry: core.NewRegistry()}

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	store := postgres.New(a.Pool)
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	var validator core.AddressValidator = geocode.AcceptAll{}
	adapterOpts := []entity.Option{entity.WithLogger(slog.Default())}
	if cfg.Geocoder.APIKey != "" {
		g := geocode.NewGoogle(geocode.Config{
			APIKey:   cfg.Geocoder.APIKey,
			Endpoint: cfg.Geocoder.Endpoint,
			Language: cfg.Geocoder.Language,
			Timeout:  cfg.Geocoder.Timeout,
			RetryMax: cfg.Geocoder.RetryMax,
		})
		validator = g
		adapterOpts = append(adapterOpts, entity.WithGeocoder(g))
	} else {
		slog.Warn("no geocoder API key, accepting every address")
	}

	a.Adapter = entity.New(a.Registry, store,
		core.StoreResultTypes{Store: store, Registry: a.Registry},
		core.StoreTerms{Store: store},
		adapterOpts...,
	)

	svcOpts := []service.Option{
		service.WithHTTPClient(importer.NewHTTPClient(cfg.ICal.FetchTimeout, cfg.ICal.RetryMax)),
		service.WithLogger(slog.Default()),
	}
	if opts.Metrics {
		a.Metrics = metrics.New()
		svcOpts = append(svcOpts, service.WithMetrics(a.Metrics))
	}
	if cfg.Redis.Enabled() && !opts.InProcess {
		if err := a.openRedis(ctx); err != nil {
			a.Close()
			return nil, err
		}
		progress := batch.NewRedisProgress(a.Redis, cfg.Redis.ProgressTTL)
		a.Queue = batch.NewQueue(a.Tasks, progress, batch.WithQueueName(cfg.Redis.Queue))
		svcOpts = append(svcOpts, service.WithQueue(a.Queue), service.WithProgressStore(progress))
	}

	a.Service = service.New(a.Adapter, validator, service.Config{
		BatchSize:     cfg.Import.BatchSize,
		Strict:        cfg.Import.Strict,
		UploadDir:     cfg.Import.UploadDir,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
	}, svcOpts...)
	if a.Queue != nil {
		a.Service.RegisterJobs(a.Queue)
	}
	return a, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	cfg := a.Config.Database
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.Pool = pool

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	cfg := a.Config.Redis
	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Tasks = asynq.NewClient(a.RedisOpt())
	slog.Info("connected to redis", "addr", cfg.Addr, "queue", cfg.Queue)
	return nil
}

// RedisOpt returns the asynq connection options.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// Close releases every connection.
func (a *App) Close() {
	if a.Tasks != nil {
		if err := a.Tasks.Close(); err != nil {
			slog.Warn("close task client", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
