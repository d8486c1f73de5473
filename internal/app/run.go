package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"climate-server/internal/cache"
	"climate-server/internal/config"
	"climate-server/internal/db"
	"climate-server/internal/ghcn"
	"climate-server/internal/httpapi"
	"climate-server/internal/migrate"
	"climate-server/internal/modules/climate"
	"climate-server/internal/modules/climate/aggregate"
	"climate-server/internal/modules/climate/directory"
	"climate-server/internal/modules/climate/ingest"
	"climate-server/internal/modules/climate/repository"
	"climate-server/internal/modules/climate/service"
	"climate-server/internal/scheduler"
)

func Run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"cacheBackend", cfg.CacheBackend,
		"stationsURL", cfg.StationsURL,
		"dailyBaseURL", cfg.DailyBaseURL,
		"upstreamTimeout", cfg.UpstreamTimeout,
		"maxAttempts", cfg.MaxAttempts,
		"importOnStart", cfg.ImportOnStart,
		"refreshInterval", cfg.RefreshInterval,
	)

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("database connection successful", "driver", cfg.Driver)

	store := openCacheStore(ctx, cfg, logger)
	responseCache := cache.New(store, cfg.CacheOpTimeout, logger)
	defer func() {
		if err := responseCache.Close(); err != nil {
			logger.Error("cache close", "error", err)
		}
	}()

	client := ghcn.NewClient(ghcn.ClientConfig{
		StationsURL:    cfg.StationsURL,
		InventoryURL:   cfg.InventoryURL,
		DailyBaseURL:   cfg.DailyBaseURL,
		Timeout:        cfg.UpstreamTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}, &http.Client{}, logger)

	dir := directory.New(repo, client, logger)
	flightTimeout := time.Duration(cfg.MaxAttempts) * (cfg.UpstreamTimeout + cfg.MaxBackoff)
	ingestor := ingest.New(repo, client, flightTimeout, logger)
	svc := service.NewService(dir, ingestor, aggregate.New(repo), responseCache, service.TTLs{
		Stations:     cfg.StationsCacheTTL,
		Temperatures: cfg.TemperatureCacheTTL,
	}, logger)

	mux := httpapi.NewMux(repo)
	climate.RegisterFeature(mux, svc)

	if cfg.ImportOnStart {
		go func() {
			if err := dir.EnsureLoaded(ctx); err != nil {
				logger.Warn("startup directory import failed (first search will retry)", "error", err)
			}
		}()
	}

	if cfg.RefreshInterval > 0 {
		sched := scheduler.New(dir, cfg.RefreshInterval, flightTimeout, logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

// openStore opens the configured database, applies migrations and returns
// the repository with its cleanup.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.ClimateRepository, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := db.OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		migrationDB := stdlib.OpenDBFromPool(pool)
		applied, err := migrate.Run(ctx, migrationDB, migrate.Postgres)
		_ = migrationDB.Close()
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied", "count", len(applied))
		return repository.NewPostgresRepository(pool), pool.Close, nil

	default:
		sqlDB, err := db.OpenSQLite(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		applied, err := migrate.Run(ctx, sqlDB, migrate.SQLite)
		if err != nil {
			_ = db.Close(sqlDB)
			return nil, nil, err
		}
		logger.Info("migrations applied", "count", len(applied))
		return repository.NewSQLiteRepository(sqlDB), func() {
			if err := db.Close(sqlDB); err != nil {
				logger.Error("db close", "error", err)
			}
		}, nil
	}
}

// openCacheStore picks the configured backend. An unreachable Redis is kept:
// the cache treats its errors as misses and recovers when Redis comes back.
func openCacheStore(ctx context.Context, cfg config.Config, logger *slog.Logger) cache.CacheStore {
	switch cfg.CacheBackend {
	case "redis":
		store, err := cache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, caching disabled", "error", err)
			return cache.Noop{}
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable (continuing, cache misses until it recovers)", "error", err)
		}
		return store
	case "none":
		return cache.Noop{}
	default:
		return cache.NewMemoryStore(cfg.TemperatureCacheTTL, 10*time.Minute)
	}
}
