package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/sfmovies/filmlocations/internal/cache"
	"github.com/sfmovies/filmlocations/internal/config"
	"github.com/sfmovies/filmlocations/internal/influx"
	"github.com/sfmovies/filmlocations/internal/rank"
	"github.com/sfmovies/filmlocations/internal/storage"
	"github.com/sfmovies/filmlocations/internal/storage/memory"
	pgstorage "github.com/sfmovies/filmlocations/internal/storage/postgres"
	sqlitestorage "github.com/sfmovies/filmlocations/internal/storage/sqlite"
	"github.com/spf13/viper"
)

func initStorage() (storage.Backend, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "error", err)
		return nil, err
	}
	Logger.Info("Storage backend initialized", "type", storageCfg.Type)
	return backend, nil
}

func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	return storage.NewBackend(storageCfg.Type, map[string]storage.Constructor{
		"memory": func() (storage.Backend, error) {
			return memory.New(), nil
		},
		"sqlite": func() (storage.Backend, error) {
			return sqlitestorage.New(storageCfg.SQLite, ZLogger)
		},
		"postgres": func() (storage.Backend, error) {
			return pgstorage.New(ZLogger)
		},
	})
}

// initCache connects to redis when enabled and falls back to an in-process
// cache otherwise.
func initCache(ctx context.Context) (cache.Store, func()) {
	if !viper.GetBool("redis.enabled") {
		Logger.Info("Using in-process query cache")
		return cache.NewMemory(), func() {}
	}

	r, err := cache.NewRedis(ctx, cache.RedisConfig{
		Address:  viper.GetString("redis.address"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	if err != nil {
		Logger.Warn("Redis unavailable, using in-process query cache", "error", err)
		return cache.NewMemory(), func() {}
	}
	Logger.Info("Using redis query cache", "address", viper.GetString("redis.address"))
	return r, func() { _ = r.Close() }
}

// initClickAnalytics writes clicks to InfluxDB in batches. It returns a nil
// tracker when influx is disabled or cannot be set up.
func initClickAnalytics(ctx context.Context) (rank.Tracker, func()) {
	backup := filepath.Join(viper.GetString("logsDir"), "clicks.lp.gz")
	mgr := influx.NewManager(ZLogger, backup)
	if err := mgr.Connect(ctx); err != nil {
		if errors.Is(err, influx.ErrDisabled) {
			Logger.Info("Click analytics disabled")
		} else {
			Logger.Warn("Failed to set up click analytics", "error", err)
		}
		return nil, func() {}
	}

	batched := rank.NewBatched(rank.NewInfluxTracker(mgr), rank.DefaultFlushInterval, Logger.With("component", "click-analytics"))
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		batched.Run(runCtx)
	}()

	return batched, func() {
		cancel()
		<-done
		if err := mgr.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB client", "error", err)
		}
	}
}
