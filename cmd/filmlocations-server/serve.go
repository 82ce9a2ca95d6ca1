package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sfmovies/filmlocations/internal/cache"
	"github.com/sfmovies/filmlocations/internal/handlers"
	"github.com/sfmovies/filmlocations/internal/monitor"
	"github.com/sfmovies/filmlocations/internal/rank"
	"github.com/sfmovies/filmlocations/internal/relay"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, seed string) error {
	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			Logger.Warn("Failed to close storage backend", "error", err)
		}
	}()

	if seed != "" {
		if _, err := runImport(ctx, backend, seed); err != nil {
			return err
		}
	}

	store, closeCache := initCache(ctx)
	defer closeCache()

	tracker, closeTracker := initClickAnalytics(ctx)
	defer closeTracker()

	status := monitor.NewService(monitor.Dependencies{
		Store:         backend,
		PendingClicks: pendingClicks(tracker),
		CacheEntries:  cacheEntries(store),
		StatusPath:    filepath.Join(viper.GetString("logsDir"), "status.json"),
		Interval:      viper.GetDuration("server.statusInterval"),
		Logger:        Logger.With("component", "monitor"),
	})
	status.Start()
	defer status.Stop()

	svc, err := handlers.NewService(handlers.Dependencies{
		Backend:      backend,
		Cache:        store,
		Tracker:      tracker,
		Logger:       Logger.With("component", "api"),
		SearchLimit:  viper.GetInt("server.searchLimit"),
		PopularLimit: viper.GetInt("server.popularLimit"),
		CacheTTL:     viper.GetDuration("server.cacheTTL"),
		APIKey:       viper.GetString("server.apiKey"),
	})
	if err != nil {
		return fmt.Errorf("creating api service: %w", err)
	}

	var mapRelay *relay.Hub
	if viper.GetBool("server.mapRelay") {
		mapRelay = relay.New(relay.Config{
			Secret:         viper.GetString("server.relaySecret"),
			AllowedOrigins: viper.GetStringSlice("server.allowedOrigins"),
			Logger:         Logger.With("component", "relay"),
		})
		defer mapRelay.Close()
	}

	server := &http.Server{
		Addr: viper.GetString("server.listen"),
		Handler: svc.Router(handlers.RouterConfig{
			AllowedOrigins: viper.GetStringSlice("server.allowedOrigins"),
			RateLimit:      viper.GetInt("server.rateLimit"),
			MapRelay:       mapRelay,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Info("HTTP server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		Logger.Info("Received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func pendingClicks(t rank.Tracker) func() int {
	if b, ok := t.(*rank.Batched); ok {
		return b.Pending
	}
	return nil
}

func cacheEntries(s cache.Store) func() int {
	if m, ok := s.(*cache.Memory); ok {
		return m.Len
	}
	return nil
}
