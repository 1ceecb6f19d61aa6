// Package main is the entrypoint for the skycond API server. It wires the
// volatile cache, neighbor resolver, upstream fetcher, and forecast store
// into the resolution service and serves the HTTP surface until interrupted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"skycond/internal/api"
	"skycond/internal/cache"
	"skycond/internal/conditions"
	"skycond/internal/config"
	"skycond/internal/db"
	"skycond/internal/upstream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	conditionCache := cache.New(cfg.Cache.TTL)
	neighbors := cache.NewNeighborResolver(conditionCache, cfg.Cache.NeighborRadiusKm)
	fetcher := upstream.NewOpenMeteoClient(
		&http.Client{Timeout: cfg.Upstream.Timeout},
		cfg.Upstream.BaseURL,
		logger,
	)
	store := db.NewForecastRepository(pool)

	service := conditions.NewService(
		conditionCache,
		neighbors,
		fetcher,
		store,
		cfg.Refresh.GridResolutionDeg,
		logger,
	)

	server := api.NewServer(cfg, service, conditionCache, pool, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server listening", "port", cfg.Server.Port, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}
