// Package main is the entrypoint for the one-shot forecast refresh job.
// An external scheduler (cron or equivalent) runs this binary daily; it
// regenerates the land grid, prunes stale rows, refetches every cell's
// hourly forecast with paced upstream calls, and exits nonzero only on an
// unrecoverable top-level failure.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"skycond/internal/config"
	"skycond/internal/db"
	"skycond/internal/geo"
	"skycond/internal/scheduler"
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

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	fetcher := upstream.NewOpenMeteoClient(
		&http.Client{Timeout: cfg.Upstream.Timeout},
		cfg.Upstream.BaseURL,
		logger,
	)
	store := db.NewForecastRepository(pool)

	job := scheduler.NewRefreshJob(
		fetcher,
		store,
		geo.DefaultLandRegions,
		cfg.Refresh.GridResolutionDeg,
		cfg.Refresh.ForecastDays,
		cfg.Refresh.CallPacing,
		logger,
	)

	summary, err := job.Run(ctx)
	if err != nil {
		logger.Error("forecast refresh failed",
			"run_id", summary.RunID,
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("forecast refresh finished",
		"run_id", summary.RunID,
		"cells", summary.Cells,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
}
