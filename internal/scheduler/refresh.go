// Package scheduler implements the offline grid-forecast population job.
// The job is triggered externally (cron, one-shot binary); no scheduling
// mechanism lives here.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"skycond/internal/geo"
	"skycond/internal/types"
	"skycond/internal/upstream"
)

// State describes where a refresh run currently is. Transitions:
// Idle -> Generating -> Pruning -> Fetching -> Upserting -> Idle | Failed.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StatePruning    State = "pruning"
	StateFetching   State = "fetching"
	StateUpserting  State = "upserting"
	StateFailed     State = "failed"
)

// Status is a point-in-time snapshot of a run's progress, for operational
// visibility. CellIndex/CellCount are only meaningful while fetching or
// upserting.
type Status struct {
	State     State
	CellIndex int
	CellCount int
}

// Summary is the per-run outcome tally returned for operational logging.
type Summary struct {
	RunID      string
	Cells      int
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// RefreshJob regenerates the land grid, prunes stale forecast rows, and
// refetches the hourly forecast for every cell, paced to respect the
// provider's implicit rate ceiling. Per-cell failures are tallied and logged
// but never abort the run; re-running against unchanged upstream data yields
// an identical stored row set because rows upsert by natural key.
//
// The job runs as a single sequential batch with no internal fan-out, so its
// pacing serializes its upstream load. It only touches the durable store and
// may run concurrently with live resolve traffic.
type RefreshJob struct {
	regions      []geo.LandRegion
	resolution   int
	forecastDays int
	pacing       time.Duration

	fetcher upstream.Fetcher
	store   types.GridForecastStore
	logger  *slog.Logger

	// Injectable for deterministic tests.
	now   func() time.Time
	sleep func(time.Duration)

	mu     sync.Mutex
	status Status
}

// NewRefreshJob creates a refresh job over the given regions. A nil or empty
// region set falls back to geo.DefaultLandRegions.
func NewRefreshJob(
	fetcher upstream.Fetcher,
	store types.GridForecastStore,
	regions []geo.LandRegion,
	resolution int,
	forecastDays int,
	pacing time.Duration,
	logger *slog.Logger,
) *RefreshJob {
	if len(regions) == 0 {
		regions = geo.DefaultLandRegions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshJob{
		regions:      regions,
		resolution:   resolution,
		forecastDays: forecastDays,
		pacing:       pacing,
		fetcher:      fetcher,
		store:        store,
		logger:       logger,
		now:          time.Now,
		sleep:        time.Sleep,
		status:       Status{State: StateIdle},
	}
}

// Status returns a snapshot of the current run state.
func (j *RefreshJob) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *RefreshJob) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

// Run executes one full refresh pass. It returns a non-nil error only on an
// unrecoverable top-level failure (the stale-row prune failing); per-cell
// fetch and upsert errors are counted in the summary and the run continues.
func (j *RefreshJob) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: j.now().UTC(),
	}
	logger := j.logger.With("run_id", summary.RunID)

	j.setStatus(Status{State: StateGenerating})
	cells := sortedCells(geo.GenerateLandGrid(j.regions, j.resolution))
	summary.Cells = len(cells)
	logger.InfoContext(ctx, "starting forecast refresh",
		"cells", len(cells),
		"resolution_deg", j.resolution,
		"forecast_days", j.forecastDays,
	)

	j.setStatus(Status{State: StatePruning})
	if err := j.store.DeleteBefore(ctx, j.now().UTC()); err != nil {
		j.setStatus(Status{State: StateFailed})
		summary.FinishedAt = j.now().UTC()
		return summary, fmt.Errorf("pruning stale forecast rows: %w", err)
	}

	for i, cell := range cells {
		if i > 0 {
			// Fixed minimum delay between upstream calls, not adaptive.
			j.sleep(j.pacing)
		}

		j.setStatus(Status{State: StateFetching, CellIndex: i + 1, CellCount: len(cells)})
		points, err := j.fetcher.FetchHourlyForecast(ctx, float64(cell.LatGrid), float64(cell.LonGrid), j.forecastDays)
		if err != nil {
			summary.Failed++
			logger.WarnContext(ctx, "cell fetch failed",
				"lat_grid", cell.LatGrid,
				"lon_grid", cell.LonGrid,
				"cell", fmt.Sprintf("%d/%d", i+1, len(cells)),
				"error", err,
			)
			continue
		}

		j.setStatus(Status{State: StateUpserting, CellIndex: i + 1, CellCount: len(cells)})
		rows := j.buildRows(cell, points)
		if err := j.store.UpsertBatch(ctx, rows); err != nil {
			summary.Failed++
			logger.WarnContext(ctx, "cell upsert failed",
				"lat_grid", cell.LatGrid,
				"lon_grid", cell.LonGrid,
				"rows", len(rows),
				"error", err,
			)
			continue
		}

		summary.Succeeded++
	}

	j.setStatus(Status{State: StateIdle})
	summary.FinishedAt = j.now().UTC()
	logger.InfoContext(ctx, "forecast refresh complete",
		"cells", summary.Cells,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String(),
	)
	return summary, nil
}

// buildRows transforms an hourly forecast series into store rows for a cell.
// Forecast times are aligned to the hour in UTC.
func (j *RefreshJob) buildRows(cell geo.GridCell, points []upstream.HourlyPoint) []types.ForecastRow {
	updatedAt := j.now().UTC()
	rows := make([]types.ForecastRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, types.ForecastRow{
			LatGrid:         cell.LatGrid,
			LonGrid:         cell.LonGrid,
			ForecastTime:    p.Time.UTC().Truncate(time.Hour),
			CloudCoverPct:   p.CloudCoverPct,
			PrecipitationMM: p.PrecipitationMM,
			VisibilityKm:    p.VisibilityKm,
			UpdatedAt:       updatedAt,
		})
	}
	return rows
}

// sortedCells fixes the processing order. The order itself is arbitrary but
// keeping it deterministic makes runs comparable in logs.
func sortedCells(set map[geo.GridCell]struct{}) []geo.GridCell {
	cells := make([]geo.GridCell, 0, len(set))
	for cell := range set {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(a, b int) bool {
		if cells[a].LatGrid != cells[b].LatGrid {
			return cells[a].LatGrid < cells[b].LatGrid
		}
		return cells[a].LonGrid < cells[b].LonGrid
	})
	return cells
}
