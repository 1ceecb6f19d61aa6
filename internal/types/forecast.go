package types

import (
	"context"
	"time"

	"skycond/internal/geo"
)

// ForecastRow is one hour of stored forecast data for a grid cell. Rows are
// keyed by (LatGrid, LonGrid, ForecastTime), created and overwritten only by
// the refresh job, and read-only to the resolution service. Cloud cover is
// stored in percent, matching the durable table shape; conversion to a
// fraction happens at resolution time.
type ForecastRow struct {
	LatGrid         int
	LonGrid         int
	ForecastTime    time.Time
	CloudCoverPct   *float64
	PrecipitationMM *float64
	VisibilityKm    *float64
	UpdatedAt       time.Time
}

// Cell returns the grid cell this row belongs to.
func (r ForecastRow) Cell() geo.GridCell {
	return geo.GridCell{LatGrid: r.LatGrid, LonGrid: r.LonGrid}
}

// GridForecastStore is the durable keyed store of per-hour forecast rows.
// The core depends only on this interface; storage technology is a
// deployment concern.
type GridForecastStore interface {
	// UpsertBatch inserts rows, replacing any that share the same natural
	// key (LatGrid, LonGrid, ForecastTime). Failure granularity is
	// per-batch: a failed batch leaves previously committed rows intact.
	UpsertBatch(ctx context.Context, rows []ForecastRow) error

	// DeleteBefore removes rows with ForecastTime < cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) error

	// QueryNext returns the row with the smallest ForecastTime >= atOrAfter
	// for the cell, or nil when no such row exists. Absence is not an error.
	QueryNext(ctx context.Context, cell geo.GridCell, atOrAfter time.Time) (*ForecastRow, error)
}
