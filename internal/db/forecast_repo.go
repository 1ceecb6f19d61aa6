package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"skycond/internal/geo"
	"skycond/internal/types"
)

// upsertChunkSize bounds the number of rows per INSERT statement. Each row
// contributes 7 bind parameters, keeping statements far below PostgreSQL's
// parameter limit while still batching a full 5-day hourly series per call.
const upsertChunkSize = 200

// ForecastRepository implements types.GridForecastStore against the
// grid_forecast table.
//
// Schema:
//
//	CREATE TABLE grid_forecast (
//	    lat_grid      INT NOT NULL,
//	    lon_grid      INT NOT NULL,
//	    forecast_time TIMESTAMPTZ NOT NULL,
//	    cloud_cover   DOUBLE PRECISION,
//	    precipitation DOUBLE PRECISION,
//	    visibility_km DOUBLE PRECISION,
//	    updated_at    TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (lat_grid, lon_grid, forecast_time)
//	);
type ForecastRepository struct {
	db DBTX
}

// NewForecastRepository creates a new ForecastRepository backed by the given
// database connection (pool or transaction).
func NewForecastRepository(db DBTX) *ForecastRepository {
	return &ForecastRepository{db: db}
}

// UpsertBatch inserts rows, replacing any that share the same natural key.
// Rows are written in chunks, each a single multi-row INSERT ... ON CONFLICT
// DO UPDATE statement. A chunk either commits fully or not at all, so a
// failure never corrupts rows committed by earlier chunks (per-batch
// failure granularity).
func (r *ForecastRepository) UpsertBatch(ctx context.Context, rows []types.ForecastRow) error {
	for start := 0; start < len(rows); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(rows))
		if err := r.upsertChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *ForecastRepository) upsertChunk(ctx context.Context, rows []types.ForecastRow) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO grid_forecast
		(lat_grid, lon_grid, forecast_time, cloud_cover, precipitation, visibility_km, updated_at)
		VALUES `)

	args := make([]any, 0, len(rows)*7)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args,
			row.LatGrid,
			row.LonGrid,
			row.ForecastTime.UTC(),
			row.CloudCoverPct,
			row.PrecipitationMM,
			row.VisibilityKm,
			row.UpdatedAt.UTC(),
		)
	}

	sb.WriteString(` ON CONFLICT (lat_grid, lon_grid, forecast_time) DO UPDATE
		SET cloud_cover   = EXCLUDED.cloud_cover,
		    precipitation = EXCLUDED.precipitation,
		    visibility_km = EXCLUDED.visibility_km,
		    updated_at    = EXCLUDED.updated_at`)

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to upsert forecast rows", err)
	}
	return nil
}

// DeleteBefore removes rows with forecast_time earlier than the cutoff.
func (r *ForecastRepository) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM grid_forecast WHERE forecast_time < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to prune stale forecast rows", err)
	}
	return nil
}

// QueryNext returns the row with the smallest forecast_time >= atOrAfter for
// the cell, or nil when no such row exists.
func (r *ForecastRepository) QueryNext(ctx context.Context, cell geo.GridCell, atOrAfter time.Time) (*types.ForecastRow, error) {
	row := r.db.QueryRow(ctx,
		`SELECT lat_grid, lon_grid, forecast_time, cloud_cover, precipitation, visibility_km, updated_at
		 FROM grid_forecast
		 WHERE lat_grid = $1 AND lon_grid = $2 AND forecast_time >= $3
		 ORDER BY forecast_time
		 LIMIT 1`,
		cell.LatGrid,
		cell.LonGrid,
		atOrAfter.UTC(),
	)

	var fr types.ForecastRow
	err := row.Scan(
		&fr.LatGrid,
		&fr.LonGrid,
		&fr.ForecastTime,
		&fr.CloudCoverPct,
		&fr.PrecipitationMM,
		&fr.VisibilityKm,
		&fr.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to query forecast row", err)
	}

	return &fr, nil
}
