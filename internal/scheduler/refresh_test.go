package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skycond/internal/geo"
	"skycond/internal/types"
	"skycond/internal/upstream"
)

// A small test region producing a handful of 5-degree cells.
var testRegions = []geo.LandRegion{
	{LatMin: 30, LatMax: 40, LonMin: -120, LonMax: -110},
}

type stubFetcher struct {
	points  []upstream.HourlyPoint
	failFor map[geo.GridCell]error
	calls   []geo.GridCell
}

func (f *stubFetcher) FetchCurrent(context.Context, float64, float64) (types.ConditionSample, error) {
	panic("refresh job must not fetch current conditions")
}

func (f *stubFetcher) FetchHourlyForecast(_ context.Context, lat, lon float64, _ int) ([]upstream.HourlyPoint, error) {
	cell := geo.GridCell{LatGrid: int(lat), LonGrid: int(lon)}
	f.calls = append(f.calls, cell)
	if err, ok := f.failFor[cell]; ok {
		return nil, err
	}
	return f.points, nil
}

// memStore keeps rows keyed by natural key, mirroring the upsert semantics of
// the real repository.
type memStore struct {
	rows         map[string]types.ForecastRow
	deleteBefore time.Time
	deleteErr    error
	upsertErr    error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]types.ForecastRow)}
}

func rowKey(r types.ForecastRow) string {
	return fmt.Sprintf("%d/%d/%d", r.LatGrid, r.LonGrid, r.ForecastTime.Unix())
}

func (s *memStore) UpsertBatch(_ context.Context, rows []types.ForecastRow) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, r := range rows {
		s.rows[rowKey(r)] = r
	}
	return nil
}

func (s *memStore) DeleteBefore(_ context.Context, cutoff time.Time) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleteBefore = cutoff
	for k, r := range s.rows {
		if r.ForecastTime.Before(cutoff) {
			delete(s.rows, k)
		}
	}
	return nil
}

func (s *memStore) QueryNext(context.Context, geo.GridCell, time.Time) (*types.ForecastRow, error) {
	return nil, nil
}

func (s *memStore) sortedKeys() []string {
	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fixedPoints(base time.Time, n int) []upstream.HourlyPoint {
	cloud := 40.0
	points := make([]upstream.HourlyPoint, 0, n)
	for i := 0; i < n; i++ {
		points = append(points, upstream.HourlyPoint{
			Time:          base.Add(time.Duration(i) * time.Hour),
			CloudCoverPct: &cloud,
		})
	}
	return points
}

func newTestJob(fetcher upstream.Fetcher, store types.GridForecastStore, pacing time.Duration) (*RefreshJob, *[]time.Duration) {
	job := NewRefreshJob(fetcher, store, testRegions, 5, 5, pacing, nil)
	job.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	sleeps := &[]time.Duration{}
	job.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	return job, sleeps
}

func TestRun_PopulatesAllCells(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{points: fixedPoints(base, 3)}
	store := newMemStore()
	job, sleeps := newTestJob(fetcher, store, 100*time.Millisecond)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	wantCells := len(geo.GenerateLandGrid(testRegions, 5))
	assert.Equal(t, wantCells, summary.Cells)
	assert.Equal(t, wantCells, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.NotEmpty(t, summary.RunID)
	assert.Len(t, store.rows, wantCells*3)

	// Pacing sleeps between calls, not before the first.
	assert.Len(t, *sleeps, wantCells-1)
	for _, d := range *sleeps {
		assert.Equal(t, 100*time.Millisecond, d)
	}

	assert.Equal(t, StateIdle, job.Status().State)
}

func TestRun_IsIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{points: fixedPoints(base, 4)}
	store := newMemStore()
	job, _ := newTestJob(fetcher, store, 0)

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	first := store.sortedKeys()

	_, err = job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, store.sortedKeys(), "re-running must not duplicate rows")
}

func TestRun_CellFailureContinues(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	failing := geo.GridCell{LatGrid: 35, LonGrid: -115}
	fetcher := &stubFetcher{
		points: fixedPoints(base, 2),
		failFor: map[geo.GridCell]error{
			failing: types.NewAppError(types.ErrCodeUpstreamUnavailable, "boom", nil),
		},
	}
	store := newMemStore()
	job, _ := newTestJob(fetcher, store, 0)

	summary, err := job.Run(context.Background())
	require.NoError(t, err, "per-cell failures must not abort the run")

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, summary.Cells-1, summary.Succeeded)
	assert.Len(t, fetcher.calls, summary.Cells, "remaining cells still fetched")

	for _, r := range store.rows {
		assert.False(t, r.LatGrid == failing.LatGrid && r.LonGrid == failing.LonGrid)
	}
}

func TestRun_UpsertFailureTallied(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{points: fixedPoints(base, 1)}
	store := newMemStore()
	store.upsertErr = errors.New("connection reset")
	job, _ := newTestJob(fetcher, store, 0)

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, summary.Cells, summary.Failed)
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, StateIdle, job.Status().State)
}

func TestRun_PruneFailureAborts(t *testing.T) {
	fetcher := &stubFetcher{}
	store := newMemStore()
	store.deleteErr = errors.New("db down")
	job, _ := newTestJob(fetcher, store, 0)

	_, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, job.Status().State)
	assert.Empty(t, fetcher.calls, "no fetches after a failed prune")
}

func TestRun_PrunesBeforeFetching(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	stale := types.ForecastRow{LatGrid: 30, LonGrid: -120, ForecastTime: now.Add(-2 * time.Hour)}
	store := newMemStore()
	store.rows[rowKey(stale)] = stale

	fetcher := &stubFetcher{points: fixedPoints(now, 1)}
	job, _ := newTestJob(fetcher, store, 0)
	job.now = func() time.Time { return now }

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now, store.deleteBefore)
	_, stalePresent := store.rows[rowKey(stale)]
	assert.False(t, stalePresent)
}

func TestBuildRows_AlignsToHour(t *testing.T) {
	job, _ := newTestJob(&stubFetcher{}, newMemStore(), 0)
	cell := geo.GridCell{LatGrid: 35, LonGrid: -115}
	offHour := time.Date(2026, 8, 1, 9, 37, 12, 0, time.UTC)

	rows := job.buildRows(cell, []upstream.HourlyPoint{{Time: offHour}})
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), rows[0].ForecastTime)
	assert.Equal(t, 35, rows[0].LatGrid)
	assert.Equal(t, -115, rows[0].LonGrid)
}
