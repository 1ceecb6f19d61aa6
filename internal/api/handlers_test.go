package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skycond/internal/cache"
	"skycond/internal/conditions"
	"skycond/internal/config"
	"skycond/internal/geo"
	"skycond/internal/types"
	"skycond/internal/upstream"
)

type stubFetcher struct {
	sample types.ConditionSample
	err    error
}

func (f *stubFetcher) FetchCurrent(_ context.Context, lat, lon float64) (types.ConditionSample, error) {
	if f.err != nil {
		return types.ConditionSample{}, f.err
	}
	s := f.sample
	s.Lat = lat
	s.Lon = lon
	return s, nil
}

func (f *stubFetcher) FetchHourlyForecast(context.Context, float64, float64, int) ([]upstream.HourlyPoint, error) {
	panic("not used")
}

// memQueryStore serves a single canned row; a zero value serves nothing.
type memQueryStore struct {
	row *types.ForecastRow
}

func (s *memQueryStore) UpsertBatch(context.Context, []types.ForecastRow) error { return nil }
func (s *memQueryStore) DeleteBefore(context.Context, time.Time) error          { return nil }

func (s *memQueryStore) QueryNext(context.Context, geo.GridCell, time.Time) (*types.ForecastRow, error) {
	return s.row, nil
}

func nilStore() *memQueryStore { return &memQueryStore{} }

type stubPinger struct{ err error }

func (p *stubPinger) Ping(context.Context) error { return p.err }

func ptr(v float64) *float64 { return &v }

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "test"}
	cfg.Server.CORSOrigins = []string{"https://dashboard.example.com"}
	cfg.Cache.TTL = time.Hour
	cfg.Cache.NeighborRadiusKm = 50
	return cfg
}

func newTestServer(t *testing.T, fetcher upstream.Fetcher, store types.GridForecastStore, pinger Pinger) (*Server, *cache.Cache) {
	t.Helper()
	cfg := testConfig()
	c := cache.New(cfg.Cache.TTL)
	neighbors := cache.NewNeighborResolver(c, cfg.Cache.NeighborRadiusKm)
	svc := conditions.NewService(c, neighbors, fetcher, store, 5, nil)
	return NewServer(cfg, svc, c, pinger, nil), c
}

func doRequest(srv *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandleWeather_OK(t *testing.T) {
	fetcher := &stubFetcher{sample: types.ConditionSample{
		CloudCover:   0.5,
		VisibilityKm: ptr(12),
		TemperatureC: ptr(18.4),
		ObservedAt:   time.Now().UTC(),
	}}
	srv, _ := newTestServer(t, fetcher, nilStore(), nil)

	rec := doRequest(srv, http.MethodGet, "/api/weather?lat=37.7&lon=-122.4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var body WeatherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0.5, body.CloudCover)
	assert.Equal(t, "live", body.Source)
	assert.Equal(t, 37.7, body.Lat)
	require.NotNil(t, body.VisibilityKm)
	assert.Equal(t, 12.0, *body.VisibilityKm)

	// Same cell again comes from cache.
	rec = doRequest(srv, http.MethodGet, "/api/weather?lat=37.7&lon=-122.4")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cache", body.Source)
}

func TestHandleWeather_Validation(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{}, nilStore(), nil)

	tests := []struct {
		name     string
		target   string
		wantCode string
	}{
		{"missing lat", "/api/weather?lon=0", string(types.ErrCodeValidationInvalidLat)},
		{"garbage lon", "/api/weather?lat=0&lon=abc", string(types.ErrCodeValidationInvalidLon)},
		{"lat out of range", "/api/weather?lat=95&lon=0", string(types.ErrCodeValidationInvalidLat)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodGet, tt.target)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body APIErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.NotEmpty(t, body.Error.RequestID)
		})
	}
}

func TestHandleWeather_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.AppError
		wantStatus int
	}{
		{"rate limited", types.NewAppError(types.ErrCodeUpstreamRateLimited, "throttled", nil), http.StatusTooManyRequests},
		{"unavailable", types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubFetcher{err: tt.err}, nilStore(), nil)
			rec := doRequest(srv, http.MethodGet, "/api/weather?lat=0&lon=0")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandleWeatherForecast(t *testing.T) {
	forecastTime := time.Date(2026, 8, 2, 15, 0, 0, 0, time.UTC)
	store := &memQueryStore{row: &types.ForecastRow{
		LatGrid:       35,
		LonGrid:       -120,
		ForecastTime:  forecastTime,
		CloudCoverPct: ptr(75),
		VisibilityKm:  ptr(4),
	}}
	srv, _ := newTestServer(t, &stubFetcher{}, store, nil)

	rec := doRequest(srv, http.MethodGet, "/api/weather/forecast?lat=36.2&lon=-121.9&time=2026-08-02T14:30:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	var body WeatherResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "forecast", body.Source)
	assert.Equal(t, 0.75, body.CloudCover)
	assert.InDelta(t, 0.6, body.Fog, 1e-9)
}

func TestHandleWeatherForecast_TimeValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{}, nilStore(), nil)

	rec := doRequest(srv, http.MethodGet, "/api/weather/forecast?lat=0&lon=0")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeValidationMissingField), body.Error.Code)

	rec = doRequest(srv, http.MethodGet, "/api/weather/forecast?lat=0&lon=0&time=tomorrow")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeValidationInvalidTime), body.Error.Code)
}

func TestHandleWeatherForecast_NoData(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{}, nilStore(), nil)

	rec := doRequest(srv, http.MethodGet, "/api/weather/forecast?lat=0&lon=0&time=2026-09-01T00:00:00Z")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeNoForecastData), body.Error.Code)
}

func TestHandleCacheStats(t *testing.T) {
	fetcher := &stubFetcher{sample: types.ConditionSample{CloudCover: 0.2}}
	srv, _ := newTestServer(t, fetcher, nilStore(), nil)

	// Populate one entry via a live resolve.
	doRequest(srv, http.MethodGet, "/api/weather?lat=10&lon=10")

	rec := doRequest(srv, http.MethodGet, "/api/weather/cache-stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body["total_entries"])
	assert.Equal(t, 1.0, body["valid_entries"])
	assert.Equal(t, 3600.0, body["cache_ttl_seconds"])
	assert.Equal(t, 50.0, body["neighbor_radius_km"])
}

func TestHandleHealth(t *testing.T) {
	t.Run("no pinger", func(t *testing.T) {
		srv, _ := newTestServer(t, &stubFetcher{}, nilStore(), nil)
		rec := doRequest(srv, http.MethodGet, "/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "skipped", body["database"])
	})

	t.Run("database down", func(t *testing.T) {
		srv, _ := newTestServer(t, &stubFetcher{}, nilStore(), &stubPinger{err: context.DeadlineExceeded})
		rec := doRequest(srv, http.MethodGet, "/health")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "disconnected", body["database"])
	})
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, &stubFetcher{}, nilStore(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/weather", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origins get no CORS headers.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
