package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"skycond/internal/types"
)

// WeatherResponse is the caller-facing shape for resolved conditions. Field
// names match the consumer contract of the visibility-estimation feature.
type WeatherResponse struct {
	CloudCover    float64  `json:"cloudCover"`
	Precipitation float64  `json:"precipitation"`
	Fog           float64  `json:"fog"`
	VisibilityKm  *float64 `json:"visibility_km,omitempty"`
	TemperatureC  *float64 `json:"temperature_c,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Source        string   `json:"source"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
}

// handleWeather resolves current conditions for a coordinate.
//
// GET /api/weather?lat={lat}&lon={lon}
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := coordParams(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	sample, source, err := s.service.Resolve(r.Context(), lat, lon, nil)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, http.StatusOK, weatherResponse(sample, source))
}

// handleWeatherForecast resolves conditions for a coordinate at a future time
// from the stored forecast grid.
//
// GET /api/weather/forecast?lat={lat}&lon={lon}&time={RFC3339}
func (s *Server) handleWeatherForecast(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := coordParams(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	raw := r.URL.Query().Get("time")
	if raw == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"time parameter is required", nil))
		return
	}
	target, perr := time.Parse(time.RFC3339, raw)
	if perr != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTime,
			fmt.Sprintf("time %q is not RFC 3339", raw), perr))
		return
	}

	sample, source, err := s.service.Resolve(r.Context(), lat, lon, &target)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, http.StatusOK, weatherResponse(sample, source))
}

// handleCacheStats reports volatile-cache statistics for the dashboard.
//
// GET /api/weather/cache-stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()
	JSON(w, http.StatusOK, map[string]any{
		"total_entries":      stats.TotalEntries,
		"valid_entries":      stats.ValidEntries,
		"cache_ttl_seconds":  stats.TTLSeconds,
		"neighbor_radius_km": s.cfg.Cache.NeighborRadiusKm,
	})
}

// handleHealth reports process and store health.
//
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "skipped"
	status := http.StatusOK
	if s.pinger != nil {
		database = "connected"
		if err := s.pinger.Ping(r.Context()); err != nil {
			database = "disconnected"
			status = http.StatusServiceUnavailable
		}
	}
	JSON(w, status, map[string]string{
		"status":      "healthy",
		"database":    database,
		"environment": s.cfg.Environment,
	})
}

// handleRoot returns service metadata.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"service": "skycond",
		"health":  "/health",
	})
}

// coordParams parses and validates the lat/lon query parameters.
func coordParams(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidLat,
			fmt.Sprintf("lat %q is not a number", q.Get("lat")), err)
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidLon,
			fmt.Sprintf("lon %q is not a number", q.Get("lon")), err)
	}
	return lat, lon, nil
}

func weatherResponse(sample types.ConditionSample, source types.Source) WeatherResponse {
	return WeatherResponse{
		CloudCover:    sample.CloudCover,
		Precipitation: sample.Precipitation,
		Fog:           sample.Fog,
		VisibilityKm:  sample.VisibilityKm,
		TemperatureC:  sample.TemperatureC,
		Humidity:      sample.Humidity,
		Source:        string(source),
		Lat:           sample.Lat,
		Lon:           sample.Lon,
	}
}
