package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"skycond/internal/types"
)

// DefaultBaseURL is the Open-Meteo forecast endpoint. Open-Meteo is free and
// keyless but enforces an implicit rate ceiling; callers pace themselves.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// defaultVisibilityM is substituted when the provider omits visibility.
const defaultVisibilityM = 10000.0

// hourlyTimeLayout is Open-Meteo's hourly timestamp format ("2024-01-15T00:00").
const hourlyTimeLayout = "2006-01-02T15:04"

// OpenMeteoClient implements Fetcher against the Open-Meteo HTTP API.
// All calls go through a circuit breaker so a flapping provider fails fast
// instead of tying up request goroutines.
type OpenMeteoClient struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	baseURL    string
	logger     *slog.Logger
}

// NewOpenMeteoClient creates a client with the given HTTP client and base URL.
// An empty baseURL falls back to DefaultBaseURL; a nil httpClient gets a
// 15-second-timeout default.
func NewOpenMeteoClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *OpenMeteoClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "open-meteo",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &OpenMeteoClient{
		httpClient: httpClient,
		breaker:    cb,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// FetchCurrent fetches and normalizes current conditions for the coordinate.
func (c *OpenMeteoClient) FetchCurrent(ctx context.Context, lat, lon float64) (types.ConditionSample, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(lat))
	params.Set("longitude", formatCoord(lon))
	params.Set("current", "cloud_cover,precipitation,temperature_2m,relative_humidity_2m")
	params.Set("hourly", "visibility")
	params.Set("forecast_days", "1")
	params.Set("timezone", "UTC")

	body, err := c.get(ctx, params)
	if err != nil {
		return types.ConditionSample{}, err
	}

	var payload struct {
		Current struct {
			Time          string   `json:"time"`
			CloudCover    *float64 `json:"cloud_cover"`
			Precipitation *float64 `json:"precipitation"`
			Temperature   *float64 `json:"temperature_2m"`
			Humidity      *float64 `json:"relative_humidity_2m"`
		} `json:"current"`
		Hourly struct {
			Visibility []*float64 `json:"visibility"`
		} `json:"hourly"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return types.ConditionSample{}, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"unparsable upstream response", err)
	}

	// Visibility comes from the first hourly entry (the current hour);
	// absent values default to 10 km.
	visM := defaultVisibilityM
	if len(payload.Hourly.Visibility) > 0 && payload.Hourly.Visibility[0] != nil {
		visM = *payload.Hourly.Visibility[0]
	}
	visKm := visM / 1000

	sample := types.ConditionSample{
		CloudCover:   deref(payload.Current.CloudCover, 0) / 100,
		VisibilityKm: &visKm,
		Lat:          lat,
		Lon:          lon,
		ObservedAt:   parseObservedAt(payload.Current.Time),
	}
	sample.Precipitation = deref(payload.Current.Precipitation, 0)
	sample.TemperatureC = payload.Current.Temperature
	if payload.Current.Humidity != nil {
		h := *payload.Current.Humidity / 100
		sample.Humidity = &h
	}

	return sample.Normalize(), nil
}

// FetchHourlyForecast fetches the hourly cloud cover, precipitation, and
// visibility series for the given number of forecast days.
func (c *OpenMeteoClient) FetchHourlyForecast(ctx context.Context, lat, lon float64, days int) ([]HourlyPoint, error) {
	params := url.Values{}
	params.Set("latitude", formatCoord(lat))
	params.Set("longitude", formatCoord(lon))
	params.Set("hourly", "cloud_cover,precipitation,visibility")
	params.Set("forecast_days", strconv.Itoa(days))
	params.Set("timezone", "UTC")

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Hourly struct {
			Time          []string   `json:"time"`
			CloudCover    []*float64 `json:"cloud_cover"`
			Precipitation []*float64 `json:"precipitation"`
			Visibility    []*float64 `json:"visibility"`
		} `json:"hourly"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"unparsable upstream response", err)
	}

	points := make([]HourlyPoint, 0, len(payload.Hourly.Time))
	for i, ts := range payload.Hourly.Time {
		t, err := time.Parse(hourlyTimeLayout, ts)
		if err != nil {
			// Skip entries with unparsable timestamps rather than failing
			// the whole series.
			c.logger.Warn("skipping hourly entry with bad timestamp", "time", ts)
			continue
		}

		p := HourlyPoint{Time: t.UTC()}
		p.CloudCoverPct = at(payload.Hourly.CloudCover, i)
		p.PrecipitationMM = at(payload.Hourly.Precipitation, i)
		if visM := at(payload.Hourly.Visibility, i); visM != nil {
			visKm := *visM / 1000
			p.VisibilityKm = &visKm
		}
		points = append(points, p)
	}

	return points, nil
}

// get executes a GET against the provider through the circuit breaker and
// maps transport-level failures into the upstream error taxonomy.
func (c *OpenMeteoClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"failed to build upstream request", err)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"upstream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"upstream provider throttled the request", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"failed to read upstream response", err)
	}
	return body, nil
}

// parseObservedAt parses the provider's current-conditions timestamp, falling
// back to now when absent or malformed.
func parseObservedAt(ts string) time.Time {
	if ts != "" {
		if t, err := time.Parse(hourlyTimeLayout, ts); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// formatCoord renders a coordinate with enough precision for any cache cell.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// deref returns *p, or def when p is nil.
func deref(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// at returns the i-th element of vals, or nil when the slice is shorter.
func at(vals []*float64, i int) *float64 {
	if i >= len(vals) {
		return nil
	}
	return vals[i]
}
