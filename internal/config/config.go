// Package config defines the configuration structure for the skycond service.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor principles: values come from the OS
// environment, optionally seeded from a .env file in local development.
// Any missing required value or invalid format fails process startup.
package config

import "time"

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Upstream UpstreamConfig
	Cache    CacheConfig
	Refresh  RefreshConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8080"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// UpstreamConfig holds the live weather provider endpoint and timeout.
type UpstreamConfig struct {
	BaseURL string        `envconfig:"UPSTREAM_BASE_URL" default:"https://api.open-meteo.com/v1/forecast" validate:"url"`
	Timeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`
}

// CacheConfig holds volatile-cache and neighbor-search tuning.
type CacheConfig struct {
	TTL              time.Duration `envconfig:"CACHE_TTL" default:"1h"`
	NeighborRadiusKm float64       `envconfig:"NEIGHBOR_RADIUS_KM" default:"50"`
}

// RefreshConfig holds forecast refresh job parameters. The grid resolution is
// shared with the resolution service's forecast path: both must quantize to
// the same grid or stored rows become unreachable.
type RefreshConfig struct {
	GridResolutionDeg int           `envconfig:"GRID_RESOLUTION_DEG" default:"5" validate:"min=1,max=30"`
	ForecastDays      int           `envconfig:"FORECAST_DAYS" default:"5" validate:"min=1,max=16"`
	CallPacing        time.Duration `envconfig:"UPSTREAM_CALL_PACING" default:"500ms"`
}
