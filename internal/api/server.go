// Package api is the HTTP shell around the condition-resolution core. It
// exposes the resolve operation, the forecast lookup, cache statistics for
// the operational dashboard, and a health probe. Cross-cutting concerns
// (panic recovery, request IDs, logging, CORS, response compression) are
// applied here, before requests reach handlers.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"skycond/internal/cache"
	"skycond/internal/conditions"
	"skycond/internal/config"
	"skycond/internal/types"
)

// Pinger reports connectivity to the durable store, for the health endpoint.
// *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server bundles the API dependencies and the chi router. Construct once per
// process and serve its Handler.
type Server struct {
	cfg     *config.Config
	service *conditions.Service
	cache   *cache.Cache
	pinger  Pinger
	logger  *slog.Logger

	router *chi.Mux
}

// NewServer wires the router and middleware. The pinger may be nil, in which
// case the health endpoint skips the database check.
func NewServer(
	cfg *config.Config,
	service *conditions.Service,
	c *cache.Cache,
	pinger Pinger,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		service: service,
		cache:   c,
		pinger:  pinger,
		logger:  logger,
		router:  chi.NewRouter(),
	}

	s.router.Use(s.recoverer)
	s.router.Use(s.requestID)
	s.router.Use(s.requestLogger)
	s.router.Use(s.cors)

	s.router.Get("/", s.handleRoot)
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/weather", s.handleWeather)
		r.Get("/weather/forecast", s.handleWeatherForecast)
		r.Get("/weather/cache-stats", s.handleCacheStats)
	})

	return s
}

// Handler returns the root http.Handler, with gzip response compression
// applied outside the router.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// recoverer catches panics in the handler chain, logs the stack trace, and
// returns a standardized 500. It is the outermost middleware.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rvr),
					"stack", string(debug.Stack()),
				)
				Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
					"an unexpected error occurred", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID assigns each request a UUID, exposed in error payloads and logs.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := types.WithRequestID(r.Context(), id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusCapture records the response status for logging.
type statusCapture struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sc *statusCapture) WriteHeader(code int) {
	if !sc.written {
		sc.status = code
		sc.written = true
	}
	sc.ResponseWriter.WriteHeader(code)
}

func (sc *statusCapture) Write(b []byte) (int, error) {
	if !sc.written {
		sc.status = http.StatusOK
		sc.written = true
	}
	return sc.ResponseWriter.Write(b)
}

func (sc *statusCapture) Unwrap() http.ResponseWriter {
	return sc.ResponseWriter
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w}
		next.ServeHTTP(sc, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sc.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", types.GetRequestID(r.Context()),
		)
	})
}

// cors allows the configured dashboard origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.cfg.Server.CORSOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
