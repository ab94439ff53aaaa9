package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/health"
	"github.com/utafrali/catalogsearch/pkg/middleware"
)

// RouterConfig carries the HTTP surface's dependencies and settings.
type RouterConfig struct {
	Search  *service.SearchService
	Index   *IndexHandler
	Health  *health.Handler
	Logger  *slog.Logger
	CORS    middleware.CORSConfig
	Timeout time.Duration
	// CacheMaxAge sets Cache-Control on search responses when positive.
	CacheMaxAge int
	// Operators guards the index management endpoints. Without any
	// credential they are not mounted.
	Operators *middleware.TokenStore
	// RateLimit applies to the public search endpoints.
	RateLimit middleware.RateLimitConfig
	// PprofAllowedCIDRs enables /debug/pprof for the listed networks.
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all search service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Tracing runs first so the request logger and the recovered panics
	// carry the span.
	r.Use(middleware.Tracing("search", "/health/live", "/health/ready", "/metrics"))
	r.Use(middleware.RequestLogging(cfg.Logger, "/health/live", "/health/ready", "/metrics"))
	r.Use(middleware.PrometheusMetrics("search"))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.Timeout))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, cfg.Logger)
	}

	searchHandler := NewSearchHandler(cfg.Search, cfg.Logger)

	r.Route("/api/v1/search", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimit, cfg.Logger))
			if cfg.CacheMaxAge > 0 {
				r.Use(middleware.CacheControl(cfg.CacheMaxAge))
			}
			r.Get("/", searchHandler.Search)
			r.Get("/suggest", searchHandler.Suggest)
		})

		if cfg.Index == nil || !cfg.Operators.Enabled() {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(cfg.Operators))
			r.With(middleware.RequireScope(middleware.ScopeIndexRebuild)).Post("/reindex", cfg.Index.Reindex)
			r.With(middleware.RequireScope(middleware.ScopeIndexWrite)).Post("/products/{id}", cfg.Index.IndexProduct)
			r.With(middleware.RequireScope(middleware.ScopeIndexWrite)).Delete("/products/{id}", cfg.Index.DeleteProduct)
		})
	})

	return r
}
