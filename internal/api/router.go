// Package api provides the HTTP API for SafeRoute.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/api/handler"
	"github.com/saferoute/saferoute/internal/api/middleware"
	"github.com/saferoute/saferoute/internal/api/response"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	ServiceName string
	Logger      zerolog.Logger
	Metrics     *middleware.Metrics

	Scorer  handler.Scorer
	Planner handler.RoutePlanner
	// Weather fills missing weather conditions. Optional.
	Weather handler.WeatherSource
	// Location is the time zone for deriving a missing time of day.
	Location *time.Location

	// Tokens enables optional bearer authentication. Optional.
	Tokens middleware.TokenValidator

	Database  handler.Pinger
	Providers *resilience.Registry

	RequireTLS bool
	Now        func() time.Time
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "saferoute-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r, r.Method+" is not supported on this endpoint")
	})

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Database:  cfg.Database,
		Providers: cfg.Providers,
		Now:       cfg.Now,
	})
	safetyHandler := handler.NewSafetyHandler(handler.SafetyHandlerConfig{
		Scorer:   cfg.Scorer,
		Weather:  cfg.Weather,
		Location: cfg.Location,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})
	routeHandler := handler.NewRouteHandler(handler.RouteHandlerConfig{
		Planner:  cfg.Planner,
		Weather:  cfg.Weather,
		Location: cfg.Location,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})

	standardRateLimit := middleware.RateLimitByUser(middleware.StandardRateLimit)   // 100 req/min
	batchRateLimit := middleware.RateLimitByUser(middleware.BatchRateLimit)         // 10 req/min
	expensiveRateLimit := middleware.RateLimitByUser(middleware.ExpensiveRateLimit) // 30 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public, unauthenticated)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.Tokens))

			r.Route("/safety", func(r chi.Router) {
				r.With(standardRateLimit).Get("/score", safetyHandler.GetScore)
				r.With(standardRateLimit).Post("/score", safetyHandler.PostScore)
				r.With(batchRateLimit).Post("/score:batch", safetyHandler.BatchScore)
			})

			r.With(expensiveRateLimit).Post("/routes:plan", routeHandler.PlanRoute)
		})
	})

	return r
}
