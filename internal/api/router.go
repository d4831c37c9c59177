// Package api provides the HTTP API for pedalei.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/api/handler"
	"github.com/pedalei/pedalei/internal/api/middleware"
	"github.com/pedalei/pedalei/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Planner  handler.RoutePlanner
	Rides    handler.RideManager
	Registry *resilience.Registry
	Cache    handler.CacheStatter
	Redis    handler.HealthChecker

	// DefaultLanguage is used for plan requests that name no language.
	DefaultLanguage string

	// PlanRateLimit caps route planning and ride creation per IP and minute
	// (default: 30).
	PlanRateLimit int
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pedalei-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.ContentTypeJSON)      // JSON content type
	r.Use(middleware.RequireJSON)          // Reject non-JSON bodies

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Cache:     cfg.Cache,
		Redis:     cfg.Redis,
		Rides:     cfg.Rides,
	})
	routeHandler := handler.NewRouteHandler(cfg.Planner, cfg.DefaultLanguage, cfg.Logger)
	rideHandler := handler.NewRideHandler(cfg.Rides, cfg.DefaultLanguage, cfg.Logger)

	planLimit := middleware.ExpensiveRateLimit
	if cfg.PlanRateLimit > 0 {
		planLimit = middleware.RateLimitConfig{RequestLimit: cfg.PlanRateLimit, WindowLength: time.Minute}
	}
	expensiveRateLimit := middleware.RateLimitByIP(planLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)
	rideRateLimit := middleware.RateLimitByRide(middleware.RideRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		// Planning hits the directions provider, strict rate limiting
		r.With(expensiveRateLimit).Post("/routes:plan", routeHandler.PlanRoute)

		r.Route("/rides", func(r chi.Router) {
			r.With(expensiveRateLimit).Post("/", rideHandler.StartRide)
			r.Route("/{rideId}", func(r chi.Router) {
				r.Use(rideRateLimit)
				r.Get("/", rideHandler.GetRide)
				r.Delete("/", rideHandler.StopRide)
				r.Post("/fixes", rideHandler.PushFixes)
				r.Post("/pause", rideHandler.PauseRide)
				r.Post("/resume", rideHandler.ResumeRide)
				r.Put("/language", rideHandler.SetLanguage)
			})
		})
	})

	return r
}
