// Package main provides the entrypoint for the pedalei API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"

	"github.com/pedalei/pedalei/internal/announce"
	"github.com/pedalei/pedalei/internal/api"
	"github.com/pedalei/pedalei/internal/api/handler"
	"github.com/pedalei/pedalei/internal/api/middleware"
	"github.com/pedalei/pedalei/internal/config"
	"github.com/pedalei/pedalei/internal/provider/resilience"
	"github.com/pedalei/pedalei/internal/ride"
	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/internal/routing/openrouteservice"
	"github.com/pedalei/pedalei/internal/routing/rediscache"
	"github.com/pedalei/pedalei/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pedalei-api"

	cfg := config.Load()
	log := telemetry.NewLogger(telemetry.LoggerConfig{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Level:          cfg.LogLevel,
		Console:        !cfg.IsProduction(),
	})

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Environment).
		Msg("starting pedalei API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	if cfg.ORSAPIKey == "" {
		log.Fatal().Msg("ORS_API_KEY is required")
	}

	// Directions provider, behind the resilient client and the cache
	registry := resilience.NewRegistry()
	ors := openrouteservice.NewClient(openrouteservice.ClientConfig{
		APIKey:         cfg.ORSAPIKey,
		BaseURL:        cfg.ORSBaseURL,
		Timeout:        cfg.ORSTimeout,
		Registry:       registry,
		GeocodeCountry: "BR",
		Logger:         log,
	})

	var (
		store routing.CacheStore
		redis handler.HealthChecker
	)
	if cfg.RedisAddr != "" {
		rs, err := rediscache.Connect(ctx, rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   log,
		})
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		defer rs.Close()
		store, redis = rs, rs
	} else {
		log.Warn().Msg("REDIS_ADDR not set, directions cache is in memory")
		store = routing.NewMemoryStore(routing.MemoryStoreConfig{})
	}

	directions := routing.NewCachingProvider(routing.CachingProviderConfig{
		Provider:        ors,
		Store:           store,
		Logger:          log,
		CacheTTL:        cfg.CacheTTL,
		StaleIfErrorTTL: cfg.CacheStaleTTL,
	})

	planner, err := routing.NewPlanner(routing.PlannerConfig{
		Provider:  directions,
		Elevation: ors,
		Geocoder:  ors,
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create route planner")
	}

	// Announcements are spoken on the device; the server keeps a log of them.
	announcer := announce.NewQueue(announce.QueueConfig{
		Announcer: announce.NewLogger(log),
		Size:      cfg.AnnounceBuffer,
		Logger:    log,
	})
	defer announcer.Close()

	var sink ride.SummarySink = ride.LogSink{Logger: log}
	if cfg.PubSubProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub client")
		}
		defer client.Close()

		publisher := ride.NewTopicPublisher(client, cfg.SummaryTopic)
		defer publisher.Stop()

		sink = ride.MultiSink{sink, ride.PubSubSink{Publisher: publisher, Logger: log}}
		log.Info().
			Str("project", cfg.PubSubProjectID).
			Str("topic", cfg.SummaryTopic).
			Msg("publishing ride summaries")
	}

	rides := ride.NewManager(ride.ManagerConfig{
		Planner:   planner,
		Announcer: announcer,
		Sink:      sink,
		Logger:    log,
		MaxRides:  cfg.MaxRides,
		FixBuffer: cfg.RideFixBuffer,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		Planner:         planner,
		Rides:           rides,
		Registry:        registry,
		Cache:           directions,
		Redis:           redis,
		DefaultLanguage: cfg.DefaultLang,
		PlanRateLimit:   cfg.RateLimitRPM,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Open rides still get their summaries published.
	rides.Shutdown(shutdownCtx)
	log.Info().Msg("server stopped")
}
