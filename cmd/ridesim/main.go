// Package main replays a scripted or planned ride through the navigation and
// activity pipeline and prints the ride summary.
//
// Usage:
//
//	ridesim -scenario scenarios/paulista.toml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/announce"
	"github.com/pedalei/pedalei/internal/config"
	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/internal/provider/resilience"
	"github.com/pedalei/pedalei/internal/ride"
	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/internal/routing/openrouteservice"
	"github.com/pedalei/pedalei/internal/telemetry"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	scenarioPath := flag.String("scenario", "", "path to a TOML ride scenario (required)")
	rate := flag.Float64("rate", 0, "playback speed-up, overrides the scenario")
	flag.Parse()

	cfg := config.Load()
	log := telemetry.NewLogger(telemetry.LoggerConfig{
		ServiceName:    "pedalei-ridesim",
		ServiceVersion: Version,
		Level:          cfg.LogLevel,
		Console:        true,
		Output:         os.Stderr,
	})

	if *scenarioPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	sc, err := LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load scenario")
	}
	if *rate > 0 {
		sc.Rate = *rate
	}

	planner, err := newPlanner(sc, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create route planner")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := Simulate(ctx, sc, planner, log)
	if err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Summary); err != nil {
		log.Fatal().Err(err).Msg("failed to write summary")
	}
}

// newPlanner plans against the scripted steps when the scenario has them and
// against OpenRouteService otherwise.
func newPlanner(sc *Scenario, cfg config.Config, log zerolog.Logger) (*routing.Planner, error) {
	if len(sc.Steps) > 0 {
		log.Info().Int("steps", len(sc.Steps)).Msg("using scripted route")
		return routing.NewPlanner(routing.PlannerConfig{
			Provider: newScriptedProvider(sc),
			Logger:   log,
		})
	}

	if cfg.ORSAPIKey == "" {
		return nil, errors.New("ORS_API_KEY is required for scenarios without scripted steps")
	}
	ors := openrouteservice.NewClient(openrouteservice.ClientConfig{
		APIKey:   cfg.ORSAPIKey,
		BaseURL:  cfg.ORSBaseURL,
		Timeout:  cfg.ORSTimeout,
		Registry: resilience.NewRegistry(),
		Logger:   log,
	})
	return routing.NewPlanner(routing.PlannerConfig{
		Provider:  ors,
		Elevation: ors,
		Geocoder:  ors,
		Logger:    log,
	})
}

// Result is the outcome of a simulated ride.
type Result struct {
	Plan          *routing.Plan
	Summary       ride.Summary
	Announcements []announce.Message
}

// Simulate plans the scenario and rides it to the end of the simulated
// track, or until ctx is done.
func Simulate(ctx context.Context, sc *Scenario, planner ride.Planner, log zerolog.Logger) (*Result, error) {
	plan, err := planner.Plan(ctx, sc.Request())
	if err != nil {
		return nil, fmt.Errorf("planning scenario route: %w", err)
	}
	log.Info().
		Str("scenario", sc.Name).
		Str("strategy", plan.Strategy).
		Float64("distance_m", plan.DistanceMeters).
		Str("difficulty", string(plan.Difficulty)).
		Int("steps", len(plan.Steps)).
		Msg("route planned")

	sim, err := location.NewSimulator(location.SimulatorConfig{
		Points:   plan.Route.Path(),
		Interval: sc.Interval.Duration,
		Rate:     sc.Rate,
		Step:     sc.Step,
		Dwell:    sc.dwellByPoint(),
		Start:    sc.Start,
	})
	if err != nil {
		return nil, fmt.Errorf("creating simulator: %w", err)
	}

	recorder := &announce.Recorder{}
	r, err := ride.Start(ctx, ride.Config{
		ID:        "sim-" + time.Now().UTC().Format("20060102T150405"),
		Plan:      plan,
		Source:    sim,
		Rerouter:  planner,
		Announcer: announce.Tee(announce.NewLogger(log), recorder),
		Sink:      ride.LogSink{Logger: log},
		Logger:    log,
		FixClock:  true,
		Buffer:    256,
	})
	if err != nil {
		return nil, fmt.Errorf("starting ride: %w", err)
	}

	select {
	case <-r.Done():
	case <-ctx.Done():
		log.Warn().Msg("simulation interrupted")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := r.Stop(stopCtx)
	if err != nil {
		return nil, fmt.Errorf("stopping ride: %w", err)
	}

	return &Result{Plan: plan, Summary: summary, Announcements: recorder.Messages()}, nil
}
