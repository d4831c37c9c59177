package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pedalei/pedalei/internal/instruction"
	"github.com/pedalei/pedalei/internal/telemetry"
	"github.com/pedalei/pedalei/pkg/geo"
)

const instrumentationName = "github.com/pedalei/pedalei/internal/routing"

// CO2SavedPerKm is the kilograms of CO2 a car would have emitted per kilometer.
const CO2SavedPerKm = 0.21

// Strategy names reported on a Plan.
const (
	StrategyStrict       = "strict"
	StrategyUnrestricted = "unrestricted"
	StrategyWalking      = "walking"
	StrategyBaseline     = "baseline"
	StrategyReroute      = "reroute"
)

// Place is a stop given either as a coordinate or as an address to geocode.
type Place struct {
	Location *geo.Coordinate `json:"location,omitempty"`
	Address  string          `json:"address,omitempty"`
}

// At returns a Place for a known coordinate.
func At(c geo.Coordinate) Place {
	return Place{Location: &c}
}

// PlanRequest asks the planner for a route.
type PlanRequest struct {
	Origin      Place
	Destination Place
	Waypoints   []Place
	Preferences Preferences
	Language    string // pt-BR when empty
}

// PlannerConfig holds configuration for the Planner.
type PlannerConfig struct {
	// Provider answers directions requests. Usually a CachingProvider.
	Provider Provider

	// Elevation is optional. Without it every plan is classified easy.
	Elevation ElevationProvider

	// Geocoder is optional. Without it addresses are rejected.
	Geocoder Geocoder

	Logger zerolog.Logger
}

// Planner turns a plan request into a scored, navigation-ready Plan.
// It is safe for concurrent use.
type Planner struct {
	provider  Provider
	elevation ElevationProvider
	geocoder  Geocoder
	logger    zerolog.Logger
	now       func() time.Time

	tracer      trace.Tracer
	plansTotal  metric.Int64Counter
	candidates  metric.Int64Counter
	planLatency metric.Float64Histogram
}

// NewPlanner creates a Planner.
func NewPlanner(cfg PlannerConfig) (*Planner, error) {
	if cfg.Provider == nil {
		return nil, errors.New("routing: planner requires a provider")
	}

	meter := telemetry.Meter(instrumentationName)

	plansTotal, err := meter.Int64Counter(
		"route_plans_total",
		metric.WithDescription("Route planning requests by strategy and outcome"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating plans counter: %w", err)
	}

	candidates, err := meter.Int64Counter(
		"route_candidates_scored_total",
		metric.WithDescription("Candidate routes scored"),
		metric.WithUnit("{route}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating candidates counter: %w", err)
	}

	planLatency, err := meter.Float64Histogram(
		"route_plan_duration_seconds",
		metric.WithDescription("Time to produce a route plan"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("creating plan latency histogram: %w", err)
	}

	return &Planner{
		provider:    cfg.Provider,
		elevation:   cfg.Elevation,
		geocoder:    cfg.Geocoder,
		logger:      cfg.Logger,
		now:         time.Now,
		tracer:      telemetry.Tracer(instrumentationName),
		plansTotal:  plansTotal,
		candidates:  candidates,
		planLatency: planLatency,
	}, nil
}

// candidate is one scored route together with the strategy that produced it.
type candidate struct {
	route    Route
	score    float64
	strategy string
}

// Plan resolves the stops, asks the provider for routes according to the
// rider's traffic-law preference and returns the best scoring one.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "routing.Plan")
	defer span.End()

	lang, err := instruction.ParseLanguage(orDefault(req.Language, instruction.LangPortuguese))
	if err != nil {
		return nil, err
	}

	dreq, err := p.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve stops")
		return nil, err
	}

	var best candidate
	if req.Preferences.FollowTrafficLaws {
		best, err = p.planStrict(ctx, dreq, req.Preferences)
	} else {
		best, err = p.planFlexible(ctx, dreq, req.Preferences)
	}

	outcome := "ok"
	if err != nil {
		outcome = string(StatusOf(err))
	}
	p.plansTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("follow_traffic_laws", req.Preferences.FollowTrafficLaws),
		attribute.String("outcome", outcome),
	))
	p.planLatency.Record(ctx, p.now().Sub(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		p.logger.Warn().Err(err).
			Bool("follow_traffic_laws", req.Preferences.FollowTrafficLaws).
			Msg("route planning failed")
		return nil, err
	}

	plan, err := p.buildPlan(ctx, best, dreq, req.Preferences, lang, true)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("route.strategy", plan.Strategy),
		attribute.Float64("route.score", plan.Score),
		attribute.Float64("route.distance_m", plan.DistanceMeters),
	)
	p.logger.Info().
		Str("strategy", plan.Strategy).
		Float64("score", plan.Score).
		Float64("distance_m", plan.DistanceMeters).
		Float64("duration_s", plan.DurationSeconds).
		Int("steps", len(plan.Steps)).
		Str("difficulty", string(plan.Difficulty)).
		Msg("route planned")

	return plan, nil
}

// Reroute plans a fresh bicycling route from the rider's position. It makes
// a single request, restricted only when the rider follows traffic laws,
// and skips elevation sampling.
func (p *Planner) Reroute(ctx context.Context, from, to geo.Coordinate, prefs Preferences, lang string) (*Plan, error) {
	ctx, span := p.tracer.Start(ctx, "routing.Reroute")
	defer span.End()

	lang, err := instruction.ParseLanguage(orDefault(lang, instruction.LangPortuguese))
	if err != nil {
		return nil, err
	}

	dreq := DirectionsRequest{
		Origin:        from,
		Destination:   to,
		Mode:          ModeBicycling,
		AvoidHighways: prefs.FollowTrafficLaws && prefs.AvoidHighways,
		AvoidTolls:    prefs.FollowTrafficLaws && prefs.AvoidExpressways,
		Alternatives:  !prefs.FollowTrafficLaws,
	}

	resp, err := p.provider.GetDirections(ctx, dreq)
	if err == nil && len(resp.Routes) == 0 {
		err = &Error{Provider: p.provider.Name(), Status: StatusZeroResults, Message: "no routes returned", Err: ErrNoRouteFound}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reroute")
		return nil, p.routingFailed(err)
	}

	best := p.pick(ctx, resp.Routes, prefs, StrategyReroute)
	return p.buildPlan(ctx, best, dreq, prefs, lang, false)
}

func (p *Planner) planStrict(ctx context.Context, dreq DirectionsRequest, prefs Preferences) (candidate, error) {
	resp, err := p.provider.GetDirections(ctx, dreq)
	if err == nil && len(resp.Routes) == 0 {
		err = &Error{Provider: p.provider.Name(), Status: StatusZeroResults, Message: "no routes returned", Err: ErrNoRouteFound}
	}
	if err != nil {
		return candidate{}, p.routingFailed(err)
	}
	return p.pick(ctx, resp.Routes, prefs, StrategyStrict), nil
}

// planFlexible runs the three flexible variants concurrently and keeps the
// best scoring route. Results are compared in variant order, so on a tie the
// earlier variant wins.
func (p *Planner) planFlexible(ctx context.Context, base DirectionsRequest, prefs Preferences) (candidate, error) {
	unrestricted := base
	unrestricted.AvoidHighways = false
	unrestricted.AvoidTolls = false
	unrestricted.OptimizeWaypoints = false

	walking := base
	walking.Mode = ModeWalking
	walking.AvoidHighways = false
	walking.AvoidTolls = false

	variants := []struct {
		strategy string
		req      DirectionsRequest
	}{
		{StrategyUnrestricted, unrestricted},
		{StrategyWalking, walking},
		{StrategyBaseline, base},
	}

	results := make([]*DirectionsResponse, len(variants))
	errs := make([]error, len(variants))

	var g errgroup.Group
	for i, v := range variants {
		g.Go(func() error {
			resp, err := p.provider.GetDirections(ctx, v.req)
			if err == nil && len(resp.Routes) == 0 {
				err = &Error{Provider: p.provider.Name(), Status: StatusZeroResults, Message: "no routes returned", Err: ErrNoRouteFound}
			}
			if err != nil {
				p.logger.Debug().Err(err).Str("strategy", v.strategy).Msg("flexible routing variant failed")
				errs[i] = fmt.Errorf("%s: %w", v.strategy, err)
				return nil
			}
			results[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	var (
		best  candidate
		found bool
	)
	for i, resp := range results {
		if resp == nil {
			continue
		}
		c := p.pick(ctx, resp.Routes, prefs, variants[i].strategy)
		if !found || c.score > best.score {
			best, found = c, true
		}
	}

	if !found {
		var status Status = StatusUnknownError
		for _, err := range errs {
			status = StatusOf(err)
		}
		return candidate{}, &Error{
			Provider: p.provider.Name(),
			Status:   status,
			Message:  "all flexible routing strategies failed",
			Err:      fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(errs...)),
		}
	}
	return best, nil
}

// pick scores routes and returns the highest; the first route wins ties.
func (p *Planner) pick(ctx context.Context, routes []Route, prefs Preferences, strategy string) candidate {
	best := candidate{route: routes[0], score: Score(routes[0], prefs), strategy: strategy}
	for _, r := range routes[1:] {
		if s := Score(r, prefs); s > best.score {
			best = candidate{route: r, score: s, strategy: strategy}
		}
	}
	p.candidates.Add(ctx, int64(len(routes)), metric.WithAttributes(attribute.String("strategy", strategy)))
	return best
}

func (p *Planner) routingFailed(err error) error {
	return &Error{
		Provider: p.provider.Name(),
		Status:   StatusOf(err),
		Message:  "directions request failed",
		Err:      fmt.Errorf("%w: %w", ErrRoutingFailed, err),
	}
}

// resolve geocodes addresses and builds the baseline directions request.
func (p *Planner) resolve(ctx context.Context, req PlanRequest) (DirectionsRequest, error) {
	origin, err := p.locate(ctx, req.Origin, "origin")
	if err != nil {
		return DirectionsRequest{}, err
	}
	destination, err := p.locate(ctx, req.Destination, "destination")
	if err != nil {
		return DirectionsRequest{}, err
	}

	var waypoints []geo.Coordinate
	for i, w := range req.Waypoints {
		if w.Location == nil && strings.TrimSpace(w.Address) == "" {
			continue
		}
		c, err := p.locate(ctx, w, fmt.Sprintf("waypoint %d", i))
		if err != nil {
			return DirectionsRequest{}, err
		}
		waypoints = append(waypoints, c)
	}

	prefs := req.Preferences
	return DirectionsRequest{
		Origin:            origin,
		Destination:       destination,
		Waypoints:         waypoints,
		Mode:              ModeBicycling,
		AvoidHighways:     prefs.FollowTrafficLaws && prefs.AvoidHighways,
		AvoidTolls:        prefs.FollowTrafficLaws && prefs.AvoidExpressways,
		OptimizeWaypoints: true,
		Alternatives:      true,
	}, nil
}

func (p *Planner) locate(ctx context.Context, place Place, what string) (geo.Coordinate, error) {
	if place.Location != nil {
		if err := place.Location.Validate(); err != nil {
			return geo.Coordinate{}, &Error{
				Provider: p.provider.Name(),
				Status:   StatusInvalidRequest,
				Message:  "invalid " + what,
				Err:      fmt.Errorf("%w: %w", ErrInvalidCoordinates, err),
			}
		}
		return *place.Location, nil
	}

	address := strings.TrimSpace(place.Address)
	if address == "" {
		return geo.Coordinate{}, &Error{
			Provider: p.provider.Name(),
			Status:   StatusInvalidRequest,
			Message:  what + " is required",
			Err:      ErrInvalidCoordinates,
		}
	}
	if p.geocoder == nil {
		return geo.Coordinate{}, &Error{
			Provider: p.provider.Name(),
			Status:   StatusInvalidRequest,
			Message:  "no geocoder configured for " + what,
			Err:      ErrGeocodingFailed,
		}
	}

	c, err := p.geocoder.Geocode(ctx, address)
	if err != nil {
		return geo.Coordinate{}, &Error{
			Provider: p.provider.Name(),
			Status:   StatusOf(err),
			Message:  "could not resolve " + what,
			Err:      fmt.Errorf("%w: %w", ErrGeocodingFailed, err),
		}
	}
	return c, nil
}

func (p *Planner) buildPlan(ctx context.Context, best candidate, dreq DirectionsRequest, prefs Preferences, lang string, withElevation bool) (*Plan, error) {
	steps, err := DecomposeSteps(best.route, lang)
	if err != nil {
		return nil, err
	}

	distance := best.route.DistanceMeters()
	plan := &Plan{
		Origin:          dreq.Origin,
		Destination:     dreq.Destination,
		Waypoints:       dreq.Waypoints,
		Preferences:     prefs,
		Language:        lang,
		Strategy:        best.strategy,
		Route:           best.route,
		Steps:           steps,
		Score:           best.score,
		DistanceMeters:  distance,
		DurationSeconds: best.route.DurationSeconds(),
		Difficulty:      DifficultyEasy,
		CO2SavedKg:      distance / 1000 * CO2SavedPerKm,
		CreatedAt:       p.now().UTC(),
	}

	if withElevation && p.elevation != nil {
		elevation, err := sampleElevation(ctx, p.elevation, best.route.Path(), distance)
		if err != nil {
			p.logger.Warn().Err(err).Msg("elevation unavailable, classifying route as easy")
		} else {
			plan.Elevation = elevation
			plan.Difficulty = Classify(elevation.GainMeters, distance)
		}
	}

	return plan, nil
}

// DecomposeSteps flattens a route's legs into navigation steps with
// normalized instructions in lang.
func DecomposeSteps(route Route, lang string) ([]Step, error) {
	steps := make([]Step, 0, route.StepCount())
	for li, leg := range route.Legs {
		for si, ps := range leg.Steps {
			raw := strings.TrimSpace(instruction.StripMarkup(ps.Instruction))
			text, err := instruction.Normalize(raw, lang)
			if err != nil {
				return nil, err
			}

			maneuver := ps.Maneuver
			if maneuver == "" {
				maneuver = ManeuverStraight
			}

			steps = append(steps, Step{
				ID:              fmt.Sprintf("%d-%d", li, si),
				RawInstruction:  raw,
				Instruction:     text,
				DistanceMeters:  ps.DistanceMeters,
				DurationSeconds: ps.DurationSeconds,
				Maneuver:        maneuver,
				Location:        ps.StartLocation,
			})
		}
	}
	return steps, nil
}

// Relanguage re-renders every step instruction in lang.
func (p *Plan) Relanguage(lang string) error {
	lang, err := RelanguageSteps(p.Steps, lang)
	if err != nil {
		return err
	}
	p.Language = lang
	return nil
}

// RelanguageSteps re-normalizes the raw instruction of each step in place and
// returns the resolved language tag.
func RelanguageSteps(steps []Step, lang string) (string, error) {
	lang, err := instruction.ParseLanguage(lang)
	if err != nil {
		return "", err
	}
	for i := range steps {
		text, err := instruction.Normalize(steps[i].RawInstruction, lang)
		if err != nil {
			return "", err
		}
		steps[i].Instruction = text
	}
	return lang, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
