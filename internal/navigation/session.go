// Package navigation runs turn-by-turn guidance along a planned route.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pedalei/pedalei/internal/announce"
	"github.com/pedalei/pedalei/internal/instruction"
	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/internal/telemetry"
	"github.com/pedalei/pedalei/pkg/geo"
)

const instrumentationName = "github.com/pedalei/pedalei/internal/navigation"

var (
	// ErrRecalculationFailed wraps the planner error when a reroute fails.
	// The session keeps its previous steps.
	ErrRecalculationFailed = errors.New("route recalculation failed")
	// ErrEmptyRoute is returned when starting a session without steps.
	ErrEmptyRoute = errors.New("route has no steps")
	// ErrNotNavigating is returned for fixes or commands outside an active session.
	ErrNotNavigating = errors.New("navigation session is not active")
	// ErrAlreadyNavigating is returned by Start on an active session.
	ErrAlreadyNavigating = errors.New("navigation session already active")
)

// State is the session state.
type State string

const (
	StateIdle          State = "idle"
	StateOnRoute       State = "on_route"
	StateOffRoute      State = "off_route"
	StateRecalculating State = "recalculating"
	StateStopped       State = "stopped"
)

// Navigating reports whether the state is one of the active states.
func (s State) Navigating() bool {
	return s == StateOnRoute || s == StateOffRoute || s == StateRecalculating
}

// Rerouter plans a replacement route from the rider's position.
// *routing.Planner satisfies it.
type Rerouter interface {
	Reroute(ctx context.Context, from, to geo.Coordinate, prefs routing.Preferences, lang string) (*routing.Plan, error)
}

// Config holds configuration for a Session.
type Config struct {
	Rerouter  Rerouter
	Announcer announce.Announcer
	Logger    zerolog.Logger

	// OffRouteMeters is how far the rider may be from the current step and
	// the lookahead steps before a reroute (default: 100).
	OffRouteMeters float64

	// StepReachedMeters is how close the rider must get to the current step
	// to advance (default: 50).
	StepReachedMeters float64

	// LookaheadSteps is how many steps after the current one count as on
	// route (default: 2).
	LookaheadSteps int

	// RecalculationTimeout bounds a single reroute (default: 30 seconds).
	RecalculationTimeout time.Duration

	// RetryCooldown is how long after a failed reroute the session stays
	// off route without asking again (default: 10 seconds).
	RetryCooldown time.Duration
}

func (c *Config) applyDefaults() {
	if c.Announcer == nil {
		c.Announcer = announce.Nop
	}
	if c.OffRouteMeters <= 0 {
		c.OffRouteMeters = 100
	}
	if c.StepReachedMeters <= 0 {
		c.StepReachedMeters = 50
	}
	if c.LookaheadSteps <= 0 {
		c.LookaheadSteps = 2
	}
	if c.RecalculationTimeout <= 0 {
		c.RecalculationTimeout = 30 * time.Second
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = 10 * time.Second
	}
}

// Session is one rider's navigation state machine. Fixes are applied one at
// a time under a lock; reroutes run in the background and their results are
// dropped if the session stopped or restarted in the meantime.
type Session struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	recalculations metric.Int64Counter
	advances       metric.Int64Counter

	mu             sync.Mutex
	state          State
	steps          []routing.Step
	index          int
	destination    geo.Coordinate
	prefs          routing.Preferences
	lang           string
	offRoute       bool
	recalculating  bool
	arrived        bool
	lastPosition   *geo.Coordinate
	lastRoutePoint *geo.Coordinate
	heading        *float64
	distanceToStep float64
	remainingDist  float64
	remainingTime  float64
	reroutes       int
	lastErr        error
	retryAfter     time.Time
	generation     uint64
	cancel         context.CancelFunc
	pending        sync.WaitGroup
}

// NewSession creates an idle Session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Rerouter == nil {
		return nil, errors.New("navigation: session requires a rerouter")
	}
	cfg.applyDefaults()

	meter := telemetry.Meter(instrumentationName)
	recalculations, err := meter.Int64Counter(
		"navigation_recalculations_total",
		metric.WithDescription("Off-route recalculations by outcome"),
		metric.WithUnit("{recalculation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating recalculations counter: %w", err)
	}
	advances, err := meter.Int64Counter(
		"navigation_step_advances_total",
		metric.WithDescription("Steps completed by riders"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating step advances counter: %w", err)
	}

	return &Session{
		cfg:            cfg,
		logger:         cfg.Logger,
		now:            time.Now,
		recalculations: recalculations,
		advances:       advances,
		state:          StateIdle,
	}, nil
}

// Start begins guidance along plan's steps and announces the first one.
// The plan is copied; later changes to it do not affect the session.
func (s *Session) Start(plan *routing.Plan) error {
	if plan == nil || len(plan.Steps) == 0 {
		return ErrEmptyRoute
	}

	s.mu.Lock()
	if s.state.Navigating() {
		s.mu.Unlock()
		return ErrAlreadyNavigating
	}

	s.reset()
	s.generation++
	s.steps = append([]routing.Step(nil), plan.Steps...)
	s.destination = plan.Destination
	s.prefs = plan.Preferences
	s.lang = plan.Language
	if s.lang == "" {
		s.lang = instruction.LangPortuguese
	}
	s.state = StateOnRoute
	s.updateRemaining()

	first, lang := s.steps[0].Instruction, s.lang
	s.mu.Unlock()

	s.logger.Info().
		Int("steps", len(plan.Steps)).
		Str("destination", plan.Destination.String()).
		Bool("follow_traffic_laws", plan.Preferences.FollowTrafficLaws).
		Msg("navigation started")
	s.cfg.Announcer.Speak(first, lang)
	return nil
}

// Update applies one fix. Malformed fixes are ignored and reported as
// location.ErrInvalidFix without touching the state.
func (s *Session) Update(fix location.Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}

	var say []string

	s.mu.Lock()
	if !s.state.Navigating() {
		s.mu.Unlock()
		return ErrNotNavigating
	}

	pos := fix.Position
	s.trackHeading(fix)
	s.lastPosition = &pos

	current := s.steps[s.index]
	s.distanceToStep = geo.Distance(pos, current.Location)

	if !s.recalculating && s.farFromRoute(pos) {
		s.offRoute = true
		s.lastRoutePoint = &pos
		// After a failed recalculation the next one waits out the retry
		// cooldown; until then the rider is only marked off route.
		if s.now().Before(s.retryAfter) {
			s.state = StateOffRoute
			s.mu.Unlock()
			return nil
		}
		s.recalculating = true
		s.state = StateRecalculating
		s.recalculate(pos)
		s.mu.Unlock()
		return nil
	}

	s.updateRemaining()

	last := len(s.steps) - 1
	if s.distanceToStep < s.cfg.StepReachedMeters {
		switch {
		case s.index < last:
			s.index++
			s.offRoute = false
			if !s.recalculating {
				s.state = StateOnRoute
			}
			s.distanceToStep = geo.Distance(pos, s.steps[s.index].Location)
			s.updateRemaining()
			say = append(say, s.steps[s.index].Instruction)
			s.advances.Add(context.Background(), 1)
		case !s.arrived:
			s.arrived = true
			say = append(say, instruction.Phrase(s.lang, instruction.PhraseArrived))
		}
	}
	lang := s.lang
	index := s.index
	s.mu.Unlock()

	if len(say) > 0 {
		s.logger.Debug().Int("step_index", index).Msg("navigation step reached")
	}
	for _, text := range say {
		s.cfg.Announcer.Speak(text, lang)
	}
	return nil
}

// farFromRoute reports whether pos is beyond the off-route distance from the
// current step and every lookahead step. Caller holds the lock.
func (s *Session) farFromRoute(pos geo.Coordinate) bool {
	end := min(s.index+1+s.cfg.LookaheadSteps, len(s.steps))
	for i := s.index; i < end; i++ {
		if geo.Distance(pos, s.steps[i].Location) < s.cfg.OffRouteMeters {
			return false
		}
	}
	return true
}

// trackHeading keeps the reported heading, or derives one from movement.
// Caller holds the lock.
func (s *Session) trackHeading(fix location.Fix) {
	if fix.Heading != nil {
		h := *fix.Heading
		s.heading = &h
		return
	}
	if s.lastPosition != nil && geo.Distance(*s.lastPosition, fix.Position) >= 1 {
		h := geo.Bearing(*s.lastPosition, fix.Position)
		s.heading = &h
	}
}

// updateRemaining sums the steps not yet completed. Caller holds the lock.
func (s *Session) updateRemaining() {
	s.remainingDist, s.remainingTime = 0, 0
	for _, step := range s.steps[s.index:] {
		s.remainingDist += step.DistanceMeters
		s.remainingTime += step.DurationSeconds
	}
}

// recalculate starts a reroute from pos. Caller holds the lock.
func (s *Session) recalculate(pos geo.Coordinate) {
	gen := s.generation
	dest, prefs, lang := s.destination, s.prefs, s.lang

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecalculationTimeout)
	s.cancel = cancel

	s.logger.Info().
		Str("position", pos.String()).
		Int("step_index", s.index).
		Msg("rider off route, recalculating")

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		plan, err := s.cfg.Rerouter.Reroute(ctx, pos, dest, prefs, lang)
		s.finishRecalculation(gen, plan, err)
	}()
}

func (s *Session) finishRecalculation(gen uint64, plan *routing.Plan, err error) {
	if err == nil && (plan == nil || len(plan.Steps) == 0) {
		err = ErrEmptyRoute
	}

	var say []string

	s.mu.Lock()
	if gen != s.generation || !s.state.Navigating() {
		s.mu.Unlock()
		s.logger.Debug().Msg("discarding recalculation result for a stopped session")
		return
	}
	s.recalculating = false
	s.offRoute = false
	s.state = StateOnRoute
	s.cancel = nil
	lang := s.lang

	if err != nil {
		s.lastErr = fmt.Errorf("%w: %w", ErrRecalculationFailed, err)
		s.retryAfter = s.now().Add(s.cfg.RetryCooldown)
		say = append(say, instruction.Phrase(lang, instruction.PhraseRecalculationFailed))
		s.mu.Unlock()

		s.recalculations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		s.logger.Warn().Err(err).Msg("route recalculation failed, keeping previous route")
		s.speak(say, lang)
		return
	}

	s.steps = append([]routing.Step(nil), plan.Steps...)
	if _, rerr := routing.RelanguageSteps(s.steps, lang); rerr != nil {
		s.logger.Warn().Err(rerr).Msg("could not render rerouted steps in session language")
	}
	s.index = 0
	s.arrived = false
	s.lastErr = nil
	s.reroutes++
	if s.lastPosition != nil {
		s.distanceToStep = geo.Distance(*s.lastPosition, s.steps[0].Location)
	}
	s.updateRemaining()

	first := s.steps[0]
	if instruction.IsUTurn(first.RawInstruction) || instruction.IsUTurn(first.Instruction) {
		key := instruction.PhraseRerouteStrict
		if !s.prefs.FollowTrafficLaws {
			key = instruction.PhraseRerouteFlexible
		}
		say = append(say, instruction.Phrase(lang, key))
	}
	steps := len(s.steps)
	s.mu.Unlock()

	s.recalculations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	s.logger.Info().Int("steps", steps).Msg("route recalculated")
	s.speak(say, lang)
}

func (s *Session) speak(texts []string, lang string) {
	for _, text := range texts {
		s.cfg.Announcer.Speak(text, lang)
	}
}

// SetLanguage re-renders every step instruction and future announcements in lang.
func (s *Session) SetLanguage(lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Navigating() {
		return ErrNotNavigating
	}
	resolved, err := routing.RelanguageSteps(s.steps, lang)
	if err != nil {
		return err
	}
	s.lang = resolved
	return nil
}

// Stop ends guidance from any state. Calling it again is a no-op. A reroute
// still in flight is canceled and its result ignored.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.generation++
	if s.cancel != nil {
		s.cancel()
	}
	s.reset()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info().Msg("navigation stopped")
}

// Wait blocks until no reroute goroutine is running.
func (s *Session) Wait() {
	s.pending.Wait()
}

// reset clears all route fields. Caller holds the lock.
func (s *Session) reset() {
	s.steps = nil
	s.index = 0
	s.destination = geo.Coordinate{}
	s.prefs = routing.Preferences{}
	s.offRoute = false
	s.recalculating = false
	s.arrived = false
	s.lastPosition = nil
	s.lastRoutePoint = nil
	s.heading = nil
	s.distanceToStep = 0
	s.remainingDist = 0
	s.remainingTime = 0
	s.reroutes = 0
	s.lastErr = nil
	s.retryAfter = time.Time{}
	s.cancel = nil
}

// Snapshot is a point-in-time copy of the session for display.
type Snapshot struct {
	State                    State           `json:"state"`
	Language                 string          `json:"language,omitempty"`
	StepIndex                int             `json:"stepIndex"`
	StepCount                int             `json:"stepCount"`
	CurrentStep              *routing.Step   `json:"currentStep,omitempty"`
	NextStep                 *routing.Step   `json:"nextStep,omitempty"`
	DistanceToStepMeters     float64         `json:"distanceToStepMeters"`
	RemainingDistanceMeters  float64         `json:"remainingDistanceMeters"`
	RemainingDurationSeconds float64         `json:"remainingDurationSeconds"`
	OffRoute                 bool            `json:"offRoute"`
	Recalculating            bool            `json:"recalculating"`
	Arrived                  bool            `json:"arrived"`
	HeadingDeg               *float64        `json:"headingDeg,omitempty"`
	LastKnownPosition        *geo.Coordinate `json:"lastKnownPosition,omitempty"`
	LastKnownRoutePosition   *geo.Coordinate `json:"lastKnownRoutePosition,omitempty"`
	Recalculations           int             `json:"recalculations"`
	LastError                string          `json:"lastError,omitempty"`
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:                    s.state,
		Language:                 s.lang,
		StepIndex:                s.index,
		StepCount:                len(s.steps),
		DistanceToStepMeters:     round1(s.distanceToStep),
		RemainingDistanceMeters:  s.remainingDist,
		RemainingDurationSeconds: s.remainingTime,
		OffRoute:                 s.offRoute,
		Recalculating:            s.recalculating,
		Arrived:                  s.arrived,
		Recalculations:           s.reroutes,
	}
	if s.index < len(s.steps) {
		step := s.steps[s.index]
		snap.CurrentStep = &step
	}
	if s.index+1 < len(s.steps) {
		step := s.steps[s.index+1]
		snap.NextStep = &step
	}
	if s.heading != nil {
		h := *s.heading
		snap.HeadingDeg = &h
	}
	if s.lastPosition != nil {
		p := *s.lastPosition
		snap.LastKnownPosition = &p
	}
	if s.lastRoutePoint != nil {
		p := *s.lastRoutePoint
		snap.LastKnownRoutePosition = &p
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Steps returns a copy of the current step sequence.
func (s *Session) Steps() []routing.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]routing.Step(nil), s.steps...)
}

// Err returns the last recalculation error, if the latest reroute failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
