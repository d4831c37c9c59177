// Package activity accumulates ride metrics from position fixes: moving time,
// distance, speed and calories, with automatic pause when the rider stops.
package activity

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/announce"
	"github.com/pedalei/pedalei/internal/instruction"
	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/pkg/geo"
)

// ErrNotActive is returned for fixes and commands when no activity is running.
var ErrNotActive = errors.New("activity is not running")

// Config holds configuration for a Tracker.
type Config struct {
	Announcer announce.Announcer
	Logger    zerolog.Logger

	// Language for pause announcements (default: pt-BR).
	Language string

	// OutlierMeters discards distance increments at or above this value (default: 100).
	OutlierMeters float64

	// MovementMeters is how far the rider must get from the last movement
	// point to count as moving (default: 5).
	MovementMeters float64

	// AutoPauseAfter is how long the rider may stay within MovementMeters
	// before the activity auto-pauses (default: 10 minutes).
	AutoPauseAfter time.Duration

	// KcalPerKm is the linear calorie model (default: 40).
	KcalPerKm float64

	// Now is used for fixes without a timestamp and for manual commands
	// (default: time.Now).
	Now func() time.Time
}

// State is what the tracker is doing.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateAutoPaused State = "auto_paused"
)

// Tracker is safe for concurrent use; each fix or tick is applied fully
// before the next.
type Tracker struct {
	cfg    Config
	logger zerolog.Logger

	mu              sync.Mutex
	active          bool
	startedAt       time.Time
	lastTick        time.Time
	elapsed         time.Duration
	distance        float64
	speedKmh        float64
	maxSpeedKmh     float64
	calories        float64
	paused          bool
	autoPaused      bool
	autoPauses      int
	lang            string
	lastPosition    *geo.Coordinate // last fix counted for distance
	lastSeen        *geo.Coordinate // last fix of any kind
	movedFrom       *geo.Coordinate // last position that counted as movement
	lastMovementAt  time.Time
	stationarySince time.Time
}

// NewTracker creates an idle Tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Announcer == nil {
		cfg.Announcer = announce.Nop
	}
	if lang, err := instruction.ParseLanguage(cfg.Language); err == nil {
		cfg.Language = lang
	} else {
		cfg.Language = instruction.LangPortuguese
	}
	if cfg.OutlierMeters <= 0 {
		cfg.OutlierMeters = 100
	}
	if cfg.MovementMeters <= 0 {
		cfg.MovementMeters = 5
	}
	if cfg.AutoPauseAfter <= 0 {
		cfg.AutoPauseAfter = 10 * time.Minute
	}
	if cfg.KcalPerKm <= 0 {
		cfg.KcalPerKm = 40
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{cfg: cfg, logger: cfg.Logger, lang: cfg.Language}
}

// Start begins a new activity at at, discarding any previous one.
func (t *Tracker) Start(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reset()
	t.active = true
	t.startedAt = at
	t.lastTick = at
	t.logger.Info().Time("started_at", at).Msg("activity started")
}

// Update applies one fix.
func (t *Tracker) Update(fix location.Fix) error {
	if err := fix.Validate(); err != nil {
		return err
	}
	at := fix.Time
	if at.IsZero() {
		at = t.cfg.Now()
	}

	var say []instruction.PhraseKey

	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return ErrNotActive
	}

	pos := fix.Position
	t.lastSeen = &pos

	if fix.Speed != nil {
		t.speedKmh = *fix.Speed * 3.6
		t.maxSpeedKmh = math.Max(t.maxSpeedKmh, t.speedKmh)
	}

	if t.paused {
		t.mu.Unlock()
		return nil
	}

	if !t.autoPaused {
		if t.lastPosition != nil {
			if d := geo.Distance(*t.lastPosition, pos); d < t.cfg.OutlierMeters {
				t.distance += d
			} else {
				t.logger.Debug().Float64("increment_m", d).Msg("discarding distance outlier")
			}
		}
		t.lastPosition = &pos
	}

	if key, ok := t.checkMovement(pos, at); ok {
		say = append(say, key)
	}
	lang := t.lang
	t.mu.Unlock()

	for _, key := range say {
		t.cfg.Announcer.Speak(instruction.Phrase(lang, key), lang)
	}
	return nil
}

// checkMovement runs the auto-pause bookkeeping and returns the phrase to
// announce on a transition. Caller holds the lock.
func (t *Tracker) checkMovement(pos geo.Coordinate, at time.Time) (instruction.PhraseKey, bool) {
	if t.movedFrom == nil {
		t.movedFrom = &pos
		t.lastMovementAt = at
		t.stationarySince = at
		return "", false
	}

	if geo.Distance(*t.movedFrom, pos) > t.cfg.MovementMeters {
		t.movedFrom = &pos
		t.lastMovementAt = at
		t.stationarySince = at
		if t.autoPaused {
			t.autoPaused = false
			// Resume from here so the pause gap is not counted as distance.
			t.lastPosition = &pos
			t.lastTick = at
			t.logger.Info().Msg("movement detected, resuming activity")
			return instruction.PhraseAutoResumed, true
		}
		return "", false
	}

	if !t.autoPaused && at.Sub(t.stationarySince) >= t.cfg.AutoPauseAfter {
		t.autoPaused = true
		t.autoPauses++
		t.speedKmh = 0
		t.logger.Info().
			Dur("stationary_for", at.Sub(t.stationarySince)).
			Msg("auto-pausing activity")
		return instruction.PhraseAutoPaused, true
	}
	return "", false
}

// Tick advances moving time to at when the activity is running and not
// paused, and refreshes the calorie estimate. Call it once per second.
func (t *Tracker) Tick(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return
	}
	if !t.paused && !t.autoPaused && at.After(t.lastTick) {
		t.elapsed += at.Sub(t.lastTick)
	}
	if at.After(t.lastTick) {
		t.lastTick = at
	}
	t.calories = math.Round(t.distance / 1000 * t.cfg.KcalPerKm)
}

// Pause stops accumulation until Resume. It overrides auto-pause.
func (t *Tracker) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return ErrNotActive
	}
	t.paused = true
	t.autoPaused = false
	t.logger.Info().Msg("activity paused")
	return nil
}

// Resume continues a paused activity and restarts auto-pause tracking from
// the last known position.
func (t *Tracker) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return ErrNotActive
	}
	now := t.cfg.Now()
	t.paused = false
	t.autoPaused = false
	t.lastTick = now
	if t.lastSeen != nil {
		p := *t.lastSeen
		t.movedFrom = &p
		t.lastMovementAt = now
		t.stationarySince = now
	}
	t.logger.Info().Msg("activity resumed")
	return nil
}

// SetLanguage changes the language of pause announcements.
func (t *Tracker) SetLanguage(lang string) error {
	resolved, err := instruction.ParseLanguage(lang)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.lang = resolved
	t.mu.Unlock()
	return nil
}

// Stop ends the activity and returns its summary. ok is false when nothing
// was running, so repeated calls are harmless.
func (t *Tracker) Stop(at time.Time) (summary Summary, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return Summary{}, false
	}
	summary = t.summary(at)
	t.reset()

	t.logger.Info().
		Float64("distance_m", summary.DistanceMeters).
		Float64("moving_s", summary.MovingSeconds).
		Float64("calories", summary.Calories).
		Msg("activity stopped")
	return summary, true
}

// reset clears every field. Caller holds the lock.
func (t *Tracker) reset() {
	t.active = false
	t.startedAt = time.Time{}
	t.lastTick = time.Time{}
	t.elapsed = 0
	t.distance = 0
	t.speedKmh = 0
	t.maxSpeedKmh = 0
	t.calories = 0
	t.paused = false
	t.autoPaused = false
	t.autoPauses = 0
	t.lastPosition = nil
	t.lastSeen = nil
	t.movedFrom = nil
	t.lastMovementAt = time.Time{}
	t.stationarySince = time.Time{}
}

// Summary is the outcome of a finished activity.
type Summary struct {
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
	DistanceMeters float64   `json:"distanceMeters"`
	MovingSeconds  float64   `json:"movingSeconds"`
	AvgSpeedKmh    float64   `json:"avgSpeedKmh"`
	MaxSpeedKmh    float64   `json:"maxSpeedKmh"`
	Calories       float64   `json:"calories"`
	CO2SavedKg     float64   `json:"co2SavedKg"`
	AutoPauses     int       `json:"autoPauses"`
}

// summary builds the Summary. Caller holds the lock.
func (t *Tracker) summary(at time.Time) Summary {
	s := Summary{
		StartedAt:      t.startedAt,
		EndedAt:        at,
		DistanceMeters: t.distance,
		MovingSeconds:  t.elapsed.Seconds(),
		MaxSpeedKmh:    t.maxSpeedKmh,
		Calories:       math.Round(t.distance / 1000 * t.cfg.KcalPerKm),
		CO2SavedKg:     t.distance / 1000 * routing.CO2SavedPerKm,
		AutoPauses:     t.autoPauses,
	}
	if s.MovingSeconds > 0 {
		s.AvgSpeedKmh = t.distance / s.MovingSeconds * 3.6
	}
	return s
}

// Snapshot is a point-in-time copy of the activity for display.
type Snapshot struct {
	State          State      `json:"state"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	ElapsedSeconds int64      `json:"elapsedSeconds"`
	DistanceMeters float64    `json:"distanceMeters"`
	SpeedKmh       float64    `json:"speedKmh"`
	MaxSpeedKmh    float64    `json:"maxSpeedKmh"`
	Calories       float64    `json:"calories"`
	Paused         bool       `json:"paused"`
	AutoPaused     bool       `json:"autoPaused"`
	LastMovementAt *time.Time `json:"lastMovementAt,omitempty"`
}

// Snapshot returns the current activity state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		State:          StateIdle,
		ElapsedSeconds: int64(t.elapsed / time.Second),
		DistanceMeters: t.distance,
		SpeedKmh:       t.speedKmh,
		MaxSpeedKmh:    t.maxSpeedKmh,
		Calories:       t.calories,
		Paused:         t.paused,
		AutoPaused:     t.autoPaused,
	}
	if !t.active {
		return snap
	}

	started := t.startedAt
	snap.StartedAt = &started
	if !t.lastMovementAt.IsZero() {
		moved := t.lastMovementAt
		snap.LastMovementAt = &moved
	}
	switch {
	case t.paused:
		snap.State = StatePaused
	case t.autoPaused:
		snap.State = StateAutoPaused
	default:
		snap.State = StateActive
	}
	return snap
}
