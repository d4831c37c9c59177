// Package ride runs a navigation session and an activity tracker off one
// location subscription.
package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pedalei/pedalei/internal/activity"
	"github.com/pedalei/pedalei/internal/announce"
	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/internal/navigation"
	"github.com/pedalei/pedalei/internal/routing"
)

// ErrNotPushable is returned by Push when the ride's source is not fed by callers.
var ErrNotPushable = errors.New("ride location source does not accept fixes")

// Config holds configuration for a Ride.
type Config struct {
	ID        string
	Plan      *routing.Plan
	Source    location.Source
	Rerouter  navigation.Rerouter
	Announcer announce.Announcer
	Sink      SummarySink
	Logger    zerolog.Logger

	// Navigation carries the session thresholds. Rerouter, Announcer and
	// Logger are filled in from this Config.
	Navigation navigation.Config

	// Activity carries the tracker thresholds. Announcer, Logger and
	// Language are filled in from this Config.
	Activity activity.Config

	// TickInterval drives the tracker clock (default: 1 second).
	TickInterval time.Duration

	// FixClock advances the tracker clock from fix timestamps instead of
	// wall-clock ticks, for simulated rides played faster than real time.
	FixClock bool

	// Buffer is the per-consumer fix queue length (default: 256, more than
	// one full API batch).
	Buffer int

	// RecentAnnouncements is how many announcements a Snapshot shows (default: 5).
	RecentAnnouncements int
}

const defaultBuffer = 256

// Ride is one rider's trip from start to Stop.
type Ride struct {
	id      string
	plan    *routing.Plan
	source  location.Source
	sink    SummarySink
	logger  zerolog.Logger
	session *navigation.Session
	tracker *activity.Tracker
	recent  *announce.Recorder
	now     func() time.Time
	fixTime bool

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	lastFix time.Time
	runErr  error

	stopOnce sync.Once
	summary  Summary
	stopErr  error
}

// Start builds the session and tracker, begins guidance and starts reading
// fixes. The ride keeps running after ctx is done only if ctx is never
// canceled, so callers that outlive a request should pass a long-lived ctx.
func Start(ctx context.Context, cfg Config) (*Ride, error) {
	if cfg.Plan == nil {
		return nil, navigation.ErrEmptyRoute
	}
	if cfg.Source == nil {
		return nil, errors.New("ride: location source is required")
	}
	if cfg.Announcer == nil {
		cfg.Announcer = announce.Nop
	}
	if cfg.Sink == nil {
		cfg.Sink = LogSink{Logger: cfg.Logger}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.RecentAnnouncements <= 0 {
		cfg.RecentAnnouncements = 5
	}

	logger := cfg.Logger.With().Str("ride_id", cfg.ID).Logger()
	recent := &announce.Recorder{Limit: cfg.RecentAnnouncements}
	announcer := announce.Tee(cfg.Announcer, recent)

	navCfg := cfg.Navigation
	navCfg.Rerouter = cfg.Rerouter
	navCfg.Announcer = announcer
	navCfg.Logger = logger
	session, err := navigation.NewSession(navCfg)
	if err != nil {
		return nil, err
	}

	r := &Ride{
		id:      cfg.ID,
		plan:    cfg.Plan,
		source:  cfg.Source,
		sink:    cfg.Sink,
		logger:  logger,
		session: session,
		recent:  recent,
		now:     time.Now,
		fixTime: cfg.FixClock,
		done:    make(chan struct{}),
	}

	// The tracker sees one clock: fix timestamps when FixClock is set, the
	// server clock otherwise. Device clocks are not trusted for activity
	// time.
	actCfg := cfg.Activity
	actCfg.Announcer = announcer
	actCfg.Logger = logger
	actCfg.Language = cfg.Plan.Language
	actCfg.Now = r.clock
	tracker := activity.NewTracker(actCfg)
	r.tracker = tracker

	if err := session.Start(cfg.Plan); err != nil {
		return nil, err
	}
	startedAt := r.now()
	if cfg.FixClock {
		if f, err := cfg.Source.Current(ctx); err == nil && !f.Time.IsZero() {
			startedAt = f.Time
		}
	}
	tracker.Start(startedAt)

	broadcaster := location.NewBroadcaster(logger)
	navFixes := broadcaster.Add("navigation", cfg.Buffer)
	actFixes := broadcaster.Add("activity", cfg.Buffer)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	fixes, err := cfg.Source.Subscribe(runCtx)
	if err != nil {
		cancel()
		session.Stop()
		return nil, fmt.Errorf("subscribing to location source: %w", err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return broadcaster.Forward(gctx, fixes) })
	g.Go(func() error {
		r.navigate(navFixes)
		return nil
	})
	g.Go(func() error {
		r.track(gctx, actFixes, cfg.TickInterval, cfg.FixClock)
		return nil
	})

	go func() {
		err := g.Wait()
		r.mu.Lock()
		r.runErr = err
		r.mu.Unlock()
		close(r.done)
	}()

	logger.Info().
		Int("steps", len(cfg.Plan.Steps)).
		Float64("distance_m", cfg.Plan.DistanceMeters).
		Msg("ride started")
	return r, nil
}

func (r *Ride) navigate(fixes <-chan location.Fix) {
	for f := range fixes {
		if err := r.session.Update(f); err != nil {
			r.logger.Debug().Err(err).Msg("navigation ignored fix")
		}
	}
}

func (r *Ride) track(ctx context.Context, fixes <-chan location.Fix, interval time.Duration, fixClock bool) {
	var tick <-chan time.Time
	if !fixClock {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what the broadcaster already queued.
			for f := range fixes {
				r.applyActivityFix(f, fixClock)
			}
			return
		case f, ok := <-fixes:
			if !ok {
				return
			}
			r.applyActivityFix(f, fixClock)
		case now := <-tick:
			r.tracker.Tick(now)
		}
	}
}

func (r *Ride) applyActivityFix(f location.Fix, fixClock bool) {
	if !fixClock {
		f.Time = r.now()
	}
	if err := r.tracker.Update(f); err != nil {
		r.logger.Debug().Err(err).Msg("activity ignored fix")
		return
	}
	if !fixClock || f.Time.IsZero() {
		return
	}
	r.mu.Lock()
	if f.Time.After(r.lastFix) {
		r.lastFix = f.Time
	}
	r.mu.Unlock()
	r.tracker.Tick(f.Time)
}

// clock is the tracker's time source: the newest fix time for fix-clocked
// rides, the server clock otherwise.
func (r *Ride) clock() time.Time {
	if !r.fixTime {
		return r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastFix.IsZero() {
		return r.now()
	}
	return r.lastFix
}

// ID returns the ride id.
func (r *Ride) ID() string { return r.id }

// Plan returns the plan the ride started with.
func (r *Ride) Plan() *routing.Plan { return r.plan }

// Done is closed when the location stream ends or the ride is stopped.
func (r *Ride) Done() <-chan struct{} { return r.done }

// Push feeds a fix to rides whose source accepts them, waiting for queue
// space until ctx is done.
func (r *Ride) Push(ctx context.Context, f location.Fix) error {
	p, ok := r.source.(interface {
		Push(context.Context, location.Fix) error
	})
	if !ok {
		return ErrNotPushable
	}
	return p.Push(ctx, f)
}

// Pause pauses activity tracking.
func (r *Ride) Pause() error { return r.tracker.Pause() }

// Resume resumes activity tracking.
func (r *Ride) Resume() error { return r.tracker.Resume() }

// SetLanguage switches instructions and announcements to lang.
func (r *Ride) SetLanguage(lang string) error {
	if err := r.session.SetLanguage(lang); err != nil {
		return err
	}
	return r.tracker.SetLanguage(lang)
}

// Stop ends the ride, publishes its summary and returns it. Later calls
// return the same result without publishing again. A sink failure is
// returned together with the summary.
func (r *Ride) Stop(ctx context.Context) (Summary, error) {
	r.stopOnce.Do(func() {
		r.summary, r.stopErr = r.stop(ctx)
	})
	return r.summary, r.stopErr
}

// Err returns the error that ended the location stream, if any.
func (r *Ride) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

func (r *Ride) stop(ctx context.Context) (Summary, error) {
	r.cancel()
	<-r.done
	if c, ok := r.source.(interface{ Close() }); ok {
		c.Close()
	}

	nav := r.session.Snapshot()
	r.session.Stop()
	r.session.Wait()

	endedAt := r.now()
	if r.fixTime {
		r.mu.Lock()
		if !r.lastFix.IsZero() {
			endedAt = r.lastFix
		}
		r.mu.Unlock()
	}
	r.tracker.Tick(endedAt)
	act, _ := r.tracker.Stop(endedAt)

	summary := Summary{
		RideID:                r.id,
		Activity:              act,
		PlannedDistanceMeters: r.plan.DistanceMeters,
		Strategy:              r.plan.Strategy,
		Difficulty:            r.plan.Difficulty,
		Preferences:           r.plan.Preferences,
		Language:              nav.Language,
		Recalculations:        nav.Recalculations,
		Arrived:               nav.Arrived,
	}

	r.logger.Info().
		Float64("distance_m", act.DistanceMeters).
		Float64("moving_s", act.MovingSeconds).
		Bool("arrived", nav.Arrived).
		Msg("ride stopped")

	if err := r.sink.Publish(ctx, summary); err != nil {
		return summary, fmt.Errorf("publishing ride summary: %w", err)
	}
	return summary, nil
}

// Snapshot is a point-in-time view of a ride.
type Snapshot struct {
	ID            string              `json:"id"`
	Navigation    navigation.Snapshot `json:"navigation"`
	Activity      activity.Snapshot   `json:"activity"`
	Announcements []announce.Message  `json:"announcements"`
	Finished      bool                `json:"finished"`
}

// Snapshot returns the current state of the ride.
func (r *Ride) Snapshot() Snapshot {
	finished := false
	select {
	case <-r.done:
		finished = true
	default:
	}
	return Snapshot{
		ID:            r.id,
		Navigation:    r.session.Snapshot(),
		Activity:      r.tracker.Snapshot(),
		Announcements: r.recent.Messages(),
		Finished:      finished,
	}
}
