package ride

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/activity"
	"github.com/pedalei/pedalei/internal/announce"
	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/internal/navigation"
	"github.com/pedalei/pedalei/internal/routing"
)

var (
	// ErrRideNotFound is returned for unknown ride ids.
	ErrRideNotFound = errors.New("ride not found")
	// ErrTooManyRides is returned when the manager is at capacity.
	ErrTooManyRides = errors.New("too many active rides")
)

// Planner plans the initial route and reroutes during the ride.
// *routing.Planner satisfies it.
type Planner interface {
	Plan(ctx context.Context, req routing.PlanRequest) (*routing.Plan, error)
	navigation.Rerouter
}

// ManagerConfig holds configuration for a Manager.
type ManagerConfig struct {
	Planner   Planner
	Announcer announce.Announcer
	Sink      SummarySink
	Logger    zerolog.Logger

	Navigation navigation.Config
	Activity   activity.Config

	// MaxRides caps concurrently active rides (default: 1000).
	MaxRides int

	// FixBuffer is the buffer of each ride's push source (default: 32).
	FixBuffer int
}

// Manager keeps the active rides of the API, keyed by id.
type Manager struct {
	cfg    ManagerConfig
	logger zerolog.Logger
	base   context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	rides map[string]*Ride
}

// NewManager creates an empty Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxRides <= 0 {
		cfg.MaxRides = 1000
	}
	if cfg.FixBuffer <= 0 {
		cfg.FixBuffer = 32
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		base:   base,
		cancel: cancel,
		rides:  make(map[string]*Ride),
	}
}

// Start plans req and starts a ride fed by fixes pushed through the API.
func (m *Manager) Start(ctx context.Context, req routing.PlanRequest) (*Ride, error) {
	if m.Count() >= m.cfg.MaxRides {
		return nil, ErrTooManyRides
	}

	plan, err := m.cfg.Planner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.StartPlan(plan)
}

// StartPlan starts a ride on an existing plan.
func (m *Manager) StartPlan(plan *routing.Plan) (*Ride, error) {
	id := uuid.NewString()
	r, err := Start(m.base, Config{
		ID:         id,
		Plan:       plan,
		Source:     location.NewPushSource(m.cfg.FixBuffer),
		Rerouter:   m.cfg.Planner,
		Announcer:  m.cfg.Announcer,
		Sink:       m.cfg.Sink,
		Logger:     m.logger,
		Navigation: m.cfg.Navigation,
		Activity:   m.cfg.Activity,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rides[id] = r
	m.mu.Unlock()
	return r, nil
}

// Get returns the ride with id.
func (m *Manager) Get(id string) (*Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return r, nil
}

// Stop stops the ride with id and forgets it.
func (m *Manager) Stop(ctx context.Context, id string) (Summary, error) {
	m.mu.Lock()
	r, ok := m.rides[id]
	delete(m.rides, id)
	m.mu.Unlock()

	if !ok {
		return Summary{}, ErrRideNotFound
	}
	return r.Stop(ctx)
}

// Count returns the number of active rides.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// Shutdown stops every ride, publishing their summaries.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	rides := m.rides
	m.rides = make(map[string]*Ride)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rides {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Stop(ctx); err != nil {
				m.logger.Warn().Err(err).Str("ride_id", r.ID()).Msg("stopping ride during shutdown")
			}
		}()
	}
	wg.Wait()
	m.cancel()
}
