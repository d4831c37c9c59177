package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pedalei/pedalei/pkg/geo"
)

// SimulatorConfig holds configuration for Simulator.
type SimulatorConfig struct {
	// Points are visited in order, usually the step locations of a plan
	// followed by its destination.
	Points []geo.Coordinate

	// Interval is the simulated time between fixes (default: 1s).
	Interval time.Duration

	// Rate speeds playback up: fixes are emitted every Interval/Rate of wall
	// time while timestamps still advance by Interval (default: 1).
	Rate float64

	// Step is the fraction of a segment covered per fix (default: 0.1).
	Step float64

	// Dwell keeps the rider stationary at a point index for a simulated duration.
	Dwell map[int]time.Duration

	// Start is the timestamp of the first fix (default: time.Now at Subscribe).
	Start time.Time
}

// Simulator replays a deterministic ride along a sequence of points. Each
// fix moves Step of the way toward the next point; when a segment is done
// the next one starts.
type Simulator struct {
	cfg SimulatorConfig

	mu   sync.Mutex
	last *Fix
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if len(cfg.Points) == 0 {
		return nil, errors.New("simulator needs at least one point")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Step <= 0 || cfg.Step > 1 {
		cfg.Step = 0.1
	}
	return &Simulator{cfg: cfg}, nil
}

// Fixes returns the whole simulated ride, stamped from start.
func (s *Simulator) Fixes(start time.Time) []Fix {
	var fixes []Fix
	at := start
	emit := func(p geo.Coordinate, speed float64, heading *float64) {
		fixes = append(fixes, Fix{Position: p, Speed: Float(speed), Heading: heading, Accuracy: Float(5), Time: at})
		at = at.Add(s.cfg.Interval)
	}

	points := s.cfg.Points
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		s.dwell(i, a, emit)

		heading := Float(geo.Bearing(a, b))
		speed := geo.Distance(a, b) * s.cfg.Step / s.cfg.Interval.Seconds()
		for progress := 0.0; progress < 1-1e-9; progress += s.cfg.Step {
			emit(geo.Interpolate(a, b, progress), speed, heading)
		}
	}

	last := len(points) - 1
	s.dwell(last, points[last], emit)
	emit(points[last], 0, nil)
	return fixes
}

func (s *Simulator) dwell(i int, p geo.Coordinate, emit func(geo.Coordinate, float64, *float64)) {
	d, ok := s.cfg.Dwell[i]
	if !ok {
		return
	}
	for n := time.Duration(0); n < d; n += s.cfg.Interval {
		emit(p, 0, nil)
	}
}

// Current returns the last emitted fix, or the first point before playback.
func (s *Simulator) Current(context.Context) (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		return *s.last, nil
	}
	return Fix{Position: s.cfg.Points[0], Time: s.cfg.Start}, nil
}

// Subscribe plays the ride back in real time scaled by Rate. The channel is
// closed after the last fix or when ctx is done.
func (s *Simulator) Subscribe(ctx context.Context) (<-chan Fix, error) {
	start := s.cfg.Start
	if start.IsZero() {
		start = time.Now()
	}
	fixes := s.Fixes(start)
	tick := time.Duration(float64(s.cfg.Interval) / s.cfg.Rate)
	if tick <= 0 {
		tick = time.Nanosecond
	}

	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for i := range fixes {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- fixes[i]:
			}
			s.mu.Lock()
			s.last = &fixes[i]
			s.mu.Unlock()
		}
	}()
	return out, nil
}
