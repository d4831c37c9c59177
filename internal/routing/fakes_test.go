package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pedalei/pedalei/pkg/geo"
)

// fakeProvider answers directions requests through respond and records them.
type fakeProvider struct {
	name      string
	delay     time.Duration
	respond   func(req DirectionsRequest) (*DirectionsResponse, error)
	callCount atomic.Int32

	mu       sync.Mutex
	requests []DirectionsRequest
}

func (f *fakeProvider) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	f.callCount.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.respond(req)
}

func (f *fakeProvider) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeProvider) SupportedModes() []TravelMode {
	return []TravelMode{ModeBicycling, ModeWalking}
}

func (f *fakeProvider) recorded() []DirectionsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DirectionsRequest(nil), f.requests...)
}

func staticProvider(routes ...Route) *fakeProvider {
	return &fakeProvider{
		respond: func(DirectionsRequest) (*DirectionsResponse, error) {
			return &DirectionsResponse{Routes: routes, Provider: "fake"}, nil
		},
	}
}

type fakeElevation struct {
	heights   func(n int) []float64
	err       error
	callCount atomic.Int32
}

func (f *fakeElevation) ElevationAt(_ context.Context, points []geo.Coordinate) ([]float64, error) {
	f.callCount.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.heights(len(points)), nil
}

// ramp returns n heights climbing evenly by total meters.
func ramp(total float64) func(n int) []float64 {
	return func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			if n > 1 {
				out[i] = 700 + total*float64(i)/float64(n-1)
			}
		}
		return out
	}
}

type fakeGeocoder map[string]geo.Coordinate

func (g fakeGeocoder) Geocode(_ context.Context, address string) (geo.Coordinate, error) {
	c, ok := g[address]
	if !ok {
		return geo.Coordinate{}, ErrGeocodingFailed
	}
	return c, nil
}

// testRoute builds a one-leg route whose steps start 100m apart going north.
func testRoute(distanceMeters, durationSeconds float64, instructions ...string) Route {
	start := geo.Coordinate{Lat: -23.5614, Lng: -46.6559}
	steps := make([]ProviderStep, len(instructions))
	per := distanceMeters / float64(max(len(instructions), 1))
	for i, text := range instructions {
		loc := geo.Coordinate{Lat: start.Lat + float64(i)*0.0009, Lng: start.Lng}
		steps[i] = ProviderStep{
			Instruction:     text,
			DistanceMeters:  per,
			DurationSeconds: durationSeconds / float64(len(instructions)),
			StartLocation:   loc,
			EndLocation:     geo.Coordinate{Lat: loc.Lat + 0.0009, Lng: loc.Lng},
		}
	}
	end := geo.Coordinate{Lat: start.Lat + float64(len(instructions))*0.0009, Lng: start.Lng}
	return Route{
		Legs: []Leg{{
			Steps:           steps,
			DistanceMeters:  distanceMeters,
			DurationSeconds: durationSeconds,
			StartLocation:   start,
			EndLocation:     end,
		}},
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
