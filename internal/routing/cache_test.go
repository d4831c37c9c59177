package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pedalei/pedalei/pkg/geo"
)

var (
	paulista = geo.Coordinate{Lat: -23.5614, Lng: -46.6559}
	ibirapu  = geo.Coordinate{Lat: -23.5874, Lng: -46.6576}
)

func newTestCache(p Provider, clock *fakeClock, cfg CachingProviderConfig) *CachingProvider {
	store := NewMemoryStore(MemoryStoreConfig{})
	store.now = clock.Now
	cfg.Provider = p
	cfg.Store = store
	c := NewCachingProvider(cfg)
	c.now = clock.Now
	return c
}

func bikeRequest() DirectionsRequest {
	return DirectionsRequest{Origin: paulista, Destination: ibirapu, Mode: ModeBicycling}
}

func TestCachingProvider_CacheMissThenHit(t *testing.T) {
	provider := staticProvider(testRoute(3200, 720, "Head north"))
	c := newTestCache(provider, newFakeClock(), CachingProviderConfig{})

	resp, err := c.GetDirections(context.Background(), bikeRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(resp.Routes))
	}

	if _, err := c.GetDirections(context.Background(), bikeRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := provider.callCount.Load(); got != 1 {
		t.Errorf("expected 1 provider call, got %d", got)
	}
}

func TestCachingProvider_GridCaching(t *testing.T) {
	provider := staticProvider(testRoute(3200, 720, "Head north"))
	c := newTestCache(provider, newFakeClock(), CachingProviderConfig{CacheGridSize: 0.01})

	req := bikeRequest()
	req.Origin = geo.Coordinate{Lat: -23.5614, Lng: -46.6559}
	_, _ = c.GetDirections(context.Background(), req)

	// Same 0.01 degree cell.
	req.Origin = geo.Coordinate{Lat: -23.5650, Lng: -46.6520}
	_, _ = c.GetDirections(context.Background(), req)

	if got := provider.callCount.Load(); got != 1 {
		t.Errorf("expected 1 provider call for points in the same cell, got %d", got)
	}
}

func TestCachingProvider_OptionsNotShared(t *testing.T) {
	provider := staticProvider(testRoute(3200, 720, "Head north"))
	c := newTestCache(provider, newFakeClock(), CachingProviderConfig{})

	base := bikeRequest()
	walking := base
	walking.Mode = ModeWalking
	avoid := base
	avoid.AvoidHighways = true
	withStop := base
	withStop.Waypoints = []geo.Coordinate{{Lat: -23.57, Lng: -46.66}}

	for _, req := range []DirectionsRequest{base, walking, avoid, withStop} {
		if _, err := c.GetDirections(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := provider.callCount.Load(); got != 4 {
		t.Errorf("expected 4 provider calls for distinct options, got %d", got)
	}
}

func TestCachingProvider_StaleIfError(t *testing.T) {
	var fail bool
	provider := &fakeProvider{respond: func(DirectionsRequest) (*DirectionsResponse, error) {
		if fail {
			return nil, errors.New("provider error")
		}
		return &DirectionsResponse{Routes: []Route{testRoute(12345, 2400, "Head north")}}, nil
	}}
	clock := newFakeClock()
	c := newTestCache(provider, clock, CachingProviderConfig{
		CacheTTL:        time.Minute,
		StaleIfErrorTTL: 10 * time.Minute,
	})

	if _, err := c.GetDirections(context.Background(), bikeRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(2 * time.Minute)
	fail = true

	resp, err := c.GetDirections(context.Background(), bikeRequest())
	if err != nil {
		t.Fatalf("expected stale data to be served, got error: %v", err)
	}
	if got := resp.Routes[0].DistanceMeters(); got != 12345 {
		t.Errorf("expected stale distance 12345, got %v", got)
	}
	if got := provider.callCount.Load(); got != 2 {
		t.Errorf("expected the provider to be asked again, got %d calls", got)
	}

	// Past the stale window the error surfaces.
	clock.Advance(20 * time.Minute)
	if _, err := c.GetDirections(context.Background(), bikeRequest()); err == nil {
		t.Fatal("expected error once stale window passed")
	}
}

func TestCachingProvider_InvalidCoordinates(t *testing.T) {
	provider := staticProvider()
	c := newTestCache(provider, newFakeClock(), CachingProviderConfig{})

	tests := []struct {
		name string
		req  DirectionsRequest
	}{
		{"invalid origin latitude", DirectionsRequest{Origin: geo.Coordinate{Lat: 91}, Destination: ibirapu}},
		{"invalid destination longitude", DirectionsRequest{Origin: paulista, Destination: geo.Coordinate{Lng: 181}}},
		{"invalid waypoint", DirectionsRequest{Origin: paulista, Destination: ibirapu, Waypoints: []geo.Coordinate{{Lat: -100}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.GetDirections(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var routingErr *Error
			if !errors.As(err, &routingErr) {
				t.Fatalf("expected Error, got %T", err)
			}
			if !errors.Is(err, ErrInvalidCoordinates) {
				t.Errorf("expected ErrInvalidCoordinates, got %v", routingErr.Err)
			}
			if routingErr.Status != StatusInvalidRequest {
				t.Errorf("expected INVALID_REQUEST, got %s", routingErr.Status)
			}
		})
	}

	if provider.callCount.Load() != 0 {
		t.Error("provider should not be called for invalid coordinates")
	}
}

func TestCachingProvider_ConcurrentRequestsCollapse(t *testing.T) {
	provider := staticProvider(testRoute(3200, 720, "Head north"))
	provider.delay = 50 * time.Millisecond
	c := NewCachingProvider(CachingProviderConfig{Provider: provider})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetDirections(context.Background(), bikeRequest()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := provider.callCount.Load(); calls > 2 {
		t.Errorf("expected concurrent identical requests to share a call, got %d", calls)
	}
}

func TestCachingProvider_DistinctRequestsRunInParallel(t *testing.T) {
	provider := staticProvider(testRoute(3200, 720, "Head north"))
	provider.delay = 100 * time.Millisecond
	c := NewCachingProvider(CachingProviderConfig{Provider: provider})

	start := time.Now()
	var wg sync.WaitGroup
	for _, mode := range []TravelMode{ModeBicycling, ModeWalking} {
		wg.Add(1)
		go func(mode TravelMode) {
			defer wg.Done()
			req := bikeRequest()
			req.Mode = mode
			_, _ = c.GetDirections(context.Background(), req)
		}(mode)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 190*time.Millisecond {
		t.Errorf("distinct requests were serialized: took %v", elapsed)
	}
}

func TestCachingProvider_StatsAndInvalidate(t *testing.T) {
	provider := staticProvider(testRoute(3200, 720, "Head north"))
	provider.name = "test-provider"
	clock := newFakeClock()
	c := newTestCache(provider, clock, CachingProviderConfig{CacheTTL: time.Minute})
	ctx := context.Background()

	stats, err := c.CacheStats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("expected 0 entries, got %d", stats.TotalEntries)
	}
	if stats.Provider != "test-provider" {
		t.Errorf("expected provider 'test-provider', got %q", stats.Provider)
	}

	_, _ = c.GetDirections(ctx, bikeRequest())
	stats, _ = c.CacheStats(ctx)
	if stats.TotalEntries != 1 || stats.FreshEntries != 1 {
		t.Errorf("expected 1 fresh entry, got %+v", stats)
	}

	clock.Advance(2 * time.Minute)
	stats, _ = c.CacheStats(ctx)
	if stats.StaleEntries != 1 {
		t.Errorf("expected 1 stale entry, got %+v", stats)
	}

	if err := c.InvalidateCache(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = c.GetDirections(ctx, bikeRequest())
	if got := provider.callCount.Load(); got != 2 {
		t.Errorf("expected a refetch after invalidation, got %d calls", got)
	}
}

func TestCachingProvider_CacheKeyFormat(t *testing.T) {
	c := NewCachingProvider(CachingProviderConfig{Provider: staticProvider(), CacheGridSize: 0.01})

	req := DirectionsRequest{
		Origin:            geo.Coordinate{Lat: 52.3676, Lng: 4.9041},
		Destination:       geo.Coordinate{Lat: 52.0907, Lng: 5.1214},
		Mode:              ModeBicycling,
		AvoidHighways:     true,
		OptimizeWaypoints: true,
	}

	want := "bicycling:52.3600,4.9000:52.0900,5.1200::h-o-"
	if got := c.cacheKey(req); got != want {
		t.Errorf("expected key %q, got %q", want, got)
	}
}

func TestCachingProvider_FineGridKeepsCellsApart(t *testing.T) {
	c := NewCachingProvider(CachingProviderConfig{Provider: staticProvider(), CacheGridSize: 0.00001})

	a := geo.Coordinate{Lat: 52.36761, Lng: 4.90412}
	b := geo.Coordinate{Lat: 52.36765, Lng: 4.90418}
	if c.gridCell(a) == c.gridCell(b) {
		t.Errorf("cells 4e-5 degrees apart share key %q", c.gridCell(a))
	}

	for size, want := range map[float64]int{0.01: 4, 0.0001: 4, 0.00005: 5, 0.00001: 5, 0.000001: 6} {
		if got := gridDigits(size); got != want {
			t.Errorf("gridDigits(%g) = %d, want %d", size, got, want)
		}
	}
}

func TestCachingProvider_Name(t *testing.T) {
	c := NewCachingProvider(CachingProviderConfig{Provider: &fakeProvider{name: "openrouteservice"}})
	if c.Name() != "openrouteservice" {
		t.Errorf("expected 'openrouteservice', got %q", c.Name())
	}
	if len(c.SupportedModes()) != 2 {
		t.Errorf("expected modes of the wrapped provider")
	}
}
