package rediscache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/internal/routing/rediscache"
	"github.com/pedalei/pedalei/pkg/geo"
)

func newStore(t *testing.T) (*rediscache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.New(client, "", zerolog.Nop()), mr
}

func sampleEntry(fetched time.Time, ttl time.Duration) routing.CacheEntry {
	return routing.CacheEntry{
		Response: &routing.DirectionsResponse{
			Provider: "openrouteservice",
			Routes: []routing.Route{{
				GeometryPolyline: "_p~iF~ps|U_ulLnnqC",
				Legs: []routing.Leg{{
					DistanceMeters:  1234,
					DurationSeconds: 300,
					Steps: []routing.ProviderStep{{
						Instruction:   "Head north",
						StartLocation: geo.Coordinate{Lat: 38.5, Lng: -120.2},
					}},
				}},
			}},
		},
		FetchedAt: fetched,
		ExpiresAt: fetched.Add(ttl),
	}
}

func TestStore_SetGet(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Set(ctx, "bicycling:a:b", sampleEntry(now, time.Minute), 15*time.Minute))

	got, ok, err := store.Get(ctx, "bicycling:a:b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1234.0, got.Response.Routes[0].DistanceMeters())
	assert.Equal(t, "Head north", got.Response.Routes[0].Legs[0].Steps[0].Instruction)
	assert.True(t, got.FetchedAt.Equal(now))

	assert.True(t, mr.Exists(rediscache.DefaultPrefix+"bicycling:a:b"))
	assert.Equal(t, 15*time.Minute, mr.TTL(rediscache.DefaultPrefix+"bicycling:a:b"))
}

func TestStore_RetentionExpires(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", sampleEntry(time.Now(), time.Minute), 15*time.Minute))
	mr.FastForward(16 * time.Minute)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CorruptEntryIsMiss(t *testing.T) {
	store, mr := newStore(t)
	require.NoError(t, mr.Set(rediscache.DefaultPrefix+"bad", "{not json"))

	_, ok, err := store.Get(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(rediscache.DefaultPrefix+"bad"))
}

func TestStore_StatsAndClear(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Set(ctx, "fresh", sampleEntry(now, time.Hour), 2*time.Hour))
	require.NoError(t, store.Set(ctx, "stale", sampleEntry(now.Add(-10*time.Minute), time.Minute), time.Hour))
	require.NoError(t, mr.Set("unrelated", "x"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.FreshEntries)
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, "redis", stats.Backend)

	require.NoError(t, store.Clear(ctx))
	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
	assert.True(t, mr.Exists("unrelated"), "keys outside the prefix survive Clear")
}

func TestStore_BacksCachingProvider(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	calls := 0
	provider := providerFunc(func(context.Context, routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
		calls++
		return sampleEntry(time.Now(), 0).Response, nil
	})
	cache := routing.NewCachingProvider(routing.CachingProviderConfig{Provider: provider, Store: store})

	req := routing.DirectionsRequest{
		Origin:      geo.Coordinate{Lat: -23.5614, Lng: -46.6559},
		Destination: geo.Coordinate{Lat: -23.5874, Lng: -46.6576},
		Mode:        routing.ModeBicycling,
	}
	for i := 0; i < 3; i++ {
		_, err := cache.GetDirections(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	stats, err := cache.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "redis", stats.Backend)
	assert.Equal(t, "func", stats.Provider)
}

func TestStore_Health(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.Health(context.Background()))
}

type providerFunc func(context.Context, routing.DirectionsRequest) (*routing.DirectionsResponse, error)

func (f providerFunc) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	return f(ctx, req)
}

func (f providerFunc) Name() string { return "func" }

func (f providerFunc) SupportedModes() []routing.TravelMode {
	return []routing.TravelMode{routing.ModeBicycling}
}
