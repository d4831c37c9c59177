package routing

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pedalei/pedalei/pkg/geo"
)

// CacheEntry is a cached directions response.
type CacheEntry struct {
	Response  *DirectionsResponse `json:"response"`
	FetchedAt time.Time           `json:"fetchedAt"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// Fresh reports whether the entry can be served without asking the provider.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int    `json:"totalEntries"`
	FreshEntries int    `json:"freshEntries"`
	StaleEntries int    `json:"staleEntries"`
	Provider     string `json:"provider"`
	Backend      string `json:"backend"`
}

// CacheStore persists directions responses between requests. Entries must be
// kept for at least the retention passed to Set so they can be served stale.
type CacheStore interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry CacheEntry, retention time.Duration) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (CacheStats, error)
}

// CachingProviderConfig holds configuration for CachingProvider.
type CachingProviderConfig struct {
	// Provider is the upstream directions provider.
	Provider Provider

	// Store holds cached responses (default: in-process MemoryStore).
	Store CacheStore

	// Logger for cache operations.
	Logger zerolog.Logger

	// CacheTTL is how long a response is served without refetching (default: 5 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.0001, ~11m).
	// Requests whose points fall in the same cells share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration
}

// CachingProvider wraps a Provider with a grid-keyed response cache.
// Concurrent identical requests are collapsed into one upstream call.
type CachingProvider struct {
	provider        Provider
	store           CacheStore
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	cellDigits      int
	staleIfErrorTTL time.Duration
	now             func() time.Time

	group singleflight.Group
}

// NewCachingProvider creates a new caching provider.
func NewCachingProvider(cfg CachingProviderConfig) *CachingProvider {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.0001
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 15 * time.Minute
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore(MemoryStoreConfig{})
	}

	return &CachingProvider{
		provider:        cfg.Provider,
		store:           store,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		cellDigits:      gridDigits(cacheGridSize),
		staleIfErrorTTL: staleIfErrorTTL,
		now:             time.Now,
	}
}

// Name returns the name of the underlying provider.
func (c *CachingProvider) Name() string {
	return c.provider.Name()
}

// SupportedModes returns the modes of the underlying provider.
func (c *CachingProvider) SupportedModes() []TravelMode {
	return c.provider.SupportedModes()
}

// GetDirections returns candidate routes for req, from cache when a fresh
// entry exists for the same grid cells and options.
func (c *CachingProvider) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	key := c.cacheKey(req)

	if entry, ok := c.lookup(ctx, key); ok && entry.Fresh(c.now()) {
		c.logger.Debug().
			Str("cache_key", key).
			Msg("cache hit for directions")
		return entry.Response, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.fetchDirections(ctx, req, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug().Str("cache_key", key).Msg("shared in-flight directions request")
	}
	return v.(*DirectionsResponse), nil
}

func (c *CachingProvider) validate(req DirectionsRequest) error {
	invalid := func(what string) error {
		return &Error{
			Provider: c.provider.Name(),
			Status:   StatusInvalidRequest,
			Message:  "invalid " + what + " coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if req.Origin.Validate() != nil {
		return invalid("origin")
	}
	if req.Destination.Validate() != nil {
		return invalid("destination")
	}
	for _, w := range req.Waypoints {
		if w.Validate() != nil {
			return invalid("waypoint")
		}
	}
	return nil
}

func (c *CachingProvider) lookup(ctx context.Context, key string) (*CacheEntry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("directions cache read failed")
		return nil, false
	}
	return entry, ok
}

// fetchDirections fetches directions from the provider and updates the cache.
func (c *CachingProvider) fetchDirections(ctx context.Context, req DirectionsRequest, key string) (*DirectionsResponse, error) {
	// Another flight may have filled the cache while this one was queued.
	cached, hasCached := c.lookup(ctx, key)
	if hasCached && cached.Fresh(c.now()) {
		c.logger.Debug().
			Str("cache_key", key).
			Msg("cache hit after double-check")
		return cached.Response, nil
	}

	c.logger.Debug().
		Str("origin", req.Origin.String()).
		Str("destination", req.Destination.String()).
		Int("waypoints", len(req.Waypoints)).
		Str("mode", string(req.Mode)).
		Str("provider", c.provider.Name()).
		Msg("fetching directions from provider")

	resp, err := c.provider.GetDirections(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).
			Str("origin", req.Origin.String()).
			Str("destination", req.Destination.String()).
			Str("mode", string(req.Mode)).
			Msg("failed to fetch directions")

		if hasCached && c.now().Before(cached.FetchedAt.Add(c.staleIfErrorTTL)) {
			c.logger.Warn().
				Time("fetched_at", cached.FetchedAt).
				Str("cache_key", key).
				Msg("serving stale directions data due to provider error")
			return cached.Response, nil
		}
		return nil, err
	}

	now := c.now()
	entry := CacheEntry{Response: resp, FetchedAt: now, ExpiresAt: now.Add(c.cacheTTL)}
	if err := c.store.Set(ctx, key, entry, c.staleIfErrorTTL); err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("directions cache write failed")
	} else {
		c.logger.Debug().
			Str("cache_key", key).
			Int("route_count", len(resp.Routes)).
			Msg("cached directions response")
	}

	return resp, nil
}

// cacheKey generates a cache key for a directions request.
// Format: {mode}:{origin}:{destination}:{waypoints}:{flags}, with every point
// snapped to the grid.
func (c *CachingProvider) cacheKey(req DirectionsRequest) string {
	points := make([]string, len(req.Waypoints))
	for i, w := range req.Waypoints {
		points[i] = c.gridCell(w)
	}

	return fmt.Sprintf("%s:%s:%s:%s:%s",
		req.Mode,
		c.gridCell(req.Origin),
		c.gridCell(req.Destination),
		strings.Join(points, ";"),
		flags(req),
	)
}

func (c *CachingProvider) gridCell(p geo.Coordinate) string {
	lat := math.Floor(p.Lat/c.cacheGridSize) * c.cacheGridSize
	lng := math.Floor(p.Lng/c.cacheGridSize) * c.cacheGridSize
	return strconv.FormatFloat(lat, 'f', c.cellDigits, 64) + "," + strconv.FormatFloat(lng, 'f', c.cellDigits, 64)
}

// gridDigits is the number of decimals that tells adjacent cells of size
// apart, at least four.
func gridDigits(size float64) int {
	digits := 4
	for digits < 12 && math.Pow10(-digits) > size*(1+1e-9) {
		digits++
	}
	return digits
}

func flags(req DirectionsRequest) string {
	b := []byte("----")
	if req.AvoidHighways {
		b[0] = 'h'
	}
	if req.AvoidTolls {
		b[1] = 't'
	}
	if req.OptimizeWaypoints {
		b[2] = 'o'
	}
	if req.Alternatives {
		b[3] = 'a'
	}
	return string(b)
}

// InvalidateCache clears all cached data.
func (c *CachingProvider) InvalidateCache(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// CacheStats returns cache statistics.
func (c *CachingProvider) CacheStats(ctx context.Context) (CacheStats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	stats.Provider = c.provider.Name()
	return stats, nil
}

// MemoryStoreConfig holds configuration for MemoryStore.
type MemoryStoreConfig struct {
	// CleanupInterval is how often to drop entries past their retention (default: 5 minutes).
	CleanupInterval time.Duration
}

// MemoryStore is an in-process CacheStore.
type MemoryStore struct {
	cleanupInterval time.Duration
	now             func() time.Time

	mu          sync.RWMutex
	entries     map[string]memoryEntry
	lastCleanup time.Time
}

type memoryEntry struct {
	CacheEntry
	retainUntil time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &MemoryStore{
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		entries:         make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || m.now().After(e.retainUntil) {
		return nil, false, nil
	}
	entry := e.CacheEntry
	return &entry, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, entry CacheEntry, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{CacheEntry: entry, retainUntil: entry.FetchedAt.Add(retention)}
	m.cleanupIfNeeded()
	return nil
}

// cleanupIfNeeded removes entries past retention if the cleanup interval has
// passed. Caller holds the write lock.
func (m *MemoryStore) cleanupIfNeeded() {
	now := m.now()
	if now.Sub(m.lastCleanup) < m.cleanupInterval {
		return
	}
	m.lastCleanup = now

	for key, e := range m.entries {
		if now.After(e.retainUntil) {
			delete(m.entries, key)
		}
	}
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

func (m *MemoryStore) Stats(context.Context) (CacheStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	stats := CacheStats{TotalEntries: len(m.entries), Backend: "memory"}
	for _, e := range m.entries {
		switch {
		case e.Fresh(now):
			stats.FreshEntries++
		case now.Before(e.retainUntil):
			stats.StaleEntries++
		}
	}
	return stats, nil
}
