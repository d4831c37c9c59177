// Package rediscache stores directions responses in Redis so that several
// API replicas share one route cache.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/routing"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "pedalei:directions:"

// Config holds configuration for the Redis store.
type Config struct {
	// Addr is the Redis address, host:port.
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key (default: DefaultPrefix).
	Prefix string

	Logger zerolog.Logger
}

// Store is a routing.CacheStore backed by Redis.
type Store struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	cfg.Logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("redis connected")
	return New(client, cfg.Prefix, cfg.Logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, logger zerolog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

// Get returns the entry for key. A missing key is a miss, not an error.
func (s *Store) Get(ctx context.Context, key string) (*routing.CacheEntry, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get error: %w", err)
	}

	var entry routing.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		s.client.Del(ctx, s.prefix+key)
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set stores entry with a Redis TTL equal to retention.
func (s *Store) Set(ctx context.Context, key string, entry routing.CacheEntry, retention time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, retention).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

// Clear deletes every key under the store prefix.
func (s *Store) Clear(ctx context.Context) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan error: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Stats counts entries under the prefix. Entries still present in Redis are
// within their retention, so anything not fresh is stale.
func (s *Store) Stats(ctx context.Context) (routing.CacheStats, error) {
	stats := routing.CacheStats{Backend: "redis"}
	now := time.Now()

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Expired between SCAN and GET.
			continue
		}
		var entry routing.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		stats.TotalEntries++
		if entry.Fresh(now) {
			stats.FreshEntries++
		} else {
			stats.StaleEntries++
		}
	}
	if err := iter.Err(); err != nil {
		return routing.CacheStats{}, fmt.Errorf("cache scan error: %w", err)
	}
	return stats, nil
}

// Health pings Redis.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
