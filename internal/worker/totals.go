// Package worker consumes finished ride summaries and keeps community
// totals per day.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/ride"
)

// DefaultTotalsPrefix namespaces every key written by RedisTotals.
const DefaultTotalsPrefix = "pedalei:totals:"

// DayLayout formats the day part of totals keys.
const DayLayout = "2006-01-02"

// Hash fields of a day's totals.
const (
	fieldRides          = "rides"
	fieldArrived        = "arrived"
	fieldDistanceMeters = "distance_m"
	fieldMovingSeconds  = "moving_s"
	fieldCalories       = "kcal"
	fieldCO2SavedKg     = "co2_saved_kg"
)

// DailyTotals aggregates every ride that ended on one UTC day.
type DailyTotals struct {
	Day           string  `json:"day"`
	Rides         int64   `json:"rides"`
	Arrived       int64   `json:"arrived"`
	DistanceKm    float64 `json:"distanceKm"`
	MovingSeconds float64 `json:"movingSeconds"`
	Calories      float64 `json:"calories"`
	CO2SavedKg    float64 `json:"co2SavedKg"`
}

// TotalsStore records ride summaries into daily totals.
type TotalsStore interface {
	// Add counts s into day. It reports false when the ride was already counted.
	Add(ctx context.Context, day string, s ride.Summary) (bool, error)
	Day(ctx context.Context, day string) (DailyTotals, error)
}

// RedisTotals keeps one hash per day plus a set of counted ride ids, so that
// a redelivered message is not counted twice.
type RedisTotals struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	logger    zerolog.Logger
}

// NewRedisTotals wraps client. Keys expire after retention (default: 400 days).
func NewRedisTotals(client *redis.Client, prefix string, retention time.Duration, logger zerolog.Logger) *RedisTotals {
	if prefix == "" {
		prefix = DefaultTotalsPrefix
	}
	if retention <= 0 {
		retention = 400 * 24 * time.Hour
	}
	return &RedisTotals{client: client, prefix: prefix, retention: retention, logger: logger}
}

func (r *RedisTotals) hashKey(day string) string { return r.prefix + day }
func (r *RedisTotals) setKey(day string) string  { return r.prefix + day + ":rides" }

// Add implements TotalsStore.
func (r *RedisTotals) Add(ctx context.Context, day string, s ride.Summary) (bool, error) {
	added, err := r.client.SAdd(ctx, r.setKey(day), s.RideID).Result()
	if err != nil {
		return false, fmt.Errorf("marking ride counted: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	arrived := int64(0)
	if s.Arrived {
		arrived = 1
	}

	hash := r.hashKey(day)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, hash, fieldRides, 1)
		pipe.HIncrBy(ctx, hash, fieldArrived, arrived)
		pipe.HIncrByFloat(ctx, hash, fieldDistanceMeters, s.Activity.DistanceMeters)
		pipe.HIncrByFloat(ctx, hash, fieldMovingSeconds, s.Activity.MovingSeconds)
		pipe.HIncrByFloat(ctx, hash, fieldCalories, s.Activity.Calories)
		pipe.HIncrByFloat(ctx, hash, fieldCO2SavedKg, s.Activity.CO2SavedKg)
		pipe.Expire(ctx, hash, r.retention)
		pipe.Expire(ctx, r.setKey(day), r.retention)
		return nil
	})
	if err != nil {
		// Unmark so the redelivery counts it.
		if remErr := r.client.SRem(ctx, r.setKey(day), s.RideID).Err(); remErr != nil {
			r.logger.Error().Err(remErr).Str("ride_id", s.RideID).Msg("failed to unmark ride after totals error")
		}
		return false, fmt.Errorf("updating daily totals: %w", err)
	}
	return true, nil
}

// Day implements TotalsStore. A day without rides returns zero totals.
func (r *RedisTotals) Day(ctx context.Context, day string) (DailyTotals, error) {
	values, err := r.client.HGetAll(ctx, r.hashKey(day)).Result()
	if err != nil {
		return DailyTotals{}, fmt.Errorf("reading daily totals: %w", err)
	}

	totals := DailyTotals{Day: day}
	totals.Rides, _ = strconv.ParseInt(values[fieldRides], 10, 64)
	totals.Arrived, _ = strconv.ParseInt(values[fieldArrived], 10, 64)
	meters, _ := strconv.ParseFloat(values[fieldDistanceMeters], 64)
	totals.DistanceKm = meters / 1000
	totals.MovingSeconds, _ = strconv.ParseFloat(values[fieldMovingSeconds], 64)
	totals.Calories, _ = strconv.ParseFloat(values[fieldCalories], 64)
	totals.CO2SavedKg, _ = strconv.ParseFloat(values[fieldCO2SavedKg], 64)
	return totals, nil
}

// Health pings Redis.
func (r *RedisTotals) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
