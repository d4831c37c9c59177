package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalei/pedalei/internal/ride"
	"github.com/pedalei/pedalei/internal/worker"
)

var ended = time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)

func newProcessor(t *testing.T) (*worker.SummaryProcessor, *worker.RedisTotals, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	totals := worker.NewRedisTotals(client, "", 0, zerolog.Nop())
	return &worker.SummaryProcessor{Totals: totals, Logger: zerolog.Nop()}, totals, mr
}

func summaryMessage(t *testing.T, id string, meters float64, arrived bool) []byte {
	t.Helper()
	s := ride.Summary{RideID: id, Arrived: arrived}
	s.Activity.EndedAt = ended
	s.Activity.DistanceMeters = meters
	s.Activity.MovingSeconds = meters / 5
	s.Activity.Calories = meters / 25
	s.Activity.CO2SavedKg = meters / 1000 * 0.21
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return data
}

var summaryAttrs = map[string]string{"type": ride.SummaryMessageType}

func TestProcess_AccumulatesDailyTotals(t *testing.T) {
	p, totals, _ := newProcessor(t)
	ctx := context.Background()

	assert.Equal(t, worker.Ack, p.Process(ctx, summaryMessage(t, "a", 2000, true), summaryAttrs, time.Time{}))
	assert.Equal(t, worker.Ack, p.Process(ctx, summaryMessage(t, "b", 1000, false), summaryAttrs, time.Time{}))

	day, err := totals.Day(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), day.Rides)
	assert.Equal(t, int64(1), day.Arrived)
	assert.InDelta(t, 3.0, day.DistanceKm, 1e-9)
	assert.InDelta(t, 600, day.MovingSeconds, 1e-9)
	assert.InDelta(t, 120, day.Calories, 1e-9)
	assert.InDelta(t, 0.63, day.CO2SavedKg, 1e-9)
}

func TestProcess_RedeliveryCountedOnce(t *testing.T) {
	p, totals, _ := newProcessor(t)
	ctx := context.Background()

	msg := summaryMessage(t, "a", 2000, true)
	assert.Equal(t, worker.Ack, p.Process(ctx, msg, summaryAttrs, time.Time{}))
	assert.Equal(t, worker.Ack, p.Process(ctx, msg, summaryAttrs, time.Time{}))

	day, err := totals.Day(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.Rides)
	assert.InDelta(t, 2.0, day.DistanceKm, 1e-9)
}

func TestProcess_DropsMalformedMessages(t *testing.T) {
	p, _, mr := newProcessor(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		data  []byte
		attrs map[string]string
	}{
		{"not json", []byte("{"), summaryAttrs},
		{"missing ride id", []byte(`{"activity":{"distanceMeters":10}}`), summaryAttrs},
		{"foreign type", summaryMessage(t, "a", 10, false), map[string]string{"type": "provider_refresh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, worker.Ack, p.Process(ctx, tt.data, tt.attrs, time.Time{}))
		})
	}
	assert.Empty(t, mr.Keys())
}

func TestProcess_FallsBackToPublishTime(t *testing.T) {
	p, totals, _ := newProcessor(t)
	ctx := context.Background()

	data, err := json.Marshal(ride.Summary{RideID: "x"})
	require.NoError(t, err)
	published := time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, worker.Ack, p.Process(ctx, data, nil, published))

	day, err := totals.Day(ctx, "2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.Rides)
}

func TestProcess_StoreFailureNacks(t *testing.T) {
	p, _, mr := newProcessor(t)
	mr.Close()

	outcome := p.Process(context.Background(), summaryMessage(t, "a", 10, true), summaryAttrs, time.Time{})
	assert.Equal(t, worker.Nack, outcome)
}

func TestRedisTotals_EmptyDayAndExpiry(t *testing.T) {
	p, totals, mr := newProcessor(t)
	ctx := context.Background()

	day, err := totals.Day(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.Zero(t, day.Rides)
	assert.Equal(t, "2024-01-01", day.Day)

	require.Equal(t, worker.Ack, p.Process(ctx, summaryMessage(t, "a", 10, true), summaryAttrs, time.Time{}))
	assert.Greater(t, mr.TTL(worker.DefaultTotalsPrefix+"2024-03-01"), time.Duration(0))
	assert.True(t, mr.Exists(worker.DefaultTotalsPrefix+"2024-03-01:rides"))
}
