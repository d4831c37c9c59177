package location_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/pkg/geo"
)

var route = []geo.Coordinate{
	{Lat: -23.5614, Lng: -46.6559},
	{Lat: -23.5623, Lng: -46.6559},
	{Lat: -23.5623, Lng: -46.6569},
}

func TestFix_Validate(t *testing.T) {
	ok := location.Fix{Position: route[0], Speed: location.Float(4.2)}
	require.NoError(t, ok.Validate())

	bad := []location.Fix{
		{Position: geo.Coordinate{Lat: 91}},
		{Position: geo.Coordinate{Lat: math.NaN()}},
		{Position: route[0], Speed: location.Float(-1)},
		{Position: route[0], Heading: location.Float(math.Inf(1))},
	}
	for _, f := range bad {
		assert.ErrorIs(t, f.Validate(), location.ErrInvalidFix)
	}
}

func TestSimulator_Fixes(t *testing.T) {
	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	sim, err := location.NewSimulator(location.SimulatorConfig{Points: route})
	require.NoError(t, err)

	fixes := sim.Fixes(start)
	require.Len(t, fixes, 21, "ten fixes per segment plus the final point")

	assert.Equal(t, route[0], fixes[0].Position)
	assert.Equal(t, route[2], fixes[20].Position)
	assert.InDelta(t, route[1].Lat, fixes[10].Position.Lat, 1e-12)

	// Halfway along the first segment.
	assert.InDelta(t, (route[0].Lat+route[1].Lat)/2, fixes[5].Position.Lat, 1e-9)

	// Simulated one-second timestamps.
	assert.Equal(t, start.Add(20*time.Second), fixes[20].Time)

	// About 100m per segment, a tenth per second.
	require.NotNil(t, fixes[3].Speed)
	assert.InDelta(t, 10, *fixes[3].Speed, 0.5)
	require.NotNil(t, fixes[3].Heading)
	assert.InDelta(t, 180, *fixes[3].Heading, 0.5)
}

func TestSimulator_Dwell(t *testing.T) {
	start := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	sim, err := location.NewSimulator(location.SimulatorConfig{
		Points: route,
		Dwell:  map[int]time.Duration{1: 11 * time.Minute},
	})
	require.NoError(t, err)

	fixes := sim.Fixes(start)
	require.Len(t, fixes, 21+660)
	assert.Equal(t, route[1], fixes[10].Position)
	assert.Equal(t, route[1], fixes[669].Position)
	assert.Equal(t, 0.0, *fixes[300].Speed)
}

func TestSimulator_Subscribe(t *testing.T) {
	sim, err := location.NewSimulator(location.SimulatorConfig{Points: route, Rate: 1000})
	require.NoError(t, err)

	fixes, err := sim.Subscribe(context.Background())
	require.NoError(t, err)

	var got []location.Fix
	for f := range fixes {
		got = append(got, f)
	}
	assert.Len(t, got, 21)

	current, err := sim.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, route[2], current.Position)
}

func TestSimulator_SubscribeCancel(t *testing.T) {
	sim, err := location.NewSimulator(location.SimulatorConfig{Points: route, Rate: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fixes, err := sim.Subscribe(ctx)
	require.NoError(t, err)

	<-fixes
	cancel()

	select {
	case _, ok := <-drain(fixes):
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

// drain discards buffered fixes and reports closure.
func drain(ch <-chan location.Fix) <-chan location.Fix {
	done := make(chan location.Fix)
	go func() {
		for range ch {
		}
		close(done)
	}()
	return done
}

func TestNewSimulator_NoPoints(t *testing.T) {
	_, err := location.NewSimulator(location.SimulatorConfig{})
	assert.Error(t, err)
}

func TestPushSource(t *testing.T) {
	src := location.NewPushSource(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := src.Current(ctx)
	assert.ErrorIs(t, err, location.ErrLocationUnavailable)

	fixes, err := src.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, src.Push(ctx, location.Fix{Position: route[0]}))
	assert.ErrorIs(t, src.Push(ctx, location.Fix{Position: geo.Coordinate{Lat: 200}}), location.ErrInvalidFix)

	f := <-fixes
	assert.Equal(t, route[0], f.Position)

	current, err := src.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, route[0], current.Position)

	src.Close()
	_, ok := <-fixes
	assert.False(t, ok)
	assert.ErrorIs(t, src.Push(ctx, location.Fix{Position: route[1]}), location.ErrSourceClosed)
}

func TestPushSource_WaitsForSlowSubscriber(t *testing.T) {
	src := location.NewPushSource(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fixes, err := src.Subscribe(ctx)
	require.NoError(t, err)

	const n = 100
	pushed := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			f := location.Fix{Position: route[0], Speed: location.Float(float64(i))}
			if err := src.Push(ctx, f); err != nil {
				pushed <- err
				return
			}
		}
		pushed <- nil
	}()

	for i := 0; i < n; i++ {
		select {
		case f := <-fixes:
			require.NotNil(t, f.Speed)
			assert.Equal(t, float64(i), *f.Speed, "fixes arrive in push order")
		case <-time.After(time.Second):
			t.Fatalf("fix %d never arrived", i)
		}
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, <-pushed)
}

func TestPushSource_PushGivesUpWithContext(t *testing.T) {
	src := location.NewPushSource(1)
	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()

	_, err := src.Subscribe(subCtx)
	require.NoError(t, err)
	require.NoError(t, src.Push(context.Background(), location.Fix{Position: route[0]}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, src.Push(ctx, location.Fix{Position: route[1]}), context.DeadlineExceeded)

	// A subscription that goes away no longer holds pushes back.
	cancelSub()
	assert.NoError(t, src.Push(context.Background(), location.Fix{Position: route[2]}))
}

func TestBroadcaster_SlowConsumerDoesNotStallFast(t *testing.T) {
	src := location.NewPushSource(64)
	b := location.NewBroadcaster(zerolog.Nop())
	fast := b.Add("fast", 64)
	_ = b.Add("slow", 1) // never read

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixes, err := src.Subscribe(ctx)
	require.NoError(t, err)

	forwardDone := make(chan error, 1)
	go func() { forwardDone <- b.Forward(ctx, fixes) }()

	for i := 0; i < 20; i++ {
		require.NoError(t, src.Push(ctx, location.Fix{Position: route[i%3]}))
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatalf("fast consumer starved at fix %d", i)
		}
	}

	assert.Positive(t, b.Dropped("slow"))
	assert.Zero(t, b.Dropped("fast"))

	src.Close()
	select {
	case err := <-forwardDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop when the source closed")
	}
	for range fast {
	}
}
