package routing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pedalei/pedalei/pkg/geo"
	"github.com/pedalei/pedalei/pkg/polyline"
)

// MaxElevationSamples caps how many path points are sent to the elevation provider.
const MaxElevationSamples = 20

// Classify maps cumulative climbing to a difficulty. Either the absolute gain
// or the gain per kilometer can push a route into a harder class.
func Classify(gainMeters, distanceMeters float64) Difficulty {
	perKm := gainPerKm(gainMeters, distanceMeters)

	switch {
	case gainMeters > 800 || perKm > 50:
		return DifficultyVeryHard
	case gainMeters > 400 || perKm > 30:
		return DifficultyHard
	case gainMeters > 200 || perKm > 15:
		return DifficultyModerate
	default:
		return DifficultyEasy
	}
}

func gainPerKm(gainMeters, distanceMeters float64) float64 {
	if distanceMeters <= 0 {
		return 0
	}
	return gainMeters / (distanceMeters / 1000)
}

// Profile summarizes ordered elevation samples along a route of the given length.
func Profile(samples []float64, distanceMeters float64) Elevation {
	if len(samples) == 0 {
		return Elevation{}
	}

	e := Elevation{
		Available:    true,
		MinMeters:    math.Inf(1),
		MaxMeters:    math.Inf(-1),
		SampleMeters: samples,
	}
	for i, h := range samples {
		e.MinMeters = math.Min(e.MinMeters, h)
		e.MaxMeters = math.Max(e.MaxMeters, h)
		if i == 0 {
			continue
		}
		if d := h - samples[i-1]; d > 0 {
			e.GainMeters += d
		} else {
			e.LossMeters -= d
		}
	}
	e.GainPerKm = gainPerKm(e.GainMeters, distanceMeters)
	return e
}

// sampleElevation queries the provider for at most MaxElevationSamples evenly
// spaced points of path.
func sampleElevation(ctx context.Context, provider ElevationProvider, path []geo.Coordinate, distanceMeters float64) (Elevation, error) {
	points := polyline.Evenly(path, MaxElevationSamples)
	if len(points) == 0 {
		return Elevation{}, errors.New("route has no path to sample")
	}

	heights, err := provider.ElevationAt(ctx, points)
	if err != nil {
		return Elevation{}, err
	}
	if len(heights) != len(points) {
		return Elevation{}, fmt.Errorf("elevation provider returned %d samples for %d points", len(heights), len(points))
	}
	return Profile(heights, distanceMeters), nil
}
