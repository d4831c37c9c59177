// Package location provides position fixes to navigation and tracking.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pedalei/pedalei/pkg/geo"
)

var (
	// ErrLocationUnavailable is returned when no position is known yet or the
	// source has stopped.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrInvalidFix is returned for fixes with impossible values.
	ErrInvalidFix = errors.New("invalid fix")
)

// Fix is one position report.
type Fix struct {
	Position geo.Coordinate `json:"position"`
	Speed    *float64       `json:"speedMs,omitempty"`    // meters per second
	Heading  *float64       `json:"headingDeg,omitempty"` // degrees clockwise from north
	Accuracy *float64       `json:"accuracy,omitempty"`   // meters
	Time     time.Time      `json:"time"`
}

// Validate rejects fixes that consumers must ignore.
func (f Fix) Validate() error {
	if err := f.Position.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFix, err)
	}
	for name, v := range map[string]*float64{"speed": f.Speed, "heading": f.Heading, "accuracy": f.Accuracy} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			return fmt.Errorf("%w: %s %v", ErrInvalidFix, name, *v)
		}
	}
	return nil
}

// Source produces fixes.
type Source interface {
	// Current returns the most recent fix.
	Current(ctx context.Context) (Fix, error)
	// Subscribe streams fixes until ctx is done or the source stops, then
	// closes the channel.
	Subscribe(ctx context.Context) (<-chan Fix, error)
}

// Float returns a pointer to v, for the optional Fix fields.
func Float(v float64) *float64 {
	return &v
}
