package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/pkg/geo"
)

// duration decodes TOML strings such as "30s" or "2m".
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Place is a scenario stop: a coordinate, or an address geocoded by the
// directions provider.
type Place struct {
	Lat     *float64 `toml:"lat"`
	Lon     *float64 `toml:"lon"`
	Address string   `toml:"address"`
}

func (p Place) toRouting() routing.Place {
	if p.Lat != nil && p.Lon != nil {
		return routing.At(geo.Coordinate{Lat: *p.Lat, Lng: *p.Lon})
	}
	return routing.Place{Address: p.Address}
}

func (p Place) coordinate() (geo.Coordinate, bool) {
	if p.Lat == nil || p.Lon == nil {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Lat: *p.Lat, Lng: *p.Lon}, true
}

// Preferences overrides the routing defaults.
type Preferences struct {
	PreferBikeLanes   *bool `toml:"prefer_bike_lanes"`
	AvoidHighways     *bool `toml:"avoid_highways"`
	AvoidExpressways  *bool `toml:"avoid_expressways"`
	FollowTrafficLaws *bool `toml:"follow_traffic_laws"`
}

func (p Preferences) apply(base routing.Preferences) routing.Preferences {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.PreferBikeLanes, p.PreferBikeLanes)
	set(&base.AvoidHighways, p.AvoidHighways)
	set(&base.AvoidExpressways, p.AvoidExpressways)
	set(&base.FollowTrafficLaws, p.FollowTrafficLaws)
	return base
}

// ScriptedStep is one maneuver of an offline route.
type ScriptedStep struct {
	Lat         float64 `toml:"lat"`
	Lon         float64 `toml:"lon"`
	Instruction string  `toml:"instruction"`
	Maneuver    string  `toml:"maneuver"`
}

// Dwell holds the rider still at a simulated point.
type Dwell struct {
	Point int      `toml:"point"`
	For   duration `toml:"for"`
}

// Scenario describes one simulated ride.
type Scenario struct {
	Name        string      `toml:"name"`
	Language    string      `toml:"language"`
	Origin      Place       `toml:"origin"`
	Destination Place       `toml:"destination"`
	Waypoints   []Place     `toml:"waypoints"`
	Preferences Preferences `toml:"preferences"`

	// Playback
	Interval duration  `toml:"interval"`
	Rate     float64   `toml:"rate"`
	Step     float64   `toml:"step"`
	Start    time.Time `toml:"start"`
	Dwell    []Dwell   `toml:"dwell"`

	// Steps scripts the route instead of asking OpenRouteService.
	Steps []ScriptedStep `toml:"steps"`
}

// LoadScenario decodes and checks a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	var s Scenario
	md, err := toml.DecodeFile(path, &s)
	if err != nil {
		return nil, fmt.Errorf("decoding scenario %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("scenario %s: unknown key %q", path, undecoded[0].String())
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	check := func(name string, p Place) error {
		if (p.Lat == nil) != (p.Lon == nil) {
			return fmt.Errorf("%s needs both lat and lon", name)
		}
		if p.Lat == nil && p.Address == "" {
			return fmt.Errorf("%s needs a coordinate or an address", name)
		}
		if c, ok := p.coordinate(); ok {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}
	if err := check("origin", s.Origin); err != nil {
		return err
	}
	if err := check("destination", s.Destination); err != nil {
		return err
	}
	for i, w := range s.Waypoints {
		if err := check(fmt.Sprintf("waypoint %d", i), w); err != nil {
			return err
		}
	}

	if len(s.Steps) > 0 {
		if _, ok := s.Origin.coordinate(); !ok {
			return errors.New("scripted steps need an origin coordinate")
		}
		if _, ok := s.Destination.coordinate(); !ok {
			return errors.New("scripted steps need a destination coordinate")
		}
		for i, st := range s.Steps {
			if st.Instruction == "" {
				return fmt.Errorf("step %d has no instruction", i)
			}
		}
	}
	return nil
}

// Request is the plan request of the scenario.
func (s *Scenario) Request() routing.PlanRequest {
	req := routing.PlanRequest{
		Origin:      s.Origin.toRouting(),
		Destination: s.Destination.toRouting(),
		Preferences: s.Preferences.apply(routing.DefaultPreferences()),
		Language:    s.Language,
	}
	for _, w := range s.Waypoints {
		req.Waypoints = append(req.Waypoints, w.toRouting())
	}
	return req
}

// dwellByPoint indexes the dwell entries for the simulator.
func (s *Scenario) dwellByPoint() map[int]time.Duration {
	if len(s.Dwell) == 0 {
		return nil
	}
	m := make(map[int]time.Duration, len(s.Dwell))
	for _, d := range s.Dwell {
		m[d.Point] += d.For.Duration
	}
	return m
}

// scriptedProvider answers every directions request with the scenario's
// scripted steps.
type scriptedProvider struct {
	route routing.Route
}

func newScriptedProvider(s *Scenario) *scriptedProvider {
	origin, _ := s.Origin.coordinate()
	dest, _ := s.Destination.coordinate()

	leg := routing.Leg{StartLocation: origin, EndLocation: dest}
	for i, st := range s.Steps {
		start := geo.Coordinate{Lat: st.Lat, Lng: st.Lon}
		end := dest
		if i+1 < len(s.Steps) {
			end = geo.Coordinate{Lat: s.Steps[i+1].Lat, Lng: s.Steps[i+1].Lon}
		}
		d := geo.Distance(start, end)
		leg.Steps = append(leg.Steps, routing.ProviderStep{
			Instruction:     st.Instruction,
			DistanceMeters:  d,
			DurationSeconds: d / 4.2,
			Maneuver:        routing.Maneuver(st.Maneuver),
			StartLocation:   start,
			EndLocation:     end,
		})
		leg.DistanceMeters += d
		leg.DurationSeconds += d / 4.2
	}
	return &scriptedProvider{route: routing.Route{Summary: s.Name, Legs: []routing.Leg{leg}}}
}

func (p *scriptedProvider) Name() string { return "scenario" }

func (p *scriptedProvider) SupportedModes() []routing.TravelMode {
	return []routing.TravelMode{routing.ModeBicycling, routing.ModeWalking}
}

func (p *scriptedProvider) GetDirections(context.Context, routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	return &routing.DirectionsResponse{
		Routes:    []routing.Route{p.route},
		Provider:  p.Name(),
		FetchedAt: time.Now(),
	}, nil
}
