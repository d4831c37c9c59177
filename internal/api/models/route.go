package models

import "github.com/paulmach/orb/geojson"

// PlaceInput is a stop given as a point or as an address to geocode.
type PlaceInput struct {
	Point   *Point `json:"point,omitempty" validate:"required_without=Address"`
	Address string `json:"address,omitempty" validate:"required_without=Point,max=200"`
}

// PreferencesInput overrides individual routing preferences. Unset fields
// keep their defaults.
type PreferencesInput struct {
	PreferBikeLanes   *bool `json:"preferBikeLanes,omitempty"`
	AvoidHighways     *bool `json:"avoidHighways,omitempty"`
	AvoidExpressways  *bool `json:"avoidExpressways,omitempty"`
	FollowTrafficLaws *bool `json:"followTrafficLaws,omitempty"`
}

// RoutePlanRequest is the request body for planning a route and for
// starting a ride.
type RoutePlanRequest struct {
	Origin      PlaceInput        `json:"origin"`
	Destination PlaceInput        `json:"destination"`
	Waypoints   []PlaceInput      `json:"waypoints,omitempty" validate:"max=8,dive"`
	Preferences *PreferencesInput `json:"preferences,omitempty"`
	Language    string            `json:"language,omitempty" validate:"max=35"`
}

// RouteStep is one maneuver of a planned route.
type RouteStep struct {
	ID              string  `json:"id"`
	Instruction     string  `json:"instruction"`
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
	Maneuver        string  `json:"maneuver"`
	Location        Point   `json:"location"`
}

// ElevationSummary is the elevation profile of a route.
type ElevationSummary struct {
	Available  bool    `json:"available"`
	GainMeters float64 `json:"gainMeters"`
	LossMeters float64 `json:"lossMeters"`
	MinMeters  float64 `json:"minMeters"`
	MaxMeters  float64 `json:"maxMeters"`
	GainPerKm  float64 `json:"gainPerKm"`
}

// RoutePreferences echoes the preferences a plan was made with.
type RoutePreferences struct {
	PreferBikeLanes   bool `json:"preferBikeLanes"`
	AvoidHighways     bool `json:"avoidHighways"`
	AvoidExpressways  bool `json:"avoidExpressways"`
	FollowTrafficLaws bool `json:"followTrafficLaws"`
}

// RoutePlanResponse is a scored, navigation-ready route.
type RoutePlanResponse struct {
	Origin          Point                      `json:"origin"`
	Destination     Point                      `json:"destination"`
	Strategy        string                     `json:"strategy"`
	Language        string                     `json:"language"`
	Preferences     RoutePreferences           `json:"preferences"`
	Score           float64                    `json:"score"`
	DistanceMeters  float64                    `json:"distanceMeters"`
	DurationSeconds float64                    `json:"durationSeconds"`
	Difficulty      string                     `json:"difficulty"`
	Elevation       ElevationSummary           `json:"elevation"`
	CO2SavedKg      float64                    `json:"co2SavedKg"`
	Steps           []RouteStep                `json:"steps"`
	Geometry        *geojson.FeatureCollection `json:"geometry"`
	CreatedAt       Timestamp                  `json:"createdAt"`
}
