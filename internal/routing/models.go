// Package routing plans cycling routes: it queries a directions provider,
// ranks the candidates against rider preferences and turns the winner into
// navigation steps.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/pedalei/pedalei/pkg/geo"
	"github.com/pedalei/pedalei/pkg/polyline"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrRoutingFailed is returned when a single-request plan fails at the provider.
	ErrRoutingFailed = errors.New("routing failed")
	// ErrAllStrategiesFailed is returned when every flexible-mode variant failed.
	ErrAllStrategiesFailed = errors.New("all routing strategies failed")
	// ErrGeocodingFailed indicates an address could not be resolved to a coordinate.
	ErrGeocodingFailed = errors.New("geocoding failed")
)

// Provider defines the interface for directions providers.
type Provider interface {
	// GetDirections retrieves candidate routes for the request.
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
	// SupportedModes returns the travel modes this provider can route.
	SupportedModes() []TravelMode
}

// ElevationProvider returns terrain elevation in meters for each point, in order.
type ElevationProvider interface {
	ElevationAt(ctx context.Context, points []geo.Coordinate) ([]float64, error)
}

// Geocoder resolves a free-form address to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

// TravelMode is the provider travel mode.
type TravelMode string

const (
	ModeBicycling TravelMode = "bicycling"
	ModeWalking   TravelMode = "walking"
)

// Status is a provider status code.
type Status string

const (
	StatusOK             Status = "OK"
	StatusZeroResults    Status = "ZERO_RESULTS"
	StatusOverQueryLimit Status = "OVER_QUERY_LIMIT"
	StatusRequestDenied  Status = "REQUEST_DENIED"
	StatusInvalidRequest Status = "INVALID_REQUEST"
	StatusUnknownError   Status = "UNKNOWN_ERROR"
)

// Preferences are the rider's routing preferences. Passed by value and never mutated.
type Preferences struct {
	PreferBikeLanes   bool `json:"preferBikeLanes"`
	AvoidHighways     bool `json:"avoidHighways"`
	AvoidExpressways  bool `json:"avoidExpressways"`
	FollowTrafficLaws bool `json:"followTrafficLaws"`
}

// DefaultPreferences are used when a request sets none.
func DefaultPreferences() Preferences {
	return Preferences{
		PreferBikeLanes:   true,
		AvoidHighways:     true,
		AvoidExpressways:  true,
		FollowTrafficLaws: true,
	}
}

// DirectionsRequest is a single request to a directions provider.
type DirectionsRequest struct {
	Origin            geo.Coordinate
	Destination       geo.Coordinate
	Waypoints         []geo.Coordinate // Stopovers, in order unless OptimizeWaypoints is set
	Mode              TravelMode
	AvoidHighways     bool
	AvoidTolls        bool
	OptimizeWaypoints bool
	Alternatives      bool
}

// DirectionsResponse holds the candidate routes returned by a provider.
type DirectionsResponse struct {
	Routes    []Route   `json:"routes"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Route is one candidate route.
type Route struct {
	GeometryPolyline string       `json:"geometryPolyline"` // Encoded polyline (precision 5)
	Summary          string       `json:"summary,omitempty"`
	BoundingBox      *BoundingBox `json:"boundingBox,omitempty"`
	Legs             []Leg        `json:"legs"`
	WaypointOrder    []int        `json:"waypointOrder,omitempty"`
}

// BoundingBox represents a geographic bounding box.
type BoundingBox struct {
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
}

// Leg is the portion of a route between two consecutive stop points.
type Leg struct {
	Steps           []ProviderStep `json:"steps"`
	DistanceMeters  float64        `json:"distanceMeters"`
	DurationSeconds float64        `json:"durationSeconds"`
	StartLocation   geo.Coordinate `json:"startLocation"`
	EndLocation     geo.Coordinate `json:"endLocation"`
}

// ProviderStep is one maneuver as returned by the provider.
type ProviderStep struct {
	Instruction     string         `json:"instruction"` // Raw text, may contain markup
	DistanceMeters  float64        `json:"distanceMeters"`
	DurationSeconds float64        `json:"durationSeconds"`
	Maneuver        Maneuver       `json:"maneuver,omitempty"`
	StartLocation   geo.Coordinate `json:"startLocation"`
	EndLocation     geo.Coordinate `json:"endLocation"`
}

// DistanceMeters is the total distance over all legs.
func (r *Route) DistanceMeters() float64 {
	var total float64
	for i := range r.Legs {
		total += r.Legs[i].DistanceMeters
	}
	return total
}

// DurationSeconds is the total duration over all legs.
func (r *Route) DurationSeconds() float64 {
	var total float64
	for i := range r.Legs {
		total += r.Legs[i].DurationSeconds
	}
	return total
}

// StepCount is the number of provider steps over all legs.
func (r *Route) StepCount() int {
	n := 0
	for i := range r.Legs {
		n += len(r.Legs[i].Steps)
	}
	return n
}

// Path decodes the route geometry. When the provider gave no geometry the
// step start points and the final leg end are used instead.
func (r *Route) Path() []geo.Coordinate {
	if r.GeometryPolyline != "" {
		if path := polyline.Decode(r.GeometryPolyline); len(path) > 0 {
			return path
		}
	}

	var path []geo.Coordinate
	for i := range r.Legs {
		for j := range r.Legs[i].Steps {
			path = append(path, r.Legs[i].Steps[j].StartLocation)
		}
	}
	if n := len(r.Legs); n > 0 {
		path = append(path, r.Legs[n-1].EndLocation)
	}
	return path
}

// Maneuver is the kind of maneuver a step asks for.
type Maneuver string

const (
	ManeuverStraight    Maneuver = "straight"
	ManeuverDepart      Maneuver = "depart"
	ManeuverArrive      Maneuver = "arrive"
	ManeuverTurnLeft    Maneuver = "turn-left"
	ManeuverTurnRight   Maneuver = "turn-right"
	ManeuverSharpLeft   Maneuver = "turn-sharp-left"
	ManeuverSharpRight  Maneuver = "turn-sharp-right"
	ManeuverSlightLeft  Maneuver = "turn-slight-left"
	ManeuverSlightRight Maneuver = "turn-slight-right"
	ManeuverKeepLeft    Maneuver = "keep-left"
	ManeuverKeepRight   Maneuver = "keep-right"
	ManeuverUTurn       Maneuver = "uturn"
	ManeuverRoundabout  Maneuver = "roundabout"
	ManeuverRamp        Maneuver = "ramp"
	ManeuverMerge       Maneuver = "merge"
)

// Step is a navigation-ready maneuver derived from a ProviderStep.
type Step struct {
	ID              string         `json:"id"` // "<leg>-<step>"
	RawInstruction  string         `json:"rawInstruction"`
	Instruction     string         `json:"instruction"` // Normalized, rider-facing
	DistanceMeters  float64        `json:"distanceMeters"`
	DurationSeconds float64        `json:"durationSeconds"`
	Maneuver        Maneuver       `json:"maneuver"`
	Location        geo.Coordinate `json:"location"` // Start of the maneuver
}

// Difficulty classifies a route by climbing effort.
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyModerate Difficulty = "moderate"
	DifficultyHard     Difficulty = "hard"
	DifficultyVeryHard Difficulty = "very_hard"
)

// Elevation summarizes the sampled elevation profile of a route.
type Elevation struct {
	Available    bool      `json:"available"`
	GainMeters   float64   `json:"gainMeters"`
	LossMeters   float64   `json:"lossMeters"`
	MinMeters    float64   `json:"minMeters"`
	MaxMeters    float64   `json:"maxMeters"`
	GainPerKm    float64   `json:"gainPerKm"`
	SampleMeters []float64 `json:"samples,omitempty"`
}

// Plan is the outcome of a successful planning request.
type Plan struct {
	Origin          geo.Coordinate   `json:"origin"`
	Destination     geo.Coordinate   `json:"destination"`
	Waypoints       []geo.Coordinate `json:"waypoints,omitempty"`
	Preferences     Preferences      `json:"preferences"`
	Language        string           `json:"language"`
	Strategy        string           `json:"strategy"`
	Route           Route            `json:"route"`
	Steps           []Step           `json:"steps"`
	Score           float64          `json:"score"`
	DistanceMeters  float64          `json:"distanceMeters"`
	DurationSeconds float64          `json:"durationSeconds"`
	Elevation       Elevation        `json:"elevation"`
	Difficulty      Difficulty       `json:"difficulty"`
	CO2SavedKg      float64          `json:"co2SavedKg"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Status   Status // Provider status code
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}

// StatusOf extracts the provider status from err, or StatusUnknownError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var routingErr *Error
	if errors.As(err, &routingErr) && routingErr.Status != "" {
		return routingErr.Status
	}
	return StatusUnknownError
}
