package openrouteservice

// orsRequest represents the ORS directions API request body.
type orsRequest struct {
	Coordinates       [][]float64            `json:"coordinates"`
	AlternativeRoutes *alternativeRoutesOpts `json:"alternative_routes,omitempty"`
	Preference        string                 `json:"preference,omitempty"`
	Instructions      bool                   `json:"instructions"`
	Geometry          bool                   `json:"geometry"`
	Units             string                 `json:"units"`
	Language          string                 `json:"language"`
}

// alternativeRoutesOpts configures alternative route generation.
type alternativeRoutesOpts struct {
	TargetCount  int     `json:"target_count"`
	ShareFactor  float64 `json:"share_factor,omitempty"`
	WeightFactor float64 `json:"weight_factor,omitempty"`
}

// orsResponse represents the ORS directions API response.
type orsResponse struct {
	Routes []orsRoute `json:"routes"`
	BBox   []float64  `json:"bbox,omitempty"`
}

// orsRoute represents a single route in the ORS response.
type orsRoute struct {
	Summary   routeSummary   `json:"summary"`
	Segments  []routeSegment `json:"segments,omitempty"`
	BBox      []float64      `json:"bbox,omitempty"`
	Geometry  string         `json:"geometry"`
	WayPoints []int          `json:"way_points,omitempty"`
}

// routeSummary contains summary information for a route.
type routeSummary struct {
	Distance float64 `json:"distance"` // Distance in meters
	Duration float64 `json:"duration"` // Duration in seconds
}

// routeSegment is the part of a route between two consecutive coordinates.
type routeSegment struct {
	Distance float64     `json:"distance"`
	Duration float64     `json:"duration"`
	Steps    []routeStep `json:"steps,omitempty"`
}

// routeStep represents a single step (instruction) in a segment.
type routeStep struct {
	Distance    float64 `json:"distance"`
	Duration    float64 `json:"duration"`
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	Name        string  `json:"name"`
	WayPoints   []int   `json:"way_points,omitempty"`
}

// elevationRequest is the /elevation/line request body.
type elevationRequest struct {
	FormatIn  string      `json:"format_in"`
	FormatOut string      `json:"format_out"`
	Geometry  [][]float64 `json:"geometry"`
}

// elevationResponse carries [lng, lat, elevation] triples.
type elevationResponse struct {
	Geometry [][]float64 `json:"geometry"`
}

// orsErrorResponse represents an error response from ORS.
type orsErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ORS error codes for error mapping.
const (
	orsErrorCodePointNotFound = 2010 // Could not find routable point
	orsErrorCodeRouteNotFound = 2009 // Route not found
)

// ORS instruction types.
const (
	stepLeft = iota
	stepRight
	stepSharpLeft
	stepSharpRight
	stepSlightLeft
	stepSlightRight
	stepStraight
	stepEnterRoundabout
	stepExitRoundabout
	stepUTurn
	stepGoal
	stepDepart
	stepKeepLeft
	stepKeepRight
)
