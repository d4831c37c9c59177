package openrouteservice

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/pkg/geo"
	"github.com/pedalei/pedalei/pkg/polyline"
)

// profiles maps travel modes to ORS routing profiles.
var profiles = map[routing.TravelMode]string{
	routing.ModeBicycling: "cycling-regular",
	routing.ModeWalking:   "foot-walking",
}

// SupportedModes returns the supported travel modes.
func (c *Client) SupportedModes() []routing.TravelMode {
	return []routing.TravelMode{
		routing.ModeBicycling,
		routing.ModeWalking,
	}
}

// GetDirections retrieves candidate routes through the request's points.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	profile, ok := profiles[req.Mode]
	if !ok {
		return nil, &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusInvalidRequest,
			Message:  fmt.Sprintf("unsupported travel mode %q", req.Mode),
			Err:      routing.ErrNoRouteFound,
		}
	}

	orsReq := buildRequest(req)

	c.logger.Debug().
		Str("profile", profile).
		Str("origin", req.Origin.String()).
		Str("destination", req.Destination.String()).
		Int("waypoints", len(req.Waypoints)).
		Str("preference", orsReq.Preference).
		Msg("requesting directions from ORS")

	var orsResp orsResponse
	if err := c.do(ctx, http.MethodPost, "/v2/directions/"+profile, nil, orsReq, &orsResp); err != nil {
		return nil, err
	}

	result := toDirectionsResponse(&orsResp, len(req.Waypoints))
	if len(result.Routes) == 0 {
		return nil, &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusZeroResults,
			Message:  "provider returned no routes",
			Err:      routing.ErrNoRouteFound,
		}
	}

	c.logger.Debug().
		Int("route_count", len(result.Routes)).
		Msg("received directions from ORS")

	return result, nil
}

// buildRequest translates a directions request. ORS has no highway or toll
// avoidance for bicycle and foot profiles, so avoidance selects the
// "recommended" weighting, which favors quiet bike-friendly ways.
func buildRequest(req routing.DirectionsRequest) orsRequest {
	// ORS uses [lon, lat] order (GeoJSON)
	coords := make([][]float64, 0, len(req.Waypoints)+2)
	coords = append(coords, []float64{req.Origin.Lng, req.Origin.Lat})
	for _, w := range req.Waypoints {
		coords = append(coords, []float64{w.Lng, w.Lat})
	}
	coords = append(coords, []float64{req.Destination.Lng, req.Destination.Lat})

	orsReq := orsRequest{
		Coordinates:  coords,
		Preference:   "fastest",
		Instructions: true,
		Geometry:     true,
		Units:        "m",
		Language:     "en",
	}
	if req.AvoidHighways || req.AvoidTolls {
		orsReq.Preference = "recommended"
	}

	// Alternatives are only computed for two-point requests.
	if req.Alternatives && len(coords) == 2 {
		orsReq.AlternativeRoutes = &alternativeRoutesOpts{
			TargetCount:  3,
			ShareFactor:  0.6,
			WeightFactor: 1.4,
		}
	}
	return orsReq
}

// toDirectionsResponse converts ORS response to domain model.
func toDirectionsResponse(resp *orsResponse, waypoints int) *routing.DirectionsResponse {
	routes := make([]routing.Route, 0, len(resp.Routes))

	for i := range resp.Routes {
		orsRoute := &resp.Routes[i]
		path := polyline.Decode(orsRoute.Geometry)

		route := routing.Route{
			GeometryPolyline: orsRoute.Geometry,
			Legs:             make([]routing.Leg, 0, len(orsRoute.Segments)),
		}

		if len(orsRoute.BBox) >= 4 {
			route.BoundingBox = &routing.BoundingBox{
				MinLng: orsRoute.BBox[0],
				MinLat: orsRoute.BBox[1],
				MaxLng: orsRoute.BBox[2],
				MaxLat: orsRoute.BBox[3],
			}
		}

		for j := range orsRoute.Segments {
			route.Legs = append(route.Legs, toLeg(&orsRoute.Segments[j], path))
		}

		// Segments carry no per-leg summary when the route has no instructions.
		if len(route.Legs) == 0 {
			route.Legs = []routing.Leg{{
				DistanceMeters:  orsRoute.Summary.Distance,
				DurationSeconds: orsRoute.Summary.Duration,
				StartLocation:   pointAt(path, 0),
				EndLocation:     pointAt(path, len(path)-1),
			}}
		}

		if waypoints > 0 {
			route.WaypointOrder = make([]int, waypoints)
			for k := range route.WaypointOrder {
				route.WaypointOrder[k] = k
			}
		}

		route.Summary = summarize(orsRoute.Segments)
		routes = append(routes, route)
	}

	return &routing.DirectionsResponse{
		Routes:    routes,
		Provider:  ProviderName,
		FetchedAt: time.Now(),
	}
}

func toLeg(seg *routeSegment, path []geo.Coordinate) routing.Leg {
	leg := routing.Leg{
		DistanceMeters:  seg.Distance,
		DurationSeconds: seg.Duration,
		Steps:           make([]routing.ProviderStep, 0, len(seg.Steps)),
	}

	for k := range seg.Steps {
		s := &seg.Steps[k]
		step := routing.ProviderStep{
			Instruction:     s.Instruction,
			DistanceMeters:  s.Distance,
			DurationSeconds: s.Duration,
			Maneuver:        maneuverFor(s.Type),
		}
		if len(s.WayPoints) >= 2 {
			step.StartLocation = pointAt(path, s.WayPoints[0])
			step.EndLocation = pointAt(path, s.WayPoints[1])
		}
		leg.Steps = append(leg.Steps, step)
	}

	if n := len(leg.Steps); n > 0 {
		leg.StartLocation = leg.Steps[0].StartLocation
		leg.EndLocation = leg.Steps[n-1].EndLocation
	}
	return leg
}

func pointAt(path []geo.Coordinate, i int) geo.Coordinate {
	if i < 0 || i >= len(path) {
		return geo.Coordinate{}
	}
	return path[i]
}

func maneuverFor(orsType int) routing.Maneuver {
	switch orsType {
	case stepLeft:
		return routing.ManeuverTurnLeft
	case stepRight:
		return routing.ManeuverTurnRight
	case stepSharpLeft:
		return routing.ManeuverSharpLeft
	case stepSharpRight:
		return routing.ManeuverSharpRight
	case stepSlightLeft:
		return routing.ManeuverSlightLeft
	case stepSlightRight:
		return routing.ManeuverSlightRight
	case stepEnterRoundabout, stepExitRoundabout:
		return routing.ManeuverRoundabout
	case stepUTurn:
		return routing.ManeuverUTurn
	case stepGoal:
		return routing.ManeuverArrive
	case stepDepart:
		return routing.ManeuverDepart
	case stepKeepLeft:
		return routing.ManeuverKeepLeft
	case stepKeepRight:
		return routing.ManeuverKeepRight
	default:
		return routing.ManeuverStraight
	}
}

// summarize names the two longest named streets of the route, in route order.
func summarize(segments []routeSegment) string {
	type named struct {
		name     string
		distance float64
		order    int
	}

	byName := map[string]*named{}
	for i := range segments {
		for _, s := range segments[i].Steps {
			if s.Name == "" || s.Name == "-" {
				continue
			}
			if n, ok := byName[s.Name]; ok {
				n.distance += s.Distance
				continue
			}
			byName[s.Name] = &named{name: s.Name, distance: s.Distance, order: len(byName)}
		}
	}

	list := make([]*named, 0, len(byName))
	for _, n := range byName {
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].distance > list[j].distance })
	if len(list) > 2 {
		list = list[:2]
	}
	sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })

	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.name
	}
	return strings.Join(names, ", ")
}
