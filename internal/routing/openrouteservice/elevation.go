package openrouteservice

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/pkg/geo"
)

// ElevationAt returns the terrain elevation of each point in meters.
func (c *Client) ElevationAt(ctx context.Context, points []geo.Coordinate) ([]float64, error) {
	if len(points) == 0 {
		return nil, nil
	}

	geometry := make([][]float64, len(points))
	for i, p := range points {
		geometry[i] = []float64{p.Lng, p.Lat}
	}

	var resp elevationResponse
	err := c.do(ctx, http.MethodPost, "/elevation/line", nil, elevationRequest{
		FormatIn:  "polyline",
		FormatOut: "polyline",
		Geometry:  geometry,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Geometry) != len(points) {
		return nil, &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusUnknownError,
			Message:  fmt.Sprintf("elevation returned %d points for %d requested", len(resp.Geometry), len(points)),
			Err:      routing.ErrProviderUnavailable,
		}
	}

	heights := make([]float64, len(resp.Geometry))
	for i, p := range resp.Geometry {
		if len(p) < 3 {
			return nil, fmt.Errorf("elevation point %d has no height", i)
		}
		heights[i] = p[2]
	}
	return heights, nil
}
