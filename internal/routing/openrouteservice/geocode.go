package openrouteservice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/pkg/geo"
)

// Geocode resolves an address to the coordinate of the best match.
func (c *Client) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return geo.Coordinate{}, &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusInvalidRequest,
			Message:  "empty address",
			Err:      routing.ErrGeocodingFailed,
		}
	}

	query := url.Values{}
	query.Set("text", address)
	query.Set("size", "1")
	if c.geocodeCountry != "" {
		query.Set("boundary.country", c.geocodeCountry)
	}

	var fc geojson.FeatureCollection
	if err := c.do(ctx, http.MethodGet, "/geocode/search", query, nil, &fc); err != nil {
		return geo.Coordinate{}, err
	}

	for _, f := range fc.Features {
		if p, ok := f.Geometry.(orb.Point); ok {
			c.logger.Debug().
				Str("address", address).
				Interface("label", f.Properties["label"]).
				Msg("geocoded address")
			return geo.FromPoint(p), nil
		}
	}

	return geo.Coordinate{}, &routing.Error{
		Provider: ProviderName,
		Status:   routing.StatusZeroResults,
		Message:  fmt.Sprintf("no match for %q", address),
		Err:      routing.ErrGeocodingFailed,
	}
}
