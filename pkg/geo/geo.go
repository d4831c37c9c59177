// Package geo provides the coordinate type shared by routing, navigation and
// activity tracking, plus the great-circle helpers they rely on.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate is finite and within range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("coordinate (%f, %f) is not finite", c.Lat, c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Lng)
	}
	return nil
}

// Point converts the coordinate to an orb point ([lng, lat] order).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// FromPoint converts an orb point back to a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lng: p.Lon()}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial compass bearing from a to b in degrees [0, 360).
func Bearing(a, b Coordinate) float64 {
	deg := orbgeo.Bearing(a.Point(), b.Point())
	if deg < 0 {
		deg += 360
	}
	return math.Mod(deg, 360)
}

// Interpolate returns the point at fraction t (0..1) on the straight segment a→b.
// Segments are short enough in practice that linear interpolation in degrees is adequate.
func Interpolate(a, b Coordinate, t float64) Coordinate {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	return Coordinate{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}
}

// Bounds returns the bounding box covering all coordinates.
func Bounds(coords []Coordinate) orb.Bound {
	if len(coords) == 0 {
		return orb.Bound{}
	}
	b := coords[0].Point().Bound()
	for _, c := range coords[1:] {
		b = b.Extend(c.Point())
	}
	return b
}

// PathLength sums the haversine distance along a path.
func PathLength(coords []Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Distance(coords[i-1], coords[i])
	}
	return total
}
