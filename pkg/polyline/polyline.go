// Package polyline provides encoding and decoding utilities for Google's polyline algorithm.
// The polyline algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"math"

	"github.com/pedalei/pedalei/pkg/geo"
)

// Decode decodes a polyline-encoded string into a slice of coordinates.
// The polyline format uses precision of 5 decimal places (standard Google/ORS format).
// A truncated trailing value is dropped rather than producing a half coordinate.
func Decode(encoded string) []geo.Coordinate {
	if encoded == "" {
		return nil
	}

	var coords []geo.Coordinate
	index := 0
	lat := 0
	lng := 0

	for index < len(encoded) {
		latDelta, next, ok := decodeValue(encoded, index)
		if !ok {
			break
		}
		lngDelta, next, ok := decodeValue(encoded, next)
		if !ok {
			break
		}
		index = next
		lat += latDelta
		lng += lngDelta

		coords = append(coords, geo.Coordinate{
			Lat: float64(lat) / 1e5,
			Lng: float64(lng) / 1e5,
		})
	}

	return coords
}

// decodeValue decodes a single value from the polyline at the given index.
// Returns the decoded delta, the new index and whether a terminating chunk was seen.
func decodeValue(encoded string, index int) (int, int, bool) {
	shift := 0
	result := 0

	for index < len(encoded) {
		b := int(encoded[index]) - 63
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), index, true
			}
			return result >> 1, index, true
		}
	}
	return 0, index, false
}

// Encode encodes a slice of coordinates into a polyline-encoded string.
func Encode(coords []geo.Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(coords)*4)
	prevLat := 0
	prevLng := 0

	for _, coord := range coords {
		lat := int(math.Round(coord.Lat * 1e5))
		lng := int(math.Round(coord.Lng * 1e5))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lng-prevLng)

		prevLat = lat
		prevLng = lng
	}

	return string(encoded)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	buf = append(buf, byte(value)+63)

	return buf
}

// Length calculates the total length of a path in meters using the haversine formula.
func Length(coords []geo.Coordinate) float64 {
	return geo.PathLength(coords)
}

// Sample returns coordinates spaced approximately intervalMeters apart along the path.
// The first and last coordinates are always included.
func Sample(coords []geo.Coordinate, intervalMeters float64) []geo.Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if intervalMeters <= 0 {
		return coords
	}

	sampled := []geo.Coordinate{coords[0]}
	accumulated := 0.0

	for i := 1; i < len(coords); i++ {
		segmentStart := coords[i-1]
		segmentDist := geo.Distance(segmentStart, coords[i])

		for segmentDist > 0 && accumulated+segmentDist >= intervalMeters {
			remaining := intervalMeters - accumulated
			fraction := remaining / segmentDist

			segmentStart = geo.Interpolate(segmentStart, coords[i], fraction)
			sampled = append(sampled, segmentStart)

			segmentDist -= remaining
			accumulated = 0
		}

		accumulated += segmentDist
	}

	last := coords[len(coords)-1]
	if sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}

	return sampled
}

// Evenly picks at most n coordinates at evenly spaced indices, always keeping
// the first and last point. Index i of the result is coords[round(i*(len-1)/(n-1))].
func Evenly(coords []geo.Coordinate, n int) []geo.Coordinate {
	if n <= 0 || len(coords) == 0 {
		return nil
	}
	if len(coords) <= n {
		out := make([]geo.Coordinate, len(coords))
		copy(out, coords)
		return out
	}
	if n == 1 {
		return []geo.Coordinate{coords[0]}
	}

	out := make([]geo.Coordinate, 0, n)
	last := len(coords) - 1
	for i := 0; i < n; i++ {
		idx := int(math.Round(float64(i) * float64(last) / float64(n-1)))
		out = append(out, coords[idx])
	}
	return out
}
