// Package polyline encodes and decodes Google encoded polylines.
//
// Points are exchanged as orb.LineString values, so X is longitude and Y is
// latitude. The precision argument is the number of decimal places carried
// by the encoding: OSRM and OpenRouteService use 5, Valhalla and some OSRM
// deployments use 6.
package polyline

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
)

// Default precisions used by routing engines.
const (
	Precision5 = 5
	Precision6 = 6
)

// ErrMalformed is returned when an encoded string ends in the middle of a value.
var ErrMalformed = errors.New("polyline: malformed encoding")

func factor(precision int) float64 {
	if precision <= 0 {
		precision = Precision5
	}
	return math.Pow10(precision)
}

// Decode parses an encoded polyline into a line string.
// An empty input yields a nil line string and no error.
func Decode(encoded string, precision int) (orb.LineString, error) {
	if encoded == "" {
		return nil, nil
	}

	f := factor(precision)
	ls := make(orb.LineString, 0, len(encoded)/4)

	var lat, lon int
	for i := 0; i < len(encoded); {
		dLat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dLon, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next

		lat += dLat
		lon += dLon
		ls = append(ls, orb.Point{float64(lon) / f, float64(lat) / f})
	}

	return ls, nil
}

func decodeValue(encoded string, i int) (int, int, error) {
	var result, shift int
	for {
		if i >= len(encoded) {
			return 0, i, ErrMalformed
		}
		b := int(encoded[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// Encode serialises a line string.
func Encode(ls orb.LineString, precision int) string {
	if len(ls) == 0 {
		return ""
	}

	f := factor(precision)
	buf := make([]byte, 0, len(ls)*8)

	var prevLat, prevLon int
	for _, p := range ls {
		lat := int(math.Round(p.Lat() * f))
		lon := int(math.Round(p.Lon() * f))

		buf = appendValue(buf, lat-prevLat)
		buf = appendValue(buf, lon-prevLon)

		prevLat, prevLon = lat, lon
	}

	return string(buf)
}

func appendValue(buf []byte, v int) []byte {
	if v < 0 {
		v = ^(v << 1)
	} else {
		v <<= 1
	}

	for v >= 0x20 {
		buf = append(buf, byte((v&0x1f)|0x20)+63)
		v >>= 5
	}
	return append(buf, byte(v)+63)
}
