// Package geo holds the coordinate type shared by every SafeRoute package and
// the great-circle helpers built on top of orb.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"github.com/saferoute/saferoute/pkg/polyline"
)

// ErrInvalidCoordinate is returned for latitudes outside [-90, 90],
// longitudes outside [-180, 180] or non-finite values.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lng"`
}

// Validate checks that c is a finite position on the globe.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return fmt.Errorf("%w: non-finite value", ErrInvalidCoordinate)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %.6f out of range", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %.6f out of range", ErrInvalidCoordinate, c.Lon)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Point converts c to an orb point (lon, lat).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// FromPoint converts an orb point to a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lon: p.Lon()}
}

// Round snaps c to the given number of decimal places.
func (c Coordinate) Round(decimals int) Coordinate {
	f := math.Pow10(decimals)
	return Coordinate{
		Lat: math.Round(c.Lat*f) / f,
		Lon: math.Round(c.Lon*f) / f,
	}
}

// Offset shifts c by the given degrees, clamping to valid ranges.
func (c Coordinate) Offset(dLat, dLon float64) Coordinate {
	return Coordinate{
		Lat: math.Max(-90, math.Min(90, c.Lat+dLat)),
		Lon: math.Max(-180, math.Min(180, c.Lon+dLon)),
	}
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point())
}

// PathLength returns the summed haversine length of a path in meters.
func PathLength(path []Coordinate) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}

// BoxAround returns a square bound of +/- half degrees around c.
func BoxAround(c Coordinate, half float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{c.Lon - half, c.Lat - half},
		Max: orb.Point{c.Lon + half, c.Lat + half},
	}
}

// BoundAround returns a bound that contains a circle of radius meters around c.
func BoundAround(c Coordinate, meters float64) orb.Bound {
	return orbgeo.NewBoundAroundPoint(c.Point(), meters)
}

// FromLineString converts an orb line string to a coordinate path.
func FromLineString(ls orb.LineString) []Coordinate {
	if len(ls) == 0 {
		return nil
	}
	out := make([]Coordinate, len(ls))
	for i, p := range ls {
		out[i] = FromPoint(p)
	}
	return out
}

// LineString converts a coordinate path to an orb line string.
func LineString(path []Coordinate) orb.LineString {
	ls := make(orb.LineString, len(path))
	for i, c := range path {
		ls[i] = c.Point()
	}
	return ls
}

// DecodePolyline decodes an encoded polyline into a path.
func DecodePolyline(encoded string, precision int) ([]Coordinate, error) {
	ls, err := polyline.Decode(encoded, precision)
	if err != nil {
		return nil, err
	}
	return FromLineString(ls), nil
}

// EncodePolyline encodes a path as a polyline.
func EncodePolyline(path []Coordinate, precision int) string {
	return polyline.Encode(LineString(path), precision)
}
