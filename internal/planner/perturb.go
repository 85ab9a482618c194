package planner

import (
	"math"
	"math/rand/v2"

	"github.com/saferoute/saferoute/internal/geo"
)

// perturber bends a path sideways. Attempt k moves the middle of the path by
// about k*step degrees, tapering to zero at both endpoints.
type perturber struct {
	rng  *rand.Rand
	step float64
}

func newPerturber(seed1, seed2 uint64, step float64) *perturber {
	return &perturber{rng: rand.New(rand.NewPCG(seed1, seed2)), step: step}
}

// perturb returns a new path; path itself is not modified. Endpoints are kept.
func (p *perturber) perturb(path []geo.Coordinate, attempt int) []geo.Coordinate {
	if len(path) < 2 {
		return append([]geo.Coordinate(nil), path...)
	}
	if len(path) == 2 {
		path = []geo.Coordinate{path[0], midpoint(path[0], path[1]), path[1]}
	}

	first, last := path[0], path[len(path)-1]
	perpLat, perpLon := perpendicular(first, last)

	side := 1.0
	if p.rng.IntN(2) == 0 {
		side = -1
	}
	magnitude := p.step * float64(attempt)
	jitter := magnitude / 4

	out := make([]geo.Coordinate, len(path))
	out[0], out[len(out)-1] = first, last
	n := float64(len(path) - 1)
	for i := 1; i < len(path)-1; i++ {
		bow := side * magnitude * math.Sin(math.Pi*float64(i)/n)
		out[i] = path[i].Offset(
			bow*perpLat+p.uniform(jitter),
			bow*perpLon+p.uniform(jitter),
		)
	}
	return out
}

func (p *perturber) uniform(half float64) float64 {
	return (p.rng.Float64()*2 - 1) * half
}

// perpendicular returns a unit vector (in degrees, lon corrected for
// latitude) at right angles to a->b.
func perpendicular(a, b geo.Coordinate) (dLat, dLon float64) {
	scale := math.Cos((a.Lat + b.Lat) / 2 * math.Pi / 180)
	if scale < 1e-6 {
		scale = 1e-6
	}
	y := b.Lat - a.Lat
	x := (b.Lon - a.Lon) * scale
	length := math.Hypot(x, y)
	if length == 0 {
		return 0, 1 / scale
	}
	// Rotate (x, y) by 90 degrees.
	return x / length, -y / length / scale
}

func midpoint(a, b geo.Coordinate) geo.Coordinate {
	return geo.Coordinate{Lat: (a.Lat + b.Lat) / 2, Lon: (a.Lon + b.Lon) / 2}
}
