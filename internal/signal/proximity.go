package signal

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

type helpCategory struct {
	kind   FacilityKind
	weight float64
	// zeroMeters is the distance at which the category scores 0.
	// Street lights are scored by coverage instead.
	zeroMeters float64
}

var helpCategories = []helpCategory{
	{KindPolice, 0.30, 2000},
	{KindHospital, 0.25, 3000},
	{KindFire, 0.20, 4000},
	{KindCCTV, 0.15, 1000},
	{KindStreetLight, 0.10, 0},
}

// ProximityConfig configures the proximity-to-help adapter.
type ProximityConfig struct {
	Facilities FacilitySource

	// SearchRadiusMeters bounds the nearest-facility search.
	SearchRadiusMeters float64
	// LightRadiusMeters bounds the street light coverage ratio.
	LightRadiusMeters float64
	FetchTimeout      time.Duration
}

// Proximity scores how close emergency help and surveillance are.
type Proximity struct {
	cfg ProximityConfig
}

// NewProximity creates a proximity-to-help adapter.
func NewProximity(cfg ProximityConfig) *Proximity {
	if cfg.SearchRadiusMeters <= 0 {
		cfg.SearchRadiusMeters = 10000
	}
	if cfg.LightRadiusMeters <= 0 {
		cfg.LightRadiusMeters = 200
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	return &Proximity{cfg: cfg}
}

// Factor implements Adapter.
func (p *Proximity) Factor() safety.Factor { return safety.FactorProximity }

// Compute implements Adapter.
func (p *Proximity) Compute(ctx context.Context, c geo.Coordinate, _ safety.Context) (Measurement, error) {
	if p.cfg.Facilities == nil {
		return Measurement{}, ErrSourceUnavailable
	}

	found := make([][]Facility, len(helpCategories))

	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range helpCategories {
		radius := p.cfg.SearchRadiusMeters
		if cat.kind == KindStreetLight {
			radius = p.cfg.LightRadiusMeters
		}
		g.Go(func() error {
			var err error
			found[i], err = withTimeout(gctx, p.cfg.FetchTimeout, func(ctx context.Context) ([]Facility, error) {
				return p.cfg.Facilities.NearbyFacilities(ctx, c, radius, cat.kind)
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Measurement{}, err
	}

	inputs := make(map[string]float64, len(helpCategories))
	var sum, weight float64
	for i, cat := range helpCategories {
		if len(found[i]) == 0 {
			continue
		}

		var s float64
		if cat.kind == KindStreetLight {
			s = workingRatio(found[i]) * 100
		} else {
			s = DistanceScore(nearest(found[i]), cat.zeroMeters)
		}

		inputs[string(cat.kind)] = s
		sum += s * cat.weight
		weight += cat.weight
	}

	if weight == 0 {
		return Measurement{}, ErrNoFacilities
	}

	return Measurement{
		Score:  safety.Clamp(sum / weight),
		Source: "facilities",
		Inputs: inputs,
	}, nil
}

// DistanceScore decays linearly from 100 at 0 m to 0 at zeroMeters.
func DistanceScore(meters, zeroMeters float64) float64 {
	if zeroMeters <= 0 || meters >= zeroMeters {
		return 0
	}
	if meters <= 0 {
		return 100
	}
	return (1 - meters/zeroMeters) * 100
}

func nearest(fs []Facility) float64 {
	best := fs[0].DistanceMeters
	for _, f := range fs[1:] {
		if f.DistanceMeters < best {
			best = f.DistanceMeters
		}
	}
	return best
}
