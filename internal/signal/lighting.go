package signal

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

// Lighting component weights.
const (
	lightingSatelliteWeight = 0.4
	lightingMunicipalWeight = 0.3
	lightingCrowdWeight     = 0.3

	// neutralCrowdRating is used when no trusted report exists.
	neutralCrowdRating = 50.0
)

// LightingConfig configures the lighting adapter.
type LightingConfig struct {
	Satellite  BrightnessSource
	Facilities FacilitySource
	Crowd      CrowdReportSource

	// BoxHalfDegrees is the half-size of the satellite sampling box.
	BoxHalfDegrees float64
	// LightRadiusMeters bounds the municipal street light ratio.
	LightRadiusMeters float64
	// CrowdRadiusMeters bounds the crowd report search.
	CrowdRadiusMeters float64
	// CrowdWindow is how far back crowd reports are read.
	CrowdWindow time.Duration
	// FetchTimeout bounds each upstream call.
	FetchTimeout time.Duration

	Now func() time.Time
}

// Lighting scores how well lit a location is.
type Lighting struct {
	cfg LightingConfig
}

// NewLighting creates a lighting adapter.
func NewLighting(cfg LightingConfig) *Lighting {
	if cfg.BoxHalfDegrees <= 0 {
		cfg.BoxHalfDegrees = 0.01
	}
	if cfg.LightRadiusMeters <= 0 {
		cfg.LightRadiusMeters = 200
	}
	if cfg.CrowdRadiusMeters <= 0 {
		cfg.CrowdRadiusMeters = 300
	}
	if cfg.CrowdWindow <= 0 {
		cfg.CrowdWindow = 30 * 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Lighting{cfg: cfg}
}

// Factor implements Adapter.
func (l *Lighting) Factor() safety.Factor { return safety.FactorLighting }

// Compute implements Adapter.
func (l *Lighting) Compute(ctx context.Context, c geo.Coordinate, sctx safety.Context) (Measurement, error) {
	if l.cfg.Satellite == nil || l.cfg.Facilities == nil || l.cfg.Crowd == nil {
		return Measurement{}, ErrSourceUnavailable
	}

	var (
		brightness float64
		lights     []Facility
		reports    []CrowdReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		brightness, err = withTimeout(gctx, l.cfg.FetchTimeout, func(ctx context.Context) (float64, error) {
			return l.cfg.Satellite.Brightness(ctx, geo.BoxAround(c, l.cfg.BoxHalfDegrees))
		})
		return err
	})
	g.Go(func() error {
		var err error
		lights, err = withTimeout(gctx, l.cfg.FetchTimeout, func(ctx context.Context) ([]Facility, error) {
			return l.cfg.Facilities.NearbyFacilities(ctx, c, l.cfg.LightRadiusMeters, KindStreetLight)
		})
		return err
	})
	g.Go(func() error {
		var err error
		since := l.cfg.Now().Add(-l.cfg.CrowdWindow)
		reports, err = withTimeout(gctx, l.cfg.FetchTimeout, func(ctx context.Context) ([]CrowdReport, error) {
			return l.cfg.Crowd.LightingReports(ctx, c, l.cfg.CrowdRadiusMeters, since)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return Measurement{}, err
	}

	satellite := safety.Clamp(brightness * 100)
	crowd := TrustWeightedRating(reports)

	inputs := map[string]float64{
		"satellite":    satellite,
		"crowd":        crowd,
		"streetLights": float64(len(lights)),
		"crowdReports": float64(len(reports)),
	}

	// No known street lights says nothing about coverage, so the municipal
	// term is dropped and the remaining weights renormalised.
	sum := satellite*lightingSatelliteWeight + crowd*lightingCrowdWeight
	weight := lightingSatelliteWeight + lightingCrowdWeight
	if len(lights) > 0 {
		municipal := workingRatio(lights) * 100
		inputs["municipal"] = municipal
		sum += municipal * lightingMunicipalWeight
		weight += lightingMunicipalWeight
	}
	raw := sum / weight
	timeMul := sctx.TimeOfDay.LightingMultiplier()
	weatherMul := sctx.Weather.LightingMultiplier()
	inputs["timeMultiplier"] = timeMul
	inputs["weatherMultiplier"] = weatherMul

	return Measurement{
		Score:  safety.Clamp(raw * timeMul * weatherMul),
		Source: "viirs+municipal+crowd",
		Inputs: inputs,
	}, nil
}

// TrustWeightedRating averages crowd ratings weighted by each reporter's
// Wilson lower bound. Without any trusted report it returns a neutral 50.
func TrustWeightedRating(reports []CrowdReport) float64 {
	var sum, weight float64
	for _, r := range reports {
		trust := WilsonLowerBound(r.ReporterVerified, r.ReporterTotal, Z95)
		if trust <= 0 {
			continue
		}
		sum += trust * safety.Clamp(r.Rating)
		weight += trust
	}
	if weight == 0 {
		return neutralCrowdRating
	}
	return sum / weight
}

func workingRatio(lights []Facility) float64 {
	working := 0
	for _, f := range lights {
		if f.Working {
			working++
		}
	}
	return float64(working) / float64(len(lights))
}
