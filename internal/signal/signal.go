// Package signal turns raw data sources into the four 0-100 safety factors.
//
// Every adapter is a function of (coordinate, context). Adapters report
// upstream problems as errors; Evaluate converts any error, timeout or panic
// into the factor's documented default so a failing source never blocks the
// rest of the pipeline.
package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

var (
	// ErrSourceUnavailable is returned when an adapter has no source configured.
	ErrSourceUnavailable = errors.New("data source not configured")

	// ErrInsufficientData is returned when a source answers with unusable data.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoFacilities is returned when no facility category could be scored.
	ErrNoFacilities = errors.New("no facilities known near location")

	// ErrAdapterPanic wraps a recovered panic.
	ErrAdapterPanic = errors.New("adapter panicked")
)

// Measurement is a successfully computed factor value.
type Measurement struct {
	Score  float64
	Source string
	Inputs map[string]float64
}

// Adapter computes one safety factor.
type Adapter interface {
	Factor() safety.Factor
	Compute(ctx context.Context, c geo.Coordinate, sctx safety.Context) (Measurement, error)
}

// Reading is the outcome of running an adapter, fallback included.
type Reading struct {
	Factor   safety.Factor
	Score    float64
	Fallback bool
	Source   string
	Inputs   map[string]float64
	Err      error
	Elapsed  time.Duration
}

// Detail converts the reading into its public explanation record.
func (r Reading) Detail() safety.FactorDetail {
	d := safety.FactorDetail{
		Factor:   r.Factor,
		Score:    r.Score,
		Weight:   r.Factor.Weight(),
		Weighted: r.Score * r.Factor.Weight(),
		Fallback: r.Fallback,
		Source:   r.Source,
		Inputs:   r.Inputs,
	}
	if r.Err != nil {
		d.Error = r.Err.Error()
	}
	return d
}

// Evaluate runs a with its own timeout and never fails: errors, timeouts and
// panics produce the factor default with Fallback set.
func Evaluate(ctx context.Context, a Adapter, c geo.Coordinate, sctx safety.Context, timeout time.Duration) (r Reading) {
	start := time.Now()
	f := a.Factor()

	defer func() {
		if p := recover(); p != nil {
			r = fallback(f, fmt.Errorf("%w: %v", ErrAdapterPanic, p))
		}
		r.Elapsed = time.Since(start)
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m, err := a.Compute(ctx, c, sctx)
	if err != nil {
		return fallback(f, err)
	}
	if math.IsNaN(m.Score) || math.IsInf(m.Score, 0) {
		return fallback(f, fmt.Errorf("%w: non-finite score", ErrInsufficientData))
	}

	return Reading{
		Factor: f,
		Score:  safety.Clamp(m.Score),
		Source: m.Source,
		Inputs: m.Inputs,
	}
}

func fallback(f safety.Factor, err error) Reading {
	return Reading{
		Factor:   f,
		Score:    f.Default(),
		Fallback: true,
		Source:   "default",
		Err:      err,
	}
}

// withTimeout bounds a single upstream call.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}

// FacilityKind classifies emergency and safety infrastructure.
type FacilityKind string

const (
	KindPolice      FacilityKind = "police"
	KindHospital    FacilityKind = "hospital"
	KindFire        FacilityKind = "fire_station"
	KindCCTV        FacilityKind = "cctv"
	KindStreetLight FacilityKind = "street_light"
)

// Facility is a typed point of infrastructure with its distance from the query.
type Facility struct {
	ID             string
	Kind           FacilityKind
	Name           string
	Location       geo.Coordinate
	Working        bool
	DistanceMeters float64
}

// HazardReport is a read-only incident record.
type HazardReport struct {
	ID         string
	Type       string
	Severity   int
	Verified   bool
	ReportedAt time.Time
	Location   geo.Coordinate
}

// CrowdReport is a user lighting rating with the reporter's track record.
type CrowdReport struct {
	ReporterID string
	// Rating is normalized to [0, 100].
	Rating           float64
	ReporterVerified int
	ReporterTotal    int
	ReportedAt       time.Time
}

// AreaActivity describes how busy an area is.
type AreaActivity struct {
	BusinessIndex float64
	TransitIndex  float64
	// HourlyFootfall has 24 entries indexed by local hour.
	HourlyFootfall []float64
}

// BrightnessSource estimates night-time brightness in [0, 1] over a bound.
type BrightnessSource interface {
	Brightness(ctx context.Context, bound orb.Bound) (float64, error)
}

// FacilitySource returns facilities of one kind within radius, nearest first.
type FacilitySource interface {
	NearbyFacilities(ctx context.Context, center geo.Coordinate, radiusMeters float64, kind FacilityKind) ([]Facility, error)
}

// CrowdReportSource returns lighting reports filed since the given time.
type CrowdReportSource interface {
	LightingReports(ctx context.Context, center geo.Coordinate, radiusMeters float64, since time.Time) ([]CrowdReport, error)
}

// HazardSource returns hazard reports filed since the given time.
type HazardSource interface {
	RecentHazards(ctx context.Context, center geo.Coordinate, radiusMeters float64, since time.Time) ([]HazardReport, error)
}

// ActivitySource returns activity indexes for the area around a point.
type ActivitySource interface {
	AreaActivity(ctx context.Context, center geo.Coordinate, radiusMeters float64) (AreaActivity, error)
}

// POICounter counts points of interest around a point.
type POICounter interface {
	CountPOIs(ctx context.Context, center geo.Coordinate, radiusMeters float64) (int, error)
}
