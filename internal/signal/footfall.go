package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

const footfallComponentWeight = 0.25

// FootfallConfig configures the footfall adapter.
type FootfallConfig struct {
	POIs     POICounter
	Activity ActivitySource

	POIRadiusMeters      float64
	ActivityRadiusMeters float64
	FetchTimeout         time.Duration
}

// Footfall scores how busy a location is.
type Footfall struct {
	cfg FootfallConfig
}

// NewFootfall creates a footfall adapter.
func NewFootfall(cfg FootfallConfig) *Footfall {
	if cfg.POIRadiusMeters <= 0 {
		cfg.POIRadiusMeters = 500
	}
	if cfg.ActivityRadiusMeters <= 0 {
		cfg.ActivityRadiusMeters = 500
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	return &Footfall{cfg: cfg}
}

// Factor implements Adapter.
func (f *Footfall) Factor() safety.Factor { return safety.FactorFootfall }

// Compute implements Adapter.
func (f *Footfall) Compute(ctx context.Context, c geo.Coordinate, sctx safety.Context) (Measurement, error) {
	if f.cfg.POIs == nil || f.cfg.Activity == nil {
		return Measurement{}, ErrSourceUnavailable
	}

	var (
		pois     int
		activity AreaActivity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pois, err = withTimeout(gctx, f.cfg.FetchTimeout, func(ctx context.Context) (int, error) {
			return f.cfg.POIs.CountPOIs(ctx, c, f.cfg.POIRadiusMeters)
		})
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = withTimeout(gctx, f.cfg.FetchTimeout, func(ctx context.Context) (AreaActivity, error) {
			return f.cfg.Activity.AreaActivity(ctx, c, f.cfg.ActivityRadiusMeters)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return Measurement{}, err
	}

	if len(activity.HourlyFootfall) != 24 {
		return Measurement{}, fmt.Errorf("%w: %d hourly footfall values", ErrInsufficientData, len(activity.HourlyFootfall))
	}

	density := math.Min(float64(pois)*2, 100)
	business := safety.Clamp(activity.BusinessIndex)
	transit := safety.Clamp(activity.TransitIndex)
	relative := RelativeFootfall(activity.HourlyFootfall, sctx.TimeOfDay.RepresentativeHour())

	sum := (density + business + transit + relative) * footfallComponentWeight

	return Measurement{
		Score:  safety.Clamp(sum),
		Source: "poi+activity",
		Inputs: map[string]float64{
			"poiCount":         float64(pois),
			"poiDensity":       density,
			"businessActivity": business,
			"transitActivity":  transit,
			"relativeFootfall": relative,
		},
	}, nil
}

// RelativeFootfall is history[hour] / mean(history) * 50, or 0 when the mean
// is not positive.
func RelativeFootfall(history []float64, hour int) float64 {
	if len(history) == 0 || hour < 0 || hour >= len(history) {
		return 0
	}
	var total float64
	for _, v := range history {
		total += v
	}
	mean := total / float64(len(history))
	if mean <= 0 {
		return 0
	}
	return history[hour] / mean * 50
}
