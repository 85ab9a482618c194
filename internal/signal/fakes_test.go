package signal_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/signal"
)

var errUpstream = errors.New("upstream down")

type fakeBrightness struct {
	value float64
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeBrightness) Brightness(ctx context.Context, _ orb.Bound) (float64, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.value, f.err
}

type fakeFacilities struct {
	byKind map[signal.FacilityKind][]signal.Facility
	err    error
}

func (f *fakeFacilities) NearbyFacilities(_ context.Context, _ geo.Coordinate, radius float64, kind signal.FacilityKind) ([]signal.Facility, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []signal.Facility
	for _, fac := range f.byKind[kind] {
		if fac.DistanceMeters <= radius {
			out = append(out, fac)
		}
	}
	return out, nil
}

type fakeCrowd struct {
	reports []signal.CrowdReport
	err     error
}

func (f *fakeCrowd) LightingReports(context.Context, geo.Coordinate, float64, time.Time) ([]signal.CrowdReport, error) {
	return f.reports, f.err
}

type fakeHazards struct {
	reports []signal.HazardReport
	err     error
	since   time.Time
}

func (f *fakeHazards) RecentHazards(_ context.Context, _ geo.Coordinate, _ float64, since time.Time) ([]signal.HazardReport, error) {
	f.since = since
	return f.reports, f.err
}

type fakeActivity struct {
	activity signal.AreaActivity
	err      error
}

func (f *fakeActivity) AreaActivity(context.Context, geo.Coordinate, float64) (signal.AreaActivity, error) {
	return f.activity, f.err
}

type fakePOIs struct {
	count int
	err   error
}

func (f *fakePOIs) CountPOIs(context.Context, geo.Coordinate, float64) (int, error) {
	return f.count, f.err
}

func flatHistory(v float64) []float64 {
	h := make([]float64, 24)
	for i := range h {
		h[i] = v
	}
	return h
}

func lights(working, broken int) []signal.Facility {
	var out []signal.Facility
	for i := 0; i < working; i++ {
		out = append(out, signal.Facility{Kind: signal.KindStreetLight, Working: true, DistanceMeters: 50})
	}
	for i := 0; i < broken; i++ {
		out = append(out, signal.Facility{Kind: signal.KindStreetLight, Working: false, DistanceMeters: 80})
	}
	return out
}
