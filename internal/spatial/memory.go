package spatial

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/signal"
)

// MemoryStore is an in-memory implementation of the signal data sources.
// It is used by tests and by the API when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	facilities []signal.Facility
	hazards    []signal.HazardReport
	crowd      []locatedCrowdReport
	areas      []locatedArea
	pois       []geo.Coordinate
	snapshots  []Snapshot
}

type locatedCrowdReport struct {
	loc    geo.Coordinate
	report signal.CrowdReport
}

type locatedArea struct {
	loc      geo.Coordinate
	activity signal.AreaActivity
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddFacility stores f. DistanceMeters is computed per query.
func (s *MemoryStore) AddFacility(f signal.Facility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities = append(s.facilities, f)
}

// AddHazard stores a hazard report.
func (s *MemoryStore) AddHazard(r signal.HazardReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hazards = append(s.hazards, r)
}

// AddCrowdReport stores a lighting report filed at loc.
func (s *MemoryStore) AddCrowdReport(loc geo.Coordinate, r signal.CrowdReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crowd = append(s.crowd, locatedCrowdReport{loc: loc, report: r})
}

// AddArea stores activity data for the area centred on loc.
func (s *MemoryStore) AddArea(loc geo.Coordinate, a signal.AreaActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.HourlyFootfall = slices.Clone(a.HourlyFootfall)
	s.areas = append(s.areas, locatedArea{loc: loc, activity: a})
}

// AddPOI stores a point of interest.
func (s *MemoryStore) AddPOI(loc geo.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pois = append(s.pois, loc)
}

// NearbyFacilities implements signal.FacilitySource.
func (s *MemoryStore) NearbyFacilities(_ context.Context, center geo.Coordinate, radiusMeters float64, kind signal.FacilityKind) ([]signal.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []signal.Facility
	for _, f := range s.facilities {
		if f.Kind != kind {
			continue
		}
		d := geo.Distance(center, f.Location)
		if d > radiusMeters {
			continue
		}
		f.DistanceMeters = d
		out = append(out, f)
	}

	slices.SortFunc(out, func(a, b signal.Facility) int {
		switch {
		case a.DistanceMeters < b.DistanceMeters:
			return -1
		case a.DistanceMeters > b.DistanceMeters:
			return 1
		}
		return 0
	})
	if len(out) > maxFacilities {
		out = out[:maxFacilities]
	}
	return out, nil
}

// RecentHazards implements signal.HazardSource.
func (s *MemoryStore) RecentHazards(_ context.Context, center geo.Coordinate, radiusMeters float64, since time.Time) ([]signal.HazardReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []signal.HazardReport
	for _, r := range s.hazards {
		if r.ReportedAt.Before(since) {
			continue
		}
		if geo.Distance(center, r.Location) > radiusMeters {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// LightingReports implements signal.CrowdReportSource.
func (s *MemoryStore) LightingReports(_ context.Context, center geo.Coordinate, radiusMeters float64, since time.Time) ([]signal.CrowdReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []signal.CrowdReport
	for _, lr := range s.crowd {
		if lr.report.ReportedAt.Before(since) {
			continue
		}
		if geo.Distance(center, lr.loc) > radiusMeters {
			continue
		}
		out = append(out, lr.report)
	}
	return out, nil
}

// AreaActivity implements signal.ActivitySource using the nearest area.
func (s *MemoryStore) AreaActivity(_ context.Context, center geo.Coordinate, radiusMeters float64) (signal.AreaActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1
	bestDist := math.Inf(1)
	for i, a := range s.areas {
		d := geo.Distance(center, a.loc)
		if d <= radiusMeters && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return signal.AreaActivity{}, ErrNoArea
	}

	a := s.areas[best].activity
	a.HourlyFootfall = slices.Clone(a.HourlyFootfall)
	return a, nil
}

// CountPOIs implements signal.POICounter.
func (s *MemoryStore) CountPOIs(_ context.Context, center geo.Coordinate, radiusMeters float64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.pois {
		if geo.Distance(center, p) <= radiusMeters {
			n++
		}
	}
	return n, nil
}

// SaveSnapshot records a computed score.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// Snapshots returns every saved snapshot in insertion order.
func (s *MemoryStore) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshots)
}
