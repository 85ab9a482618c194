package spatial_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/signal"
	"github.com/saferoute/saferoute/internal/spatial"
)

var chennai = geo.Coordinate{Lat: 13.0827, Lon: 80.2707}

func TestMemoryStore_NearbyFacilitiesSortedAndFiltered(t *testing.T) {
	s := spatial.NewMemoryStore()
	s.AddFacility(signal.Facility{ID: "far", Kind: signal.KindPolice, Location: chennai.Offset(0.01, 0)})
	s.AddFacility(signal.Facility{ID: "near", Kind: signal.KindPolice, Location: chennai.Offset(0.001, 0)})
	s.AddFacility(signal.Facility{ID: "hospital", Kind: signal.KindHospital, Location: chennai})
	s.AddFacility(signal.Facility{ID: "outside", Kind: signal.KindPolice, Location: chennai.Offset(1, 0)})

	got, err := s.NearbyFacilities(context.Background(), chennai, 5000, signal.KindPolice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "far", got[1].ID)
	assert.InDelta(t, 111, got[0].DistanceMeters, 1)
	assert.Less(t, got[0].DistanceMeters, got[1].DistanceMeters)
}

func TestMemoryStore_RecentHazards(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := spatial.NewMemoryStore()
	s.AddHazard(signal.HazardReport{ID: "new", Severity: 3, ReportedAt: now.Add(-time.Hour), Location: chennai})
	s.AddHazard(signal.HazardReport{ID: "old", Severity: 3, ReportedAt: now.AddDate(0, 0, -100), Location: chennai})
	s.AddHazard(signal.HazardReport{ID: "away", Severity: 3, ReportedAt: now, Location: chennai.Offset(0.5, 0)})

	got, err := s.RecentHazards(context.Background(), chennai, 500, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestMemoryStore_LightingReports(t *testing.T) {
	now := time.Now()
	s := spatial.NewMemoryStore()
	s.AddCrowdReport(chennai, signal.CrowdReport{ReporterID: "a", Rating: 75, ReportedAt: now})
	s.AddCrowdReport(chennai.Offset(0.1, 0), signal.CrowdReport{ReporterID: "b", Rating: 10, ReportedAt: now})

	got, err := s.LightingReports(context.Background(), chennai, 300, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ReporterID)
}

func TestMemoryStore_AreaActivityNearest(t *testing.T) {
	s := spatial.NewMemoryStore()
	history := make([]float64, 24)
	s.AddArea(chennai.Offset(0.003, 0), signal.AreaActivity{BusinessIndex: 10, HourlyFootfall: history})
	s.AddArea(chennai.Offset(0.001, 0), signal.AreaActivity{BusinessIndex: 90, HourlyFootfall: history})

	a, err := s.AreaActivity(context.Background(), chennai, 500)
	require.NoError(t, err)
	assert.Equal(t, 90.0, a.BusinessIndex)
	assert.Len(t, a.HourlyFootfall, 24)

	_, err = s.AreaActivity(context.Background(), chennai.Offset(1, 1), 500)
	assert.ErrorIs(t, err, spatial.ErrNoArea)
}

func TestMemoryStore_CountPOIs(t *testing.T) {
	s := spatial.NewMemoryStore()
	for i := 0; i < 5; i++ {
		s.AddPOI(chennai.Offset(float64(i)*0.001, 0))
	}
	s.AddPOI(chennai.Offset(0.2, 0))

	n, err := s.CountPOIs(context.Background(), chennai, 500)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMemoryStore_Snapshots(t *testing.T) {
	s := spatial.NewMemoryStore()
	snap := spatial.Snapshot{
		Location:   chennai,
		Context:    safety.Context{}.WithDefaults(),
		Result:     safety.DefaultResult(time.Now()),
		ComputedAt: time.Now(),
	}
	require.NoError(t, s.SaveSnapshot(context.Background(), snap))

	got := s.Snapshots()
	require.Len(t, got, 1)
	assert.Equal(t, 56, got[0].Result.Overall)
}

func TestSchema_DeclaresTables(t *testing.T) {
	for _, table := range []string{
		"facilities", "hazard_reports", "reporters", "lighting_reports",
		"area_activity", "points_of_interest", "safety_score_snapshots",
	} {
		assert.Contains(t, spatial.Schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
}
