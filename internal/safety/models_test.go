package safety_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/safety"
)

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, f := range safety.AllFactors {
		sum += f.Weight()
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestTimeOfDayAt(t *testing.T) {
	tests := []struct {
		hour int
		want safety.TimeOfDay
	}{
		{4, safety.TimeNight},
		{5, safety.TimeMorning},
		{11, safety.TimeMorning},
		{12, safety.TimeAfternoon},
		{16, safety.TimeAfternoon},
		{17, safety.TimeEvening},
		{20, safety.TimeEvening},
		{21, safety.TimeNight},
		{0, safety.TimeNight},
	}
	for _, tt := range tests {
		ts := time.Date(2025, 3, 1, tt.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tt.want, safety.TimeOfDayAt(ts), "hour %d", tt.hour)
	}
}

func TestRepresentativeHours(t *testing.T) {
	assert.Equal(t, 8, safety.TimeMorning.RepresentativeHour())
	assert.Equal(t, 14, safety.TimeAfternoon.RepresentativeHour())
	assert.Equal(t, 18, safety.TimeEvening.RepresentativeHour())
	assert.Equal(t, 22, safety.TimeNight.RepresentativeHour())
}

func TestContext_Validate(t *testing.T) {
	assert.NoError(t, safety.Context{}.Validate())
	assert.NoError(t, safety.Context{
		TimeOfDay: safety.TimeNight,
		UserType:  safety.UserTwoWheeler,
		Weather:   safety.WeatherStormy,
	}.Validate())

	assert.ErrorIs(t, safety.Context{TimeOfDay: "dusk"}.Validate(), safety.ErrInvalidContext)
	assert.ErrorIs(t, safety.Context{UserType: "skater"}.Validate(), safety.ErrInvalidContext)
	assert.ErrorIs(t, safety.Context{Weather: "foggy"}.Validate(), safety.ErrInvalidContext)
}

func TestContext_WithDefaults(t *testing.T) {
	c := safety.Context{TimeOfDay: safety.TimeNight}.WithDefaults()
	assert.Equal(t, safety.TimeNight, c.TimeOfDay)
	assert.Equal(t, safety.UserPedestrian, c.UserType)
	assert.Equal(t, safety.WeatherClear, c.Weather)
}

func TestAggregate_WeightedSumMatchesOverall(t *testing.T) {
	inputs := []safety.Factors{
		{Lighting: 0, Footfall: 0, Hazards: 0, ProximityToHelp: 0},
		{Lighting: 100, Footfall: 100, Hazards: 100, ProximityToHelp: 100},
		{Lighting: 33.3, Footfall: 71.9, Hazards: 12.5, ProximityToHelp: 88.1},
		{Lighting: 150, Footfall: -20, Hazards: math.NaN(), ProximityToHelp: 49.5},
	}

	for _, fs := range inputs {
		r := safety.Aggregate(fs, nil)
		assert.GreaterOrEqual(t, r.Overall, 0)
		assert.LessOrEqual(t, r.Overall, 100)
		assert.InDelta(t, float64(r.Overall), r.WeightedFactors.Sum(), 1.0)
		for _, f := range safety.AllFactors {
			v := r.Factors.Get(f)
			assert.True(t, v >= 0 && v <= 100, "%s out of range: %v", f, v)
		}
	}
}

func TestAggregate_Confidence(t *testing.T) {
	fs := safety.Factors{Lighting: 60, Footfall: 0, Hazards: 100, ProximityToHelp: 40}

	r := safety.Aggregate(fs, map[safety.Factor]bool{safety.FactorProximity: true})
	// footfall is zero and proximity fell back
	assert.Equal(t, 0.5, r.Confidence)

	r = safety.Aggregate(safety.Factors{Lighting: 1, Footfall: 1, Hazards: 1, ProximityToHelp: 1}, nil)
	assert.Equal(t, 1.0, r.Confidence)
}

func TestDefaultResult(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := safety.DefaultResult(now)

	assert.Equal(t, 56, r.Overall)
	assert.Equal(t, 0.5, r.Confidence)
	assert.True(t, r.Degraded)
	assert.Equal(t, 80.0, r.Factors.Hazards)
	require.Len(t, r.Details, 4)
	for _, d := range r.Details {
		assert.True(t, d.Fallback)
	}
	assert.Equal(t, now, r.ComputedAt)
}

func TestRecommendations(t *testing.T) {
	t.Run("catch-all when nothing triggers", func(t *testing.T) {
		recs := safety.Recommendations(safety.Factors{Lighting: 90, Footfall: 90, Hazards: 90, ProximityToHelp: 90})
		assert.Equal(t, []string{safety.AllClear}, recs)
	})

	t.Run("severe band wins over moderate", func(t *testing.T) {
		recs := safety.Recommendations(safety.Factors{Lighting: 20, Footfall: 90, Hazards: 90, ProximityToHelp: 90})
		require.Len(t, recs, 1)
		assert.Contains(t, recs[0], "Poor lighting")
	})

	t.Run("one entry per factor in a fixed order", func(t *testing.T) {
		fs := safety.Factors{Lighting: 10, Footfall: 10, Hazards: 10, ProximityToHelp: 10}
		first := safety.Recommendations(fs)
		second := safety.Recommendations(fs)
		assert.Len(t, first, 4)
		assert.Equal(t, first, second)
	})

	t.Run("context tips are capped", func(t *testing.T) {
		fs := safety.Factors{Lighting: 10, Footfall: 10, Hazards: 10, ProximityToHelp: 10}
		recs := safety.RecommendationsFor(fs, safety.Context{
			TimeOfDay: safety.TimeNight,
			Weather:   safety.WeatherStormy,
			UserType:  safety.UserTwoWheeler,
		})
		assert.Len(t, recs, safety.MaxRecommendations)
	})
}
