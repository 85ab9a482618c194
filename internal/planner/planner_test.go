package planner_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/planner"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

var (
	origin      = geo.Coordinate{Lat: 13.0827, Lon: 80.2707}
	destination = geo.Coordinate{Lat: 13.0827, Lon: 80.3007}
	midpoint    = geo.Coordinate{Lat: 13.0827, Lon: 80.2857}
	fixedNow    = time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC)
)

type fakeRouter struct {
	routes []routing.Route
	err    error
	calls  atomic.Int32
	last   routing.DirectionsRequest
}

func (f *fakeRouter) GetDirections(_ context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	f.calls.Add(1)
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &routing.DirectionsResponse{Routes: f.routes, Provider: "fake"}, nil
}

type fieldScorer struct {
	fn     func(geo.Coordinate) safety.Result
	panics bool
	calls  atomic.Int32
}

func (f *fieldScorer) Score(_ context.Context, c geo.Coordinate, _ safety.Context) (safety.Result, error) {
	f.calls.Add(1)
	if f.panics {
		panic("scorer exploded")
	}
	if err := c.Validate(); err != nil {
		return safety.Result{}, err
	}
	return f.fn(c), nil
}

func uniform(score int) func(geo.Coordinate) safety.Result {
	return func(geo.Coordinate) safety.Result { return result(score) }
}

func result(score int) safety.Result {
	v := float64(score)
	return safety.Result{
		Overall:    score,
		Factors:    safety.Factors{Lighting: v, Footfall: v, Hazards: v, ProximityToHelp: v},
		Confidence: 1,
	}
}

// line builds an n-point straight path.
func line(a, b geo.Coordinate, n int) []geo.Coordinate {
	out := make([]geo.Coordinate, n)
	for i := range out {
		t := float64(i) / float64(n-1)
		out[i] = geo.Coordinate{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
	}
	return out
}

func baseRoute() routing.Route {
	path := line(origin, destination, 11)
	return routing.Route{Path: path, DistanceMeters: geo.PathLength(path)}
}

func newPlanner(router planner.Router, scorer planner.PointScorer) *planner.Planner {
	return planner.New(planner.Config{
		Router: router,
		Scorer: scorer,
		Seed:   42,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	})
}

func TestPlanRoute_FastPath(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{baseRoute()}}
	scorer := &fieldScorer{fn: uniform(85)}
	p := newPlanner(router, scorer)

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
	require.NoError(t, err)

	assert.Equal(t, planner.SourceProvider, route.Source)
	assert.Equal(t, 85.0, route.OverallSafetyScore)
	assert.Empty(t, route.DangerousSegments)
	assert.True(t, route.MeetsSafetyFloor)
	assert.False(t, route.Fallback)
	assert.Zero(t, route.AlternativesGenerated)
	assert.Empty(t, route.AlternativeRoutes)
	assert.Equal(t, int32(1), router.calls.Load())
	assert.Equal(t, routing.ProfileWalk, router.last.Profile)
	assert.Contains(t, route.ID, "rte_")
	assert.NotEmpty(t, route.Polyline)

	// 5 km/h walking.
	assert.InDelta(t, route.DistanceMeters/5000*3600, route.DurationSeconds, 1e-6)

	require.NotEmpty(t, route.Waypoints)
	require.NotNil(t, route.Waypoints[0].SafetyScore)
	assert.Equal(t, 85.0, *route.Waypoints[0].SafetyScore)
}

func TestPlanRoute_TransportModeSelectsProfileAndSpeed(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{baseRoute()}}
	p := newPlanner(router, &fieldScorer{fn: uniform(85)})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{
		TransportMode: planner.ModePublicTransport,
	})
	require.NoError(t, err)

	assert.Equal(t, routing.ProfileDrive, router.last.Profile)
	assert.InDelta(t, route.DistanceMeters/25000*3600, route.DurationSeconds, 1e-6)
}

// A broad low-scoring zone around the middle of the route that no bounded
// detour can leave.
func TestPlanRoute_FloorEightyWithWorstSegmentFortyFive(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{baseRoute()}}
	scorer := &fieldScorer{fn: func(c geo.Coordinate) safety.Result {
		if geo.Distance(c, midpoint) < 1200 {
			return result(45)
		}
		return result(85)
	}}
	p := newPlanner(router, scorer)

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{
		MinimumSafetyScore: planner.Float64(80),
	})
	require.NoError(t, err)

	require.NotEmpty(t, route.DangerousSegments)
	seg := route.DangerousSegments[0]
	assert.Equal(t, 45.0, seg.SafetyScore)
	assert.Equal(t, "moderately unsafe", seg.Reason)
	assert.Less(t, seg.StartIndex, seg.EndIndex)
	assert.GreaterOrEqual(t, route.AlternativesGenerated, 1)
	assert.False(t, route.MeetsSafetyFloor)
	assert.False(t, route.Fallback)
}

func TestPlanRoute_DetourBound(t *testing.T) {
	base := baseRoute()
	north := geo.Coordinate{Lat: 13.0860, Lon: 80.2857}
	farNorth := geo.Coordinate{Lat: 13.1100, Lon: 80.2857}

	nearPath := append(line(origin, north, 6), line(north, destination, 6)[1:]...)
	farPath := append(line(origin, farNorth, 6), line(farNorth, destination, 6)[1:]...)

	router := &fakeRouter{routes: []routing.Route{
		base,
		{Path: nearPath, DistanceMeters: geo.PathLength(nearPath)},
		{Path: farPath, DistanceMeters: geo.PathLength(farPath)},
	}}
	scorer := &fieldScorer{fn: uniform(30)}
	p := newPlanner(router, scorer)

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{MaxDetourPercentage: planner.Float64(20)})
	require.NoError(t, err)

	limit := base.DistanceMeters * 1.2
	assert.LessOrEqual(t, route.DistanceMeters, limit)
	for _, alt := range route.AlternativeRoutes {
		assert.LessOrEqual(t, alt.DistanceMeters, limit)
	}
	// Two provider alternatives plus the default three perturbations.
	assert.Equal(t, 5, route.AlternativesGenerated)
}

func TestPlanRoute_PrefersShortestSafeAlternative(t *testing.T) {
	base := baseRoute()
	north := geo.Coordinate{Lat: 13.0900, Lon: 80.2857}
	detour := append(line(origin, north, 8), line(north, destination, 8)[1:]...)

	router := &fakeRouter{routes: []routing.Route{
		base,
		{Path: detour, DistanceMeters: geo.PathLength(detour)},
	}}
	// Unsafe strip hugging the base path; everything else is safe.
	scorer := &fieldScorer{fn: func(c geo.Coordinate) safety.Result {
		if c.Lat < 13.0850 && c.Lon > 80.2780 && c.Lon < 80.2930 {
			return result(25)
		}
		return result(90)
	}}
	p := planner.New(planner.Config{
		Router:   router,
		Scorer:   scorer,
		Attempts: 1,
		// Perturbations stay inside the strip.
		PerturbationStep: 0.0001,
		Seed:             7,
		Logger:           zerolog.Nop(),
	})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
	require.NoError(t, err)

	assert.Equal(t, planner.SourceAlternative, route.Source)
	assert.Empty(t, route.DangerousSegments)
	assert.True(t, route.MeetsSafetyFloor)
	assert.LessOrEqual(t, route.DistanceMeters, base.DistanceMeters*1.2)

	require.NotEmpty(t, route.AlternativeRoutes)
	for _, alt := range route.AlternativeRoutes {
		assert.NotEmpty(t, alt.DangerousSegments)
		assert.Equal(t, "very unsafe", alt.DangerousSegments[0].Reason)
	}
}

func TestPlanRoute_ZeroDetourKeepsBasePath(t *testing.T) {
	base := baseRoute()
	north := geo.Coordinate{Lat: 13.0900, Lon: 80.2857}
	detour := append(line(origin, north, 8), line(north, destination, 8)[1:]...)

	router := &fakeRouter{routes: []routing.Route{
		base,
		{Path: detour, DistanceMeters: geo.PathLength(detour)},
	}}
	// Only the northern detour is safe.
	scorer := &fieldScorer{fn: func(c geo.Coordinate) safety.Result {
		if c.Lat > 13.0850 {
			return result(90)
		}
		return result(30)
	}}
	p := newPlanner(router, scorer)

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{
		MaxDetourPercentage: planner.Float64(0),
	})
	require.NoError(t, err)

	assert.Equal(t, planner.SourceProvider, route.Source)
	assert.LessOrEqual(t, route.DistanceMeters, base.DistanceMeters)
	for _, alt := range route.AlternativeRoutes {
		assert.LessOrEqual(t, alt.DistanceMeters, base.DistanceMeters)
	}
	assert.False(t, route.MeetsSafetyFloor)
	assert.False(t, route.Fallback)
}

func TestPlanRoute_ZeroFloorIsKept(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{baseRoute()}}
	p := newPlanner(router, &fieldScorer{fn: uniform(30)})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{
		MinimumSafetyScore: planner.Float64(0),
	})
	require.NoError(t, err)

	assert.True(t, route.MeetsSafetyFloor)
	assert.Empty(t, route.DangerousSegments)
	assert.Zero(t, route.AlternativesGenerated)
}

func TestPlanRoute_SkipsUnusableAlternative(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{
		baseRoute(),
		{Path: []geo.Coordinate{origin}},
	}}
	p := newPlanner(router, &fieldScorer{fn: uniform(30)})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
	require.NoError(t, err)

	assert.False(t, route.Fallback)
	assert.NotEqual(t, planner.SourceDirect, route.Source)
	// The broken alternative plus the default three perturbations.
	assert.Equal(t, 4, route.AlternativesGenerated)
}

// Whenever the returned route has dangerous segments, every candidate
// within the detour budget had one too.
func TestPlanRoute_FloorProperty(t *testing.T) {
	for seed := uint64(1); seed <= 10; seed++ {
		router := &fakeRouter{routes: []routing.Route{baseRoute()}}
		scorer := &fieldScorer{fn: func(c geo.Coordinate) safety.Result {
			if c.Lat < origin.Lat-0.0005 {
				return result(20)
			}
			if geo.Distance(c, midpoint) < 300 {
				return result(35)
			}
			return result(80)
		}}
		p := planner.New(planner.Config{Router: router, Scorer: scorer, Seed: seed, Logger: zerolog.Nop()})

		route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
		require.NoError(t, err)

		if len(route.DangerousSegments) > 0 {
			for _, alt := range route.AlternativeRoutes {
				assert.NotEmpty(t, alt.DangerousSegments, "seed %d", seed)
			}
		} else {
			assert.True(t, route.MeetsSafetyFloor, "seed %d", seed)
		}
	}
}

func TestPlanRoute_RouterErrorFallsBackToDirectPath(t *testing.T) {
	router := &fakeRouter{err: &routing.Error{Provider: "fake", Message: "down", Err: routing.ErrProviderUnavailable}}
	p := newPlanner(router, &fieldScorer{fn: uniform(85)})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{TransportMode: planner.ModeCycling})
	require.NoError(t, err)

	assert.True(t, route.Fallback)
	assert.Equal(t, planner.SourceDirect, route.Source)
	require.Len(t, route.DangerousSegments, 1)
	assert.Equal(t, planner.FallbackReason, route.DangerousSegments[0].Reason)
	assert.Equal(t, origin, route.DangerousSegments[0].Start)
	assert.Equal(t, destination, route.DangerousSegments[0].End)
	assert.InDelta(t, geo.Distance(origin, destination), route.DistanceMeters, 1e-9)
	assert.InDelta(t, route.DistanceMeters/15000*3600, route.DurationSeconds, 1e-6)
	assert.Equal(t, 56.0, route.OverallSafetyScore)
	assert.Len(t, route.Waypoints, 2)
}

func TestPlanRoute_ScorerPanicFallsBack(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{baseRoute()}}
	p := newPlanner(router, &fieldScorer{panics: true})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
	require.NoError(t, err)
	assert.True(t, route.Fallback)
	assert.Equal(t, planner.FallbackReason, route.DangerousSegments[0].Reason)
}

func TestPlanRoute_EmptyProviderAnswerFallsBack(t *testing.T) {
	p := newPlanner(&fakeRouter{}, &fieldScorer{fn: uniform(85)})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
	require.NoError(t, err)
	assert.True(t, route.Fallback)
}

func TestPlanRoute_InvalidInput(t *testing.T) {
	p := newPlanner(&fakeRouter{routes: []routing.Route{baseRoute()}}, &fieldScorer{fn: uniform(85)})
	ctx := context.Background()

	_, err := p.PlanRoute(ctx, geo.Coordinate{Lat: 100}, destination, planner.Options{})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = p.PlanRoute(ctx, origin, geo.Coordinate{Lon: -181}, planner.Options{})
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = p.PlanRoute(ctx, origin, destination, planner.Options{MinimumSafetyScore: planner.Float64(140)})
	assert.ErrorIs(t, err, planner.ErrInvalidOptions)

	_, err = p.PlanRoute(ctx, origin, destination, planner.Options{TransportMode: "jetpack"})
	assert.ErrorIs(t, err, planner.ErrInvalidOptions)

	_, err = p.PlanRoute(ctx, origin, destination, planner.Options{Context: safety.Context{Weather: "hail"}})
	assert.ErrorIs(t, err, safety.ErrInvalidContext)
}

func TestPlanRoute_AvoidLowLight(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{baseRoute()}}
	scorer := &fieldScorer{fn: func(geo.Coordinate) safety.Result {
		r := result(70)
		r.Factors.Lighting = 35
		return r
	}}
	p := newPlanner(router, scorer)

	plain, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
	require.NoError(t, err)
	assert.Empty(t, plain.DangerousSegments)

	avoiding, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{AvoidLowLight: true})
	require.NoError(t, err)
	require.NotEmpty(t, avoiding.DangerousSegments)
	assert.Equal(t, "poorly lit", avoiding.DangerousSegments[0].Reason)
	assert.Positive(t, avoiding.AlternativesGenerated)
}

func TestPlanRoute_RiskTolerance(t *testing.T) {
	router := &fakeRouter{routes: []routing.Route{baseRoute()}}
	p := newPlanner(router, &fieldScorer{fn: uniform(55)})
	ctx := context.Background()

	medium, err := p.PlanRoute(ctx, origin, destination, planner.Options{})
	require.NoError(t, err)
	assert.True(t, medium.MeetsSafetyFloor)
	assert.Zero(t, medium.AlternativesGenerated)

	low, err := p.PlanRoute(ctx, origin, destination, planner.Options{UserRiskTolerance: planner.RiskLow})
	require.NoError(t, err)
	assert.False(t, low.MeetsSafetyFloor)
	assert.NotEmpty(t, low.DangerousSegments)

	p = newPlanner(router, &fieldScorer{fn: uniform(45)})
	high, err := p.PlanRoute(ctx, origin, destination, planner.Options{UserRiskTolerance: planner.RiskHigh})
	require.NoError(t, err)
	assert.True(t, high.MeetsSafetyFloor)
}

func TestPlanRoute_NotConfigured(t *testing.T) {
	p := planner.New(planner.Config{Logger: zerolog.Nop()})

	route, err := p.PlanRoute(context.Background(), origin, destination, planner.Options{})
	require.NoError(t, err)
	assert.True(t, route.Fallback)
}

func TestOptions_Policy(t *testing.T) {
	tests := []struct {
		name  string
		opts  planner.Options
		floor float64
		worst bool
	}{
		{"default", planner.Options{}.WithDefaults(), 50, false},
		{"low", planner.Options{UserRiskTolerance: planner.RiskLow}.WithDefaults(), 60, true},
		{"high", planner.Options{UserRiskTolerance: planner.RiskHigh}.WithDefaults(), 40, false},
		{"low capped", planner.Options{MinimumSafetyScore: planner.Float64(95), UserRiskTolerance: planner.RiskLow}, 100, true},
		{"high floored", planner.Options{MinimumSafetyScore: planner.Float64(5), UserRiskTolerance: planner.RiskHigh}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.opts.Policy()
			assert.Equal(t, tt.floor, p.Floor)
			assert.Equal(t, tt.worst, p.WorstCaseBias)
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := planner.Options{TransportMode: planner.ModeDriving}.WithDefaults()
	require.NotNil(t, o.MinimumSafetyScore)
	require.NotNil(t, o.MaxDetourPercentage)
	assert.Equal(t, 50.0, *o.MinimumSafetyScore)
	assert.Equal(t, 20.0, *o.MaxDetourPercentage)
	assert.Equal(t, planner.RiskMedium, o.UserRiskTolerance)
	assert.Equal(t, safety.UserTwoWheeler, o.Context.UserType)
	assert.Equal(t, safety.WeatherClear, o.Context.Weather)
	assert.InDelta(t, 1200.0, o.MaxDistance(1000), 1e-9)
}

func TestTransportMode(t *testing.T) {
	assert.Equal(t, 5.0, planner.ModeWalking.SpeedKmh())
	assert.Equal(t, 15.0, planner.ModeCycling.SpeedKmh())
	assert.Equal(t, 40.0, planner.ModeDriving.SpeedKmh())
	assert.Equal(t, 25.0, planner.ModePublicTransport.SpeedKmh())
	assert.InDelta(t, 12.0, planner.ModeWalking.Duration(1000).Minutes(), 1e-9)
}

func TestScoreRoute_PropagatesInvalidWaypoint(t *testing.T) {
	rs := planner.NewRouteScorer(&fieldScorer{fn: uniform(80)}, 2)

	_, err := rs.ScoreRoute(context.Background(), []geo.Coordinate{origin, {Lat: 123}}, safety.Context{}, planner.DefaultPolicy())
	assert.True(t, errors.Is(err, geo.ErrInvalidCoordinate))

	_, err = rs.ScoreRoute(context.Background(), nil, safety.Context{}, planner.DefaultPolicy())
	assert.Error(t, err)
}

func TestScoreRoute_SegmentsAndAggregate(t *testing.T) {
	scores := map[geo.Coordinate]int{}
	path := line(origin, destination, 7)
	for i, c := range path {
		scores[c] = []int{90, 15, 25, 90, 35, 45, 90}[i]
	}
	rs := planner.NewRouteScorer(&fieldScorer{fn: func(c geo.Coordinate) safety.Result {
		return result(scores[c])
	}}, 3)

	got, err := rs.ScoreRoute(context.Background(), path, safety.Context{}, planner.DefaultPolicy())
	require.NoError(t, err)

	require.Len(t, got.SegmentScores, 7)
	assert.InDelta(t, 390.0/7, got.OverallScore, 1e-9)

	require.Len(t, got.DangerousSegments, 2)
	first := got.DangerousSegments[0]
	assert.Equal(t, 1, first.StartIndex)
	assert.Equal(t, 2, first.EndIndex)
	assert.Equal(t, 15.0, first.SafetyScore)
	assert.Equal(t, "extremely dangerous", first.Reason)
	assert.Equal(t, path[1], first.Start)
	assert.Equal(t, path[2], first.End)

	second := got.DangerousSegments[1]
	assert.Equal(t, 4, second.StartIndex)
	assert.Equal(t, 5, second.EndIndex)
	assert.Equal(t, "unsafe", second.Reason)

	biased, err := rs.ScoreRoute(context.Background(), path, safety.Context{}, planner.Policy{Floor: 50, WorstCaseBias: true})
	require.NoError(t, err)
	assert.InDelta(t, 0.5*390.0/7+0.5*15, biased.OverallScore, 1e-9)
}

func TestDangerReason(t *testing.T) {
	assert.Equal(t, "extremely dangerous", planner.DangerReason(19.9))
	assert.Equal(t, "very unsafe", planner.DangerReason(20))
	assert.Equal(t, "unsafe", planner.DangerReason(39))
	assert.Equal(t, "moderately unsafe", planner.DangerReason(40))
}
