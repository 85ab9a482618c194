package planner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/telemetry"
	"github.com/saferoute/saferoute/pkg/polyline"
)

// preferenceSlack is the share of extra distance within which preferences
// may reorder acceptable candidates.
const preferenceSlack = 0.05

// Router returns base paths. *routing.Service implements it.
type Router interface {
	GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error)
}

// Config configures the planner.
type Config struct {
	Router Router
	Scorer PointScorer

	// Attempts is the number of perturbed alternatives generated when the
	// base path misses the floor (default: 3).
	Attempts int
	// ProviderAlternatives requested from the router (default: 2).
	ProviderAlternatives int
	// PerturbationStep is the offset of the first attempt in degrees
	// (default: 0.002, about 220 m).
	PerturbationStep float64
	// SampleSpacingMeters is the minimum distance between scored
	// waypoints (default: 150).
	SampleSpacingMeters float64
	// MaxWaypoints caps scored waypoints per candidate (default: 30).
	MaxWaypoints int
	// MaxReturnedAlternatives caps AlternativeRoutes (default: 3).
	MaxReturnedAlternatives int
	// ScoreWorkers bounds concurrent waypoint scoring (default: 8).
	ScoreWorkers int

	// Seed makes perturbations reproducible. Zero seeds from the clock.
	Seed uint64

	Metrics *telemetry.SafetyMetrics
	Tracer  trace.Tracer
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Planner plans safety-aware routes. It is safe for concurrent use.
type Planner struct {
	router Router
	scorer *RouteScorer
	cfg    Config

	requests atomic.Uint64
}

// New creates a planner.
func New(cfg Config) *Planner {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.ProviderAlternatives <= 0 {
		cfg.ProviderAlternatives = 2
	}
	if cfg.PerturbationStep <= 0 {
		cfg.PerturbationStep = 0.002
	}
	if cfg.SampleSpacingMeters <= 0 {
		cfg.SampleSpacingMeters = 150
	}
	if cfg.MaxWaypoints <= 0 {
		cfg.MaxWaypoints = 30
	}
	if cfg.MaxReturnedAlternatives <= 0 {
		cfg.MaxReturnedAlternatives = 3
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/saferoute/saferoute/internal/planner")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Planner{
		router: cfg.Router,
		scorer: NewRouteScorer(cfg.Scorer, cfg.ScoreWorkers),
		cfg:    cfg,
	}
}

// candidate is one scored path.
type candidate struct {
	path     []geo.Coordinate // full geometry
	sampled  []geo.Coordinate // scored waypoints
	distance float64
	score    RouteScore
	source   Source
}

func (c *candidate) acceptable(p Policy) bool {
	return len(c.score.DangerousSegments) == 0 && c.score.OverallScore >= p.Floor
}

// PlanRoute returns the shortest route meeting the safety floor, or the
// safest available one. Only invalid input is an error; any other failure
// yields the direct path flagged with FallbackReason.
func (p *Planner) PlanRoute(ctx context.Context, origin, destination geo.Coordinate, opts Options) (OptimizedRoute, error) {
	if err := origin.Validate(); err != nil {
		return OptimizedRoute{}, fmt.Errorf("origin: %w", err)
	}
	if err := destination.Validate(); err != nil {
		return OptimizedRoute{}, fmt.Errorf("destination: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return OptimizedRoute{}, err
	}
	opts = opts.WithDefaults()

	ctx, span := p.cfg.Tracer.Start(ctx, "planner.PlanRoute", trace.WithAttributes(
		attribute.String("route.origin", origin.String()),
		attribute.String("route.destination", destination.String()),
		attribute.String("route.mode", string(opts.TransportMode)),
		attribute.Float64("route.floor", opts.floor()),
	))
	defer span.End()

	route, outcome, err := p.plan(ctx, origin, destination, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.cfg.Logger.Error().
			Err(err).
			Str("origin", origin.String()).
			Str("destination", destination.String()).
			Msg("route planning failed, returning direct path")
		route, outcome = p.directFallback(origin, destination, opts), "fallback"
	}

	span.SetAttributes(
		attribute.String("route.outcome", outcome),
		attribute.Float64("route.score", route.OverallSafetyScore),
		attribute.Int("route.alternatives_generated", route.AlternativesGenerated),
	)
	p.cfg.Metrics.RecordPlan(ctx, outcome)
	return route, nil
}

func (p *Planner) plan(ctx context.Context, origin, destination geo.Coordinate, opts Options) (route OptimizedRoute, outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("planner panic: %v", r)
		}
	}()

	if p.router == nil || p.scorer.scorer == nil {
		return OptimizedRoute{}, "", errors.New("planner is not configured")
	}

	policy := opts.Policy()
	sctx := opts.Context

	resp, err := p.router.GetDirections(ctx, routing.DirectionsRequest{
		Origin:          origin,
		Destination:     destination,
		Profile:         opts.TransportMode.Profile(),
		MaxAlternatives: p.cfg.ProviderAlternatives,
	})
	if err != nil {
		return OptimizedRoute{}, "", fmt.Errorf("base path: %w", err)
	}
	if len(resp.Routes) == 0 {
		return OptimizedRoute{}, "", routing.ErrNoRouteFound
	}

	base, err := p.evaluate(ctx, resp.Routes[0].Path, resp.Routes[0].DistanceMeters, SourceProvider, sctx, policy)
	if err != nil {
		return OptimizedRoute{}, "", err
	}

	if base.acceptable(policy) {
		p.cfg.Logger.Debug().
			Float64("score", base.score.OverallScore).
			Float64("distance", base.distance).
			Msg("base path meets safety floor")
		return p.toRoute(base, origin, destination, opts), "fast_path", nil
	}

	maxDistance := opts.MaxDistance(base.distance)
	candidates := []*candidate{base}
	generated := 0

	accept := func(c *candidate) {
		if c.distance > maxDistance {
			p.cfg.Metrics.RecordAlternative(ctx, "rejected_detour")
			return
		}
		p.cfg.Metrics.RecordAlternative(ctx, "accepted")
		candidates = append(candidates, c)
	}

	for _, alt := range resp.Routes[1:] {
		generated++
		if alt.DistanceMeters > maxDistance {
			p.cfg.Metrics.RecordAlternative(ctx, "rejected_detour")
			continue
		}
		c, err := p.evaluate(ctx, alt.Path, alt.DistanceMeters, SourceAlternative, sctx, policy)
		if err != nil {
			if ctx.Err() != nil {
				return OptimizedRoute{}, "", err
			}
			p.skip(ctx, err)
			continue
		}
		accept(c)
	}

	perturb := newPerturber(p.cfg.Seed, p.requests.Add(1), p.cfg.PerturbationStep)
	baseSampledLength := geo.PathLength(base.sampled)
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		generated++
		bent := perturb.perturb(base.sampled, attempt)

		// Scale by the sampled length so perturbed distances stay comparable
		// with the provider's road distance.
		distance := base.distance
		if baseSampledLength > 0 {
			distance = base.distance * geo.PathLength(bent) / baseSampledLength
		}
		if distance > maxDistance {
			p.cfg.Metrics.RecordAlternative(ctx, "rejected_detour")
			continue
		}

		c, err := p.evaluate(ctx, bent, distance, SourcePerturbation, sctx, policy)
		if err != nil {
			if ctx.Err() != nil {
				return OptimizedRoute{}, "", err
			}
			p.skip(ctx, err)
			continue
		}
		accept(c)
	}

	best, outcome := selectBest(candidates, policy, opts)

	p.cfg.Logger.Debug().
		Int("candidates", len(candidates)).
		Int("generated", generated).
		Str("selected_source", string(best.source)).
		Float64("score", best.score.OverallScore).
		Str("outcome", outcome).
		Msg("selected route")

	route = p.toRoute(best, origin, destination, opts)
	route.AlternativesGenerated = generated

	others := make([]*candidate, 0, len(candidates)-1)
	for _, c := range candidates {
		if c != best {
			others = append(others, c)
		}
	}
	slices.SortStableFunc(others, func(a, b *candidate) int {
		return cmp.Compare(b.score.OverallScore, a.score.OverallScore)
	})
	if len(others) > p.cfg.MaxReturnedAlternatives {
		others = others[:p.cfg.MaxReturnedAlternatives]
	}
	for _, c := range others {
		route.AlternativeRoutes = append(route.AlternativeRoutes, p.toRoute(c, origin, destination, opts))
	}

	return route, outcome, nil
}

// skip drops a candidate that could not be evaluated. The base path is
// already scored, so planning continues without it.
func (p *Planner) skip(ctx context.Context, err error) {
	p.cfg.Logger.Warn().Err(err).Msg("skipping route candidate")
	p.cfg.Metrics.RecordAlternative(ctx, "rejected_invalid")
}

// evaluate samples and scores a path.
func (p *Planner) evaluate(ctx context.Context, path []geo.Coordinate, distance float64, source Source, sctx safety.Context, policy Policy) (*candidate, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("%s path has %d points", source, len(path))
	}
	sampled := geo.Resample(path, p.cfg.SampleSpacingMeters, p.cfg.MaxWaypoints)
	score, err := p.scorer.ScoreRoute(ctx, sampled, sctx, policy)
	if err != nil {
		return nil, fmt.Errorf("score %s path: %w", source, err)
	}
	if distance <= 0 {
		distance = geo.PathLength(path)
	}
	return &candidate{
		path:     path,
		sampled:  sampled,
		distance: distance,
		score:    score,
		source:   source,
	}, nil
}

// selectBest applies the floor-then-shortest rule. Preferences reorder
// acceptable candidates within preferenceSlack of the shortest one.
func selectBest(candidates []*candidate, policy Policy, opts Options) (*candidate, string) {
	var acceptable []*candidate
	for _, c := range candidates {
		if c.acceptable(policy) {
			acceptable = append(acceptable, c)
		}
	}

	if len(acceptable) == 0 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.score.OverallScore > best.score.OverallScore {
				best = c
			}
		}
		return best, "best_effort"
	}

	shortest := slices.MinFunc(acceptable, func(a, b *candidate) int {
		return cmp.Compare(a.distance, b.distance)
	})
	if !opts.PreferCCTV && !opts.PreferPolice && !opts.PreferPopulated {
		return shortest, "optimized"
	}

	best, bestPref := shortest, preference(shortest, opts)
	for _, c := range acceptable {
		if c.distance > shortest.distance*(1+preferenceSlack) {
			continue
		}
		if pref := preference(c, opts); pref > bestPref {
			best, bestPref = c, pref
		}
	}
	return best, "optimized"
}

// preference is the mean of the preferred factors along the path.
func preference(c *candidate, opts Options) float64 {
	var total float64
	for _, s := range c.score.SegmentScores {
		if opts.PreferCCTV || opts.PreferPolice {
			total += s.Factors.ProximityToHelp
		}
		if opts.PreferPopulated {
			total += s.Factors.Footfall
		}
	}
	return total / float64(len(c.score.SegmentScores))
}

func (p *Planner) toRoute(c *candidate, origin, destination geo.Coordinate, opts Options) OptimizedRoute {
	waypoints := make([]RoutePoint, len(c.score.SegmentScores))
	for i, s := range c.score.SegmentScores {
		score := s.Score
		waypoints[i] = RoutePoint{Location: s.Location, SafetyScore: &score}
	}

	dangerous := c.score.DangerousSegments
	if dangerous == nil {
		dangerous = []DangerousSegment{}
	}

	return OptimizedRoute{
		ID:                 "rte_" + uuid.NewString(),
		Origin:             RoutePoint{Location: origin},
		Destination:        RoutePoint{Location: destination},
		Waypoints:          waypoints,
		Polyline:           geo.EncodePolyline(c.path, polyline.Precision5),
		OverallSafetyScore: c.score.OverallScore,
		DistanceMeters:     c.distance,
		DurationSeconds:    opts.TransportMode.Duration(c.distance).Seconds(),
		DangerousSegments:  dangerous,
		Source:             c.source,
		MeetsSafetyFloor:   c.acceptable(opts.Policy()),
		ComputedAt:         p.cfg.Now().UTC(),
	}
}

// directFallback is the straight origin->destination path with a single
// flagged segment.
func (p *Planner) directFallback(origin, destination geo.Coordinate, opts Options) OptimizedRoute {
	distance := geo.Distance(origin, destination)
	neutral := float64(safety.DefaultResult(p.cfg.Now()).Overall)
	path := []geo.Coordinate{origin, destination}

	return OptimizedRoute{
		ID:          "rte_" + uuid.NewString(),
		Origin:      RoutePoint{Location: origin},
		Destination: RoutePoint{Location: destination},
		Waypoints: []RoutePoint{
			{Location: origin},
			{Location: destination},
		},
		Polyline:           geo.EncodePolyline(path, polyline.Precision5),
		OverallSafetyScore: neutral,
		DistanceMeters:     distance,
		DurationSeconds:    opts.TransportMode.Duration(distance).Seconds(),
		DangerousSegments: []DangerousSegment{{
			Start:       origin,
			End:         destination,
			StartIndex:  0,
			EndIndex:    1,
			SafetyScore: neutral,
			Reason:      FallbackReason,
		}},
		Source:     SourceDirect,
		Fallback:   true,
		ComputedAt: p.cfg.Now().UTC(),
	}
}
