package planner

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

// Policy thresholds for the avoidance toggles.
const (
	lowLightThreshold   = 40
	darkSpotThreshold   = 25
	highCrimeThreshold  = 40
	defaultFloor        = 50
	defaultScoreWorkers = 8
)

// PointScorer scores a single location. *scoring.Engine implements it.
type PointScorer interface {
	Score(ctx context.Context, c geo.Coordinate, sctx safety.Context) (safety.Result, error)
}

// Policy decides which waypoints are dangerous and how a route aggregates.
type Policy struct {
	Floor float64
	// WorstCaseBias averages the mean with the minimum waypoint score.
	WorstCaseBias bool

	AvoidDarkSpots bool
	AvoidLowLight  bool
	AvoidHighCrime bool
}

// DefaultPolicy is a floor of 50 with a plain mean.
func DefaultPolicy() Policy {
	return Policy{Floor: defaultFloor}
}

// violation returns a reason when the waypoint breaks the policy.
func (p Policy) violation(s SegmentScore) (string, bool) {
	if s.Score < p.Floor {
		return DangerReason(s.Score), true
	}
	switch {
	case p.AvoidDarkSpots && s.Factors.Lighting < darkSpotThreshold:
		return "dark spot", true
	case p.AvoidLowLight && s.Factors.Lighting < lowLightThreshold:
		return "poorly lit", true
	case p.AvoidHighCrime && s.Factors.Hazards < highCrimeThreshold:
		return "recent incidents reported", true
	}
	return "", false
}

// DangerReason maps a score onto its reason band.
func DangerReason(score float64) string {
	switch {
	case score < 20:
		return "extremely dangerous"
	case score < 30:
		return "very unsafe"
	case score < 40:
		return "unsafe"
	default:
		return "moderately unsafe"
	}
}

// SegmentScore is the score of one waypoint.
type SegmentScore struct {
	Location   geo.Coordinate
	Score      float64
	Factors    safety.Factors
	Confidence float64
}

// RouteScore is the assessment of a whole path.
type RouteScore struct {
	OverallScore      float64
	SegmentScores     []SegmentScore
	DangerousSegments []DangerousSegment
}

// RouteScorer scores every waypoint of a path through a PointScorer.
type RouteScorer struct {
	scorer  PointScorer
	workers int
}

// NewRouteScorer creates a scorer running at most workers lookups at once
// (default: 8).
func NewRouteScorer(scorer PointScorer, workers int) *RouteScorer {
	if workers <= 0 {
		workers = defaultScoreWorkers
	}
	return &RouteScorer{scorer: scorer, workers: workers}
}

// ScoreRoute scores waypoints concurrently and derives the aggregate and the
// dangerous segments. It fails only when a waypoint is invalid.
func (rs *RouteScorer) ScoreRoute(ctx context.Context, waypoints []geo.Coordinate, sctx safety.Context, p Policy) (RouteScore, error) {
	if len(waypoints) == 0 {
		return RouteScore{}, fmt.Errorf("%w: route has no waypoints", geo.ErrInvalidCoordinate)
	}

	segments := make([]SegmentScore, len(waypoints))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rs.workers)
	for i, c := range waypoints {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("waypoint %d: scorer panic: %v", i, r)
				}
			}()
			r, err := rs.scorer.Score(gctx, c, sctx)
			if err != nil {
				return fmt.Errorf("waypoint %d: %w", i, err)
			}
			segments[i] = SegmentScore{
				Location:   c,
				Score:      float64(r.Overall),
				Factors:    r.Factors,
				Confidence: r.Confidence,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RouteScore{}, err
	}

	return RouteScore{
		OverallScore:      aggregate(segments, p.WorstCaseBias),
		SegmentScores:     segments,
		DangerousSegments: dangerousSegments(segments, p),
	}, nil
}

func aggregate(segments []SegmentScore, worstCaseBias bool) float64 {
	sum, lowest := 0.0, math.Inf(1)
	for _, s := range segments {
		sum += s.Score
		lowest = math.Min(lowest, s.Score)
	}
	mean := sum / float64(len(segments))
	if worstCaseBias {
		return safety.Clamp(0.5*mean + 0.5*lowest)
	}
	return safety.Clamp(mean)
}

// dangerousSegments groups consecutive policy violations. Each run reports
// its worst score; the reason follows the worst waypoint.
func dangerousSegments(segments []SegmentScore, p Policy) []DangerousSegment {
	var (
		out  []DangerousSegment
		open *DangerousSegment
	)
	for i, s := range segments {
		reason, bad := p.violation(s)
		if !bad {
			if open != nil {
				out = append(out, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &DangerousSegment{
				Start:       s.Location,
				StartIndex:  i,
				SafetyScore: s.Score,
				Reason:      reason,
			}
		}
		open.End = s.Location
		open.EndIndex = i
		if s.Score < open.SafetyScore {
			open.SafetyScore = s.Score
			open.Reason = reason
		}
	}
	if open != nil {
		out = append(out, *open)
	}
	return out
}
