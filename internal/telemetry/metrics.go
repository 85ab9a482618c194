package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SafetyMetrics are the scoring and planning instruments. A nil
// *SafetyMetrics is valid and records nothing.
type SafetyMetrics struct {
	scores         metric.Float64Histogram
	confidence     metric.Float64Histogram
	fallbacks      metric.Int64Counter
	adapterLatency metric.Float64Histogram
	cacheLookups   metric.Int64Counter
	plans          metric.Int64Counter
	alternatives   metric.Int64Counter
}

// NewSafetyMetrics registers the instruments on meter.
func NewSafetyMetrics(meter metric.Meter) (*SafetyMetrics, error) {
	var (
		m   SafetyMetrics
		err error
	)

	if m.scores, err = meter.Float64Histogram("saferoute.safety.score",
		metric.WithDescription("Overall safety score per computed location"),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90, 100),
	); err != nil {
		return nil, err
	}
	if m.confidence, err = meter.Float64Histogram("saferoute.safety.confidence",
		metric.WithDescription("Share of factors computed from live data"),
		metric.WithExplicitBucketBoundaries(0, 0.25, 0.5, 0.75, 1),
	); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter("saferoute.signal.fallbacks",
		metric.WithDescription("Signal adapter runs that returned the factor default"),
	); err != nil {
		return nil, err
	}
	if m.adapterLatency, err = meter.Float64Histogram("saferoute.signal.duration",
		metric.WithDescription("Signal adapter duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("saferoute.score_cache.lookups",
		metric.WithDescription("Score cache lookups by result"),
	); err != nil {
		return nil, err
	}
	if m.plans, err = meter.Int64Counter("saferoute.planner.plans",
		metric.WithDescription("Route plans by outcome"),
	); err != nil {
		return nil, err
	}
	if m.alternatives, err = meter.Int64Counter("saferoute.planner.alternatives",
		metric.WithDescription("Alternative route candidates by verdict"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordScore records one computed result.
func (m *SafetyMetrics) RecordScore(ctx context.Context, overall int, confidence float64) {
	if m == nil {
		return
	}
	m.scores.Record(ctx, float64(overall))
	m.confidence.Record(ctx, confidence)
}

// RecordAdapter records one adapter run.
func (m *SafetyMetrics) RecordAdapter(ctx context.Context, factor string, elapsed time.Duration, fallback bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("factor", factor))
	m.adapterLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if fallback {
		m.fallbacks.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup records a cache hit or miss.
func (m *SafetyMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordPlan records a finished plan.
func (m *SafetyMetrics) RecordPlan(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.plans.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAlternative records one generated candidate.
func (m *SafetyMetrics) RecordAlternative(ctx context.Context, verdict string) {
	if m == nil {
		return
	}
	m.alternatives.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}
