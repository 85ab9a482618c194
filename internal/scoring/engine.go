// Package scoring combines the four signal adapters into a single safety
// score per location, with result caching and batch evaluation.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saferoute/saferoute/internal/cache"
	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/signal"
	"github.com/saferoute/saferoute/internal/telemetry"
)

// cacheKeyVersion is bumped whenever the cached Result layout changes.
const cacheKeyVersion = "v1"

var (
	// ErrEmptyBatch is returned when a batch request has no points.
	ErrEmptyBatch = errors.New("batch contains no points")

	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch exceeds maximum size")
)

// EngineConfig configures the score engine.
type EngineConfig struct {
	// Adapters for each factor. A nil adapter always falls back.
	Lighting  signal.Adapter
	Footfall  signal.Adapter
	Hazards   signal.Adapter
	Proximity signal.Adapter

	// Cache stores full results keyed by rounded location and context.
	// Defaults to cache.Noop.
	Cache cache.Cache

	// CacheTTL (default: 5 minutes).
	CacheTTL time.Duration

	// AdapterTimeout bounds each adapter (default: 3 seconds).
	AdapterTimeout time.Duration

	// MaxBatchSize (default: 50).
	MaxBatchSize int

	// BatchConcurrency limits concurrent points in a batch (default: 10).
	BatchConcurrency int

	Metrics *telemetry.SafetyMetrics
	Tracer  trace.Tracer
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Engine computes safety scores. It is safe for concurrent use.
type Engine struct {
	adapters         []signal.Adapter
	cache            cache.Cache
	cacheTTL         time.Duration
	adapterTimeout   time.Duration
	maxBatchSize     int
	batchConcurrency int
	metrics          *telemetry.SafetyMetrics
	tracer           trace.Tracer
	logger           zerolog.Logger
	now              func() time.Time

	group singleflight.Group
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		cache:            cfg.Cache,
		cacheTTL:         cfg.CacheTTL,
		adapterTimeout:   cfg.AdapterTimeout,
		maxBatchSize:     cfg.MaxBatchSize,
		batchConcurrency: cfg.BatchConcurrency,
		metrics:          cfg.Metrics,
		tracer:           cfg.Tracer,
		logger:           cfg.Logger,
		now:              cfg.Now,
	}
	if e.cache == nil {
		e.cache = cache.Noop{}
	}
	if e.cacheTTL <= 0 {
		e.cacheTTL = 5 * time.Minute
	}
	if e.adapterTimeout <= 0 {
		e.adapterTimeout = 3 * time.Second
	}
	if e.maxBatchSize <= 0 {
		e.maxBatchSize = 50
	}
	if e.batchConcurrency <= 0 {
		e.batchConcurrency = 10
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/saferoute/saferoute/internal/scoring")
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.adapters = []signal.Adapter{
		orMissing(cfg.Lighting, safety.FactorLighting),
		orMissing(cfg.Footfall, safety.FactorFootfall),
		orMissing(cfg.Hazards, safety.FactorHazards),
		orMissing(cfg.Proximity, safety.FactorProximity),
	}
	return e
}

// MaxBatchSize reports the configured batch limit.
func (e *Engine) MaxBatchSize() int {
	return e.maxBatchSize
}

// Score computes the safety score of c under sctx. It only fails on invalid
// input; every internal failure yields a degraded default result.
func (e *Engine) Score(ctx context.Context, c geo.Coordinate, sctx safety.Context) (safety.Result, error) {
	if err := c.Validate(); err != nil {
		return safety.Result{}, err
	}
	if err := sctx.Validate(); err != nil {
		return safety.Result{}, err
	}
	sctx = sctx.WithDefaults()

	ctx, span := e.tracer.Start(ctx, "scoring.Score", trace.WithAttributes(
		attribute.Float64("location.lat", c.Lat),
		attribute.Float64("location.lon", c.Lon),
		attribute.String("context.time_of_day", string(sctx.TimeOfDay)),
		attribute.String("context.user_type", string(sctx.UserType)),
	))
	defer span.End()

	result := e.score(ctx, c, sctx)

	span.SetAttributes(
		attribute.Int("score.overall", result.Overall),
		attribute.Float64("score.confidence", result.Confidence),
		attribute.Bool("score.degraded", result.Degraded),
	)
	e.metrics.RecordScore(ctx, result.Overall, result.Confidence)
	return result, nil
}

func (e *Engine) score(ctx context.Context, c geo.Coordinate, sctx safety.Context) (result safety.Result) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error().
				Interface("panic", p).
				Str("location", c.String()).
				Msg("safety scoring panicked, returning default result")
			trace.SpanFromContext(ctx).SetStatus(codes.Error, fmt.Sprint(p))
			result = safety.DefaultResult(e.now())
		}
	}()

	key := CacheKey(c, sctx)
	if cached, ok := e.lookup(ctx, key); ok {
		return cached
	}

	// The shared computation outlives any single caller. Adapter timeouts
	// bound it.
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (v any, err error) {
		// A panic here would be re-raised where no caller can recover it.
		defer func() {
			if p := recover(); p != nil {
				e.logger.Error().
					Interface("panic", p).
					Str("location", c.String()).
					Msg("shared safety scoring panicked, returning default result")
				v = safety.DefaultResult(e.now())
			}
		}()
		r := e.compute(shared, c, sctx)
		if !r.Degraded {
			e.store(shared, key, r)
		}
		return r, nil
	})

	select {
	case res := <-ch:
		return res.Val.(safety.Result)
	case <-ctx.Done():
		return safety.DefaultResult(e.now())
	}
}

// compute runs every adapter concurrently and aggregates the readings.
func (e *Engine) compute(ctx context.Context, c geo.Coordinate, sctx safety.Context) safety.Result {
	readings := make([]signal.Reading, len(e.adapters))

	var wg sync.WaitGroup
	for i, a := range e.adapters {
		wg.Add(1)
		go func(i int, a signal.Adapter) {
			defer wg.Done()
			readings[i] = signal.Evaluate(ctx, a, c, sctx, e.adapterTimeout)
		}(i, a)
	}
	wg.Wait()

	var (
		fs       safety.Factors
		fallback = make(map[safety.Factor]bool, len(readings))
		details  = make([]safety.FactorDetail, 0, len(readings))
		degraded bool
	)
	for _, r := range readings {
		fs.Set(r.Factor, r.Score)
		fallback[r.Factor] = r.Fallback
		details = append(details, r.Detail())
		e.metrics.RecordAdapter(ctx, string(r.Factor), r.Elapsed, r.Fallback)

		if r.Fallback {
			degraded = true
			e.logger.Warn().
				Err(r.Err).
				Str("factor", string(r.Factor)).
				Str("location", c.String()).
				Dur("elapsed", r.Elapsed).
				Float64("default", r.Score).
				Msg("signal adapter failed, using default")
		}
	}

	result := safety.Aggregate(fs, fallback)
	result.Details = details
	result.Recommendations = safety.RecommendationsFor(result.Factors, sctx)
	result.Degraded = degraded
	result.ComputedAt = e.now().UTC()

	e.logger.Debug().
		Str("location", c.String()).
		Int("overall", result.Overall).
		Float64("confidence", result.Confidence).
		Float64("lighting", result.Factors.Lighting).
		Float64("footfall", result.Factors.Footfall).
		Float64("hazards", result.Factors.Hazards).
		Float64("proximity", result.Factors.ProximityToHelp).
		Msg("computed safety score")

	return result
}

func (e *Engine) lookup(ctx context.Context, key string) (safety.Result, bool) {
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn().Err(err).Str("key", key).Msg("score cache read failed")
		}
		e.metrics.RecordCacheLookup(ctx, false)
		return safety.Result{}, false
	}

	var r safety.Result
	if err := json.Unmarshal(data, &r); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cached score")
		e.metrics.RecordCacheLookup(ctx, false)
		return safety.Result{}, false
	}

	e.metrics.RecordCacheLookup(ctx, true)
	return r, true
}

func (e *Engine) store(ctx context.Context, key string, r safety.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		e.logger.Warn().Err(err).Msg("encode score for cache")
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("score cache write failed")
	}
}

// CacheKey identifies a score by location rounded to three decimals
// (about 110 m) and the full context.
func CacheKey(c geo.Coordinate, sctx safety.Context) string {
	sctx = sctx.WithDefaults()
	r := c.Round(3)
	return fmt.Sprintf("safety:%s:%.3f:%.3f:%s:%s:%s",
		cacheKeyVersion, r.Lat, r.Lon, sctx.TimeOfDay, sctx.UserType, sctx.Weather)
}

// BatchItem is the outcome for one point of a batch, aligned by Index.
type BatchItem struct {
	Index  int
	Result safety.Result
	Err    error
}

// BatchScore scores every point concurrently. Results are index-aligned with
// points and a failure on one point never affects the others.
func (e *Engine) BatchScore(ctx context.Context, points []geo.Coordinate, sctx safety.Context) ([]BatchItem, error) {
	if len(points) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(points) > e.maxBatchSize {
		return nil, fmt.Errorf("%w: %d points, limit %d", ErrBatchTooLarge, len(points), e.maxBatchSize)
	}
	if err := sctx.Validate(); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "scoring.BatchScore", trace.WithAttributes(
		attribute.Int("batch.size", len(points)),
	))
	defer span.End()

	items := make([]BatchItem, len(points))
	g := new(errgroup.Group)
	g.SetLimit(e.batchConcurrency)
	for i, p := range points {
		g.Go(func() error {
			r, err := e.Score(ctx, p, sctx)
			items[i] = BatchItem{Index: i, Result: r, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items, nil
}

// missing stands in for an unconfigured adapter.
type missing struct {
	factor safety.Factor
}

func orMissing(a signal.Adapter, f safety.Factor) signal.Adapter {
	if a == nil {
		return missing{factor: f}
	}
	return a
}

func (m missing) Factor() safety.Factor { return m.factor }

func (m missing) Compute(context.Context, geo.Coordinate, safety.Context) (signal.Measurement, error) {
	return signal.Measurement{}, signal.ErrSourceUnavailable
}
