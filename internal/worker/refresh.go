package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/spatial"
)

// Scorer computes a safety score. *scoring.Engine satisfies it.
type Scorer interface {
	Score(ctx context.Context, c geo.Coordinate, sctx safety.Context) (safety.Result, error)
}

// WeatherSource reports the current condition at a location.
type WeatherSource interface {
	Condition(ctx context.Context, c geo.Coordinate) safety.Weather
}

// SnapshotSink stores computed scores. Both spatial stores satisfy it.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap spatial.Snapshot) error
}

// RefreshJob scores the configured hotspots so the engine cache stays warm.
type RefreshJob struct {
	config  RefreshConfig
	scorer  Scorer
	weather WeatherSource
	sink    SnapshotSink
	logger  zerolog.Logger
	now     func() time.Time

	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRuns      int64
	ScoredPoints   int64
	FailedPoints   int64
	DegradedScores int64
	SnapshotsSaved int64
	SnapshotErrors int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
	TotalDuration   time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config RefreshConfig
	Scorer Scorer
	// Weather is optional; without it every score uses clear weather.
	Weather WeatherSource
	// Sink is optional; snapshots are only stored when set and
	// Config.PersistSnapshots is true.
	Sink   SnapshotSink
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewRefreshJob creates a new refresh job processor.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	config := cfg.Config
	if len(config.Targets) == 0 {
		config = DefaultRefreshConfig()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RefreshJob{
		config:  config.withDefaults(),
		scorer:  cfg.Scorer,
		weather: cfg.Weather,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		now:     now,
		metrics: &RefreshMetrics{},
	}
}

// RefreshResult contains the result of a refresh operation.
type RefreshResult struct {
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	TotalPoints int
	Successful  int
	Failed      int
	// Degraded counts scores where at least one signal fell back to its
	// default. Degraded scores are not cached by the engine.
	Degraded       int
	SnapshotsSaved int
	Errors         []RefreshError
}

// RefreshError represents an error during refresh.
type RefreshError struct {
	Point     geo.Coordinate
	TimeOfDay safety.TimeOfDay
	Error     string
}

// Run scores every configured point for every configured context.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	startTime := j.now()
	result := &RefreshResult{
		StartTime:   startTime,
		TotalPoints: j.config.TotalPoints(),
	}

	j.logger.Info().
		Int("total_points", result.TotalPoints).
		Int("contexts", len(j.config.Contexts())).
		Int("concurrency", j.config.Concurrency).
		Msg("starting score refresh job")

	points := j.config.AllPoints()

	pointsChan := make(chan geo.Coordinate, len(points))
	resultsChan := make(chan pointResult, len(points))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.refreshWorker(ctx, pointsChan, resultsChan)
		}()
	}

	for _, p := range points {
		pointsChan <- p
	}
	close(pointsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for pr := range resultsChan {
		if pr.success {
			result.Successful++
		} else {
			result.Failed++
		}
		result.Degraded += pr.degraded
		result.SnapshotsSaved += pr.saved
		result.Errors = append(result.Errors, pr.errors...)
	}

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("degraded", result.Degraded).
		Int("snapshots", result.SnapshotsSaved).
		Msg("score refresh job completed")

	return result
}

type pointResult struct {
	success  bool
	degraded int
	saved    int
	errors   []RefreshError
}

func (j *RefreshJob) refreshWorker(ctx context.Context, points <-chan geo.Coordinate, results chan<- pointResult) {
	for point := range points {
		select {
		case <-ctx.Done():
			results <- pointResult{errors: []RefreshError{{Point: point, Error: ctx.Err().Error()}}}
		default:
			results <- j.refreshPoint(ctx, point)
		}
	}
}

func (j *RefreshJob) refreshPoint(ctx context.Context, point geo.Coordinate) pointResult {
	result := pointResult{success: true}

	pointCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	weather := safety.WeatherClear
	if j.weather != nil {
		weather = j.weather.Condition(pointCtx, point)
	}

	for _, sctx := range j.config.Contexts() {
		sctx.Weather = weather

		r, err := j.scorer.Score(pointCtx, point, sctx)
		if err != nil {
			result.success = false
			result.errors = append(result.errors, RefreshError{
				Point:     point,
				TimeOfDay: sctx.TimeOfDay,
				Error:     err.Error(),
			})
			continue
		}

		if r.Degraded {
			result.success = false
			result.degraded++
			result.errors = append(result.errors, RefreshError{
				Point:     point,
				TimeOfDay: sctx.TimeOfDay,
				Error:     "degraded: " + fallbackFactors(r),
			})
			continue
		}

		if j.config.PersistSnapshots && j.sink != nil {
			if j.saveSnapshot(pointCtx, point, sctx, r) {
				result.saved++
			}
		}
	}

	return result
}

func (j *RefreshJob) saveSnapshot(ctx context.Context, point geo.Coordinate, sctx safety.Context, r safety.Result) bool {
	err := j.sink.SaveSnapshot(ctx, spatial.Snapshot{
		Location:   point,
		Context:    sctx.WithDefaults(),
		Result:     r,
		ComputedAt: r.ComputedAt,
	})
	if err != nil {
		j.metrics.mu.Lock()
		j.metrics.SnapshotErrors++
		j.metrics.mu.Unlock()

		j.logger.Warn().
			Err(err).
			Str("location", point.String()).
			Str("time_of_day", string(sctx.TimeOfDay)).
			Msg("failed to save score snapshot")
		return false
	}
	return true
}

// fallbackFactors lists the factors that used their default value.
func fallbackFactors(r safety.Result) string {
	var names []string
	for _, d := range r.Details {
		if d.Fallback {
			names = append(names, string(d.Factor))
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, ", ")
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRuns++
	j.metrics.ScoredPoints += int64(result.Successful)
	j.metrics.FailedPoints += int64(result.Failed)
	j.metrics.DegradedScores += int64(result.Degraded)
	j.metrics.SnapshotsSaved += int64(result.SnapshotsSaved)
	j.metrics.LastRunAt = result.EndTime
	j.metrics.LastRunDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRuns:       j.metrics.TotalRuns,
		ScoredPoints:    j.metrics.ScoredPoints,
		FailedPoints:    j.metrics.FailedPoints,
		DegradedScores:  j.metrics.DegradedScores,
		SnapshotsSaved:  j.metrics.SnapshotsSaved,
		SnapshotErrors:  j.metrics.SnapshotErrors,
		LastRunAt:       j.metrics.LastRunAt,
		LastRunDuration: j.metrics.LastRunDuration,
		TotalDuration:   j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns the current metrics as a map for JSON output.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_runs":        m.TotalRuns,
		"scored_points":     m.ScoredPoints,
		"failed_points":     m.FailedPoints,
		"degraded_scores":   m.DegradedScores,
		"snapshots_saved":   m.SnapshotsSaved,
		"snapshot_errors":   m.SnapshotErrors,
		"last_run_at":       m.LastRunAt,
		"last_run_duration": m.LastRunDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}

// Summary is a one-line description of a result.
func (r *RefreshResult) Summary() string {
	return fmt.Sprintf("%d/%d points refreshed, %d degraded scores, %d snapshots in %s",
		r.Successful, r.TotalPoints, r.Degraded, r.SnapshotsSaved, r.Duration)
}
