package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
	"github.com/saferoute/saferoute/internal/spatial"
	"github.com/saferoute/saferoute/internal/worker"
)

func TestDispatcher_Handle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ack     bool
		calls   int
	}{
		{name: "score refresh", payload: `{"job_type":"score_refresh"}`, ack: true, calls: 8},
		{name: "single period", payload: `{"job_type":"score_refresh","time_of_day":"night"}`, ack: true, calls: 2},
		{name: "invalid period", payload: `{"job_type":"score_refresh","time_of_day":"dusk"}`, ack: false, calls: 0},
		{name: "health check", payload: `{"job_type":"health_check"}`, ack: true, calls: 1},
		{name: "unknown job is dropped", payload: `{"job_type":"provider_refresh"}`, ack: true, calls: 0},
		{name: "malformed payload is retried", payload: `{`, ack: false, calls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fakeScorer{}
			d := worker.NewDispatcher(newJob(twoPointConfig(), scorer, nil), zerolog.Nop())

			assert.Equal(t, tt.ack, d.Handle(context.Background(), []byte(tt.payload)))
			assert.Len(t, scorer.Calls(), tt.calls)
		})
	}
}

func TestDispatcher_ScoreRefresh_SkipSnapshots(t *testing.T) {
	store := spatial.NewMemoryStore()
	d := worker.NewDispatcher(newJob(twoPointConfig(), &fakeScorer{}, store), zerolog.Nop())

	require.NoError(t, d.ScoreRefresh(context.Background(), worker.RefreshMessage{
		JobType:       worker.JobScoreRefresh,
		SkipSnapshots: true,
	}))
	assert.Empty(t, store.Snapshots())

	require.NoError(t, d.ScoreRefresh(context.Background(), worker.RefreshMessage{JobType: worker.JobScoreRefresh}))
	assert.Len(t, store.Snapshots(), 8)
}

func TestDispatcher_ScoreRefresh_MostlyFailing(t *testing.T) {
	scorer := &fakeScorer{
		score: func(geo.Coordinate, safety.Context) (safety.Result, error) {
			return safety.Result{}, errors.New("boom")
		},
	}
	d := worker.NewDispatcher(newJob(twoPointConfig(), scorer, nil), zerolog.Nop())

	err := d.ScoreRefresh(context.Background(), worker.RefreshMessage{JobType: worker.JobScoreRefresh})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many refresh failures")
}

func TestDispatcher_HealthCheck(t *testing.T) {
	t.Run("uses current period", func(t *testing.T) {
		scorer := &fakeScorer{}
		d := worker.NewDispatcher(newJob(twoPointConfig(), scorer, nil), zerolog.Nop())

		require.NoError(t, d.HealthCheck(context.Background()))

		calls := scorer.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, safety.TimeOfDayAt(testNow), calls[0].sctx.TimeOfDay)
	})

	t.Run("fails on degraded score", func(t *testing.T) {
		scorer := &fakeScorer{
			score: func(geo.Coordinate, safety.Context) (safety.Result, error) {
				return safety.Result{Overall: 56, Degraded: true, Details: []safety.FactorDetail{
					{Factor: safety.FactorHazards, Fallback: true},
				}}, nil
			},
		}
		d := worker.NewDispatcher(newJob(twoPointConfig(), scorer, nil), zerolog.Nop())

		err := d.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hazards")
	})
}
