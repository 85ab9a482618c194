package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

// Job types carried in RefreshMessage.JobType.
const (
	JobScoreRefresh = "score_refresh"
	JobHealthCheck  = "health_check"
)

// healthCheckPoint is Chennai Central.
var healthCheckPoint = geo.Coordinate{Lat: 13.0827, Lon: 80.2757}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// RefreshMessage is a worker job message.
type RefreshMessage struct {
	JobType string `json:"job_type"`
	// TimeOfDay limits a score refresh to one period.
	TimeOfDay safety.TimeOfDay `json:"time_of_day,omitempty"`
	// SkipSnapshots warms the cache without storing snapshots.
	SkipSnapshots bool `json:"skip_snapshots,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start blocks processing messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if h.dispatcher.Handle(logger.WithContext(ctx), msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// Dispatcher runs worker jobs from raw message payloads. It is separate
// from the Pub/Sub transport so jobs can be driven by a ticker or tests.
type Dispatcher struct {
	job    *RefreshJob
	logger zerolog.Logger
}

// NewDispatcher returns a dispatcher for job.
func NewDispatcher(job *RefreshJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// Handle decodes and runs one message. It reports whether the message should
// be acknowledged: malformed payloads are retried, unknown job types are not.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) bool {
	start := time.Now()
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &d.logger
	}

	logger.Debug().Msg("received job message")

	var m RefreshMessage
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	var err error
	switch m.JobType {
	case JobScoreRefresh:
		err = d.ScoreRefresh(ctx, m)
	case JobHealthCheck:
		err = d.HealthCheck(ctx)
	default:
		logger.Warn().Str("job_type", m.JobType).Msg("unknown job type")
		return true
	}

	if err != nil {
		logger.Error().Err(err).Str("job_type", m.JobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", m.JobType).
		Dur("duration", time.Since(start)).
		Msg("job completed successfully")
	return true
}

// ScoreRefresh runs the refresh job. It fails when more points failed than
// succeeded.
func (d *Dispatcher) ScoreRefresh(ctx context.Context, m RefreshMessage) error {
	job := d.job
	if m.TimeOfDay != "" || m.SkipSnapshots {
		if err := (safety.Context{TimeOfDay: m.TimeOfDay}).Validate(); err != nil {
			return err
		}
		cfg := job.config
		if m.TimeOfDay != "" {
			cfg.TimesOfDay = []safety.TimeOfDay{m.TimeOfDay}
		}
		if m.SkipSnapshots {
			cfg.PersistSnapshots = false
		}
		job = job.derive(cfg)
	}

	result := job.Run(ctx)
	if result.Failed > result.Successful {
		return fmt.Errorf("too many refresh failures: %s", result.Summary())
	}
	return nil
}

// HealthCheck scores one point for the current period and fails when any
// signal had to fall back.
func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	cfg := RefreshConfig{
		Targets: []RefreshTarget{{
			Name:     "health-check",
			Priority: 1,
			Points:   []geo.Coordinate{healthCheckPoint},
		}},
		TimesOfDay:  []safety.TimeOfDay{safety.TimeOfDayAt(d.job.now())},
		Concurrency: 1,
		Timeout:     10 * time.Second,
	}

	result := d.job.derive(cfg).Run(ctx)
	if result.Failed > 0 {
		msg := "unknown"
		if len(result.Errors) > 0 {
			msg = result.Errors[0].Error
		}
		return fmt.Errorf("health check failed: %s", msg)
	}
	return nil
}

// derive returns a job sharing the scorer, weather, sink and metrics of j
// with a different configuration.
func (j *RefreshJob) derive(cfg RefreshConfig) *RefreshJob {
	c := *j
	c.config = cfg.withDefaults()
	return &c
}
