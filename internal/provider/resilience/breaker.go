// Package resilience wraps calls to external data providers (routing, weather,
// satellite imagery, OpenStreetMap) with timeouts, retries and circuit breakers,
// and tracks their health for the ops status endpoint.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures a provider circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open. Default: 1
	MaxRequests uint32

	// Interval clears counts while closed. Default: 0 (never)
	Interval time.Duration

	// OpenFor is how long the breaker stays open before probing. Default: 30s
	OpenFor time.Duration

	// MinRequests and FailureRatio define the trip condition.
	// Defaults: 5 requests, 0.5
	MinRequests  uint32
	FailureRatio float64

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig trips after 5 requests with half of them failing and
// probes again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		OpenFor:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.MaxRequests == 0 {
		c.MaxRequests = d.MaxRequests
	}
	if c.OpenFor == 0 {
		c.OpenFor = d.OpenFor
	}
	if c.MinRequests == 0 {
		c.MinRequests = d.MinRequests
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = d.FailureRatio
	}
	return c
}

// shouldTrip reports whether counts meet the trip condition.
func (c BreakerConfig) shouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func newBreaker[T any](name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.OpenFor,
		ReadyToTrip:   cfg.shouldTrip,
		OnStateChange: cfg.OnStateChange,
	})
}
