package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ServiceConfig holds configuration for the routing service.
type ServiceConfig struct {
	// Providers are tried in order. A provider is skipped when it does not
	// support the requested profile or fails with a retryable error.
	Providers []Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache routing data (default: 5 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.001 ~ 110m).
	// Points within the same grid cell share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration

	// CleanupInterval is how often to clean up expired entries (default: 5 minutes).
	CleanupInterval time.Duration

	Now func() time.Time
}

// Service provides routing data with provider failover and caching.
type Service struct {
	providers       []Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	group       singleflight.Group
	mu          sync.RWMutex
	cache       map[string]*cachedDirections
	lastCleanup time.Time
}

type cachedDirections struct {
	response  *DirectionsResponse
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new routing service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		providers:       cfg.Providers,
		logger:          cfg.Logger,
		cacheTTL:        cfg.CacheTTL,
		cacheGridSize:   cfg.CacheGridSize,
		staleIfErrorTTL: cfg.StaleIfErrorTTL,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		cache:           make(map[string]*cachedDirections),
	}
	if s.cacheTTL == 0 {
		s.cacheTTL = 5 * time.Minute
	}
	if s.cacheGridSize == 0 {
		s.cacheGridSize = 0.001
	}
	if s.staleIfErrorTTL == 0 {
		s.staleIfErrorTTL = 15 * time.Minute
	}
	if s.cleanupInterval == 0 {
		s.cleanupInterval = 5 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GetDirections returns route directions between two points.
// Uses cached data if available and not expired.
func (s *Service) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, InvalidRequest("service", req)
	}
	if req.Profile == "" {
		req.Profile = ProfileWalk
	}
	if !req.Profile.Valid() {
		return nil, &Error{
			Provider: "service",
			Code:     "INVALID_PROFILE",
			Message:  fmt.Sprintf("unknown profile %q", req.Profile),
			Err:      ErrUnsupportedProfile,
		}
	}

	cacheKey := s.cacheKey(req)

	s.mu.RLock()
	if cached, ok := s.cache[cacheKey]; ok && s.now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		s.logger.Debug().
			Str("cache_key", cacheKey).
			Msg("cache hit for directions")
		return cached.response, nil
	}
	s.mu.RUnlock()

	return s.fetchDirections(ctx, req, cacheKey)
}

// fetchDirections fetches directions from the providers and updates cache.
// Concurrent misses on one key share a single provider call, and mu is only
// held around the cache map.
func (s *Service) fetchDirections(ctx context.Context, req DirectionsRequest, cacheKey string) (*DirectionsResponse, error) {
	// Provider timeouts bound the shared call, so one caller going away
	// does not fail the others.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(cacheKey, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if cached, ok := s.fresh(cacheKey); ok {
			return cached, nil
		}
		return s.refresh(shared, req, cacheKey)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DirectionsResponse), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fresh(cacheKey string) (*DirectionsResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cached, ok := s.cache[cacheKey]; ok && s.now().Before(cached.expiresAt) {
		return cached.response, true
	}
	return nil, false
}

func (s *Service) refresh(ctx context.Context, req DirectionsRequest, cacheKey string) (*DirectionsResponse, error) {
	resp, err := s.fromProviders(ctx, req)
	if err != nil {
		s.mu.RLock()
		cached, ok := s.cache[cacheKey]
		s.mu.RUnlock()
		if ok && s.now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Err(err).
				Time("fetched_at", cached.fetchedAt).
				Str("cache_key", cacheKey).
				Msg("serving stale directions data due to provider error")
			return cached.response, nil
		}
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	s.cache[cacheKey] = &cachedDirections{
		response:  resp,
		fetchedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}
	s.cleanupIfNeeded()
	s.mu.Unlock()

	s.logger.Debug().
		Str("cache_key", cacheKey).
		Str("provider", resp.Provider).
		Int("route_count", len(resp.Routes)).
		Msg("cached directions response")

	return resp, nil
}

// fromProviders walks the provider list until one answers.
func (s *Service) fromProviders(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	var lastErr error
	for _, p := range s.providers {
		if !slices.Contains(p.SupportedProfiles(), req.Profile) {
			continue
		}

		s.logger.Debug().
			Str("origin", req.Origin.String()).
			Str("destination", req.Destination.String()).
			Str("profile", string(req.Profile)).
			Str("provider", p.Name()).
			Msg("fetching directions from provider")

		resp, err := p.GetDirections(ctx, req)
		if err == nil && len(resp.Routes) == 0 {
			err = &Error{Provider: p.Name(), Code: "NO_ROUTE", Message: "provider returned no routes", Err: ErrNoRouteFound}
		}
		if err == nil {
			return resp, nil
		}

		s.logger.Error().Err(err).
			Str("provider", p.Name()).
			Str("profile", string(req.Profile)).
			Msg("failed to fetch directions")

		lastErr = err
		var rerr *Error
		if errors.As(err, &rerr) && !rerr.IsRetryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, &Error{
			Provider: "service",
			Code:     "NO_PROVIDER",
			Message:  fmt.Sprintf("no provider supports profile %q", req.Profile),
			Err:      ErrUnsupportedProfile,
		}
	}
	return nil, lastErr
}

// cacheKey quantizes both endpoints onto the cache grid.
// Format: {profile}:{alts}:{originLat},{originLon}:{destLat},{destLon}.
func (s *Service) cacheKey(req DirectionsRequest) string {
	cell := func(v float64) int64 { return int64(math.Floor(v / s.cacheGridSize)) }
	return fmt.Sprintf("%s:%d:%d,%d:%d,%d",
		req.Profile, req.MaxAlternatives,
		cell(req.Origin.Lat), cell(req.Origin.Lon),
		cell(req.Destination.Lat), cell(req.Destination.Lon),
	)
}

// cleanupIfNeeded removes entries past the stale window. Caller holds mu.
func (s *Service) cleanupIfNeeded() {
	now := s.now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now

	expired := 0
	for key, cached := range s.cache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}
	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired routing cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedDirections)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := CacheStats{TotalEntries: len(s.cache)}
	for _, c := range s.cache {
		switch {
		case now.Before(c.expiresAt):
			stats.FreshEntries++
		case now.Before(c.fetchedAt.Add(s.staleIfErrorTTL)):
			stats.StaleEntries++
		}
	}
	return stats
}

// ProviderNames lists the configured providers in failover order.
func (s *Service) ProviderNames() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}
