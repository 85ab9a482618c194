// Package app assembles the scoring and planning services shared by the API
// server and the worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/cache"
	"github.com/saferoute/saferoute/internal/config"
	"github.com/saferoute/saferoute/internal/database"
	"github.com/saferoute/saferoute/internal/planner"
	"github.com/saferoute/saferoute/internal/provider/resilience"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/routing/openrouteservice"
	"github.com/saferoute/saferoute/internal/routing/osrm"
	"github.com/saferoute/saferoute/internal/scoring"
	"github.com/saferoute/saferoute/internal/signal"
	"github.com/saferoute/saferoute/internal/signal/overpass"
	"github.com/saferoute/saferoute/internal/signal/viirs"
	"github.com/saferoute/saferoute/internal/spatial"
	"github.com/saferoute/saferoute/internal/telemetry"
	"github.com/saferoute/saferoute/internal/weather"
	"github.com/saferoute/saferoute/internal/weather/openmeteo"
)

// Store is the spatial data the signal adapters read and the snapshot sink
// the worker writes. Both spatial stores implement it.
type Store interface {
	signal.FacilitySource
	signal.CrowdReportSource
	signal.HazardSource
	signal.ActivitySource
	signal.POICounter
	SaveSnapshot(ctx context.Context, snap spatial.Snapshot) error
}

// Services are the assembled components.
type Services struct {
	Engine  *scoring.Engine
	Planner *planner.Planner
	Routing *routing.Service

	// Weather is nil when weather lookups are disabled.
	Weather *weather.Service

	Store Store
	// Postgres is nil when the in-memory store is used.
	Postgres *spatial.PostgresStore

	Providers *resilience.Registry
	Metrics   *telemetry.SafetyMetrics

	closers []func()
}

// Build connects storage and providers and assembles the engine and planner.
// Call Close when done.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Services, error) {
	s := &Services{Providers: resilience.NewRegistry()}

	metrics, err := telemetry.NewSafetyMetrics(telemetry.Meter("saferoute"))
	if err != nil {
		return nil, fmt.Errorf("safety metrics: %w", err)
	}
	s.Metrics = metrics

	if err := s.openStore(ctx, cfg, log); err != nil {
		s.Close()
		return nil, err
	}

	scoreCache, err := s.openCache(cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	lighting, footfall, hazards, proximity := s.adapters(cfg, log)
	s.Engine = scoring.NewEngine(scoring.EngineConfig{
		Lighting:       lighting,
		Footfall:       footfall,
		Hazards:        hazards,
		Proximity:      proximity,
		Cache:          scoreCache,
		CacheTTL:       cfg.CacheTTL,
		AdapterTimeout: cfg.AdapterTimeout,
		MaxBatchSize:   cfg.MaxBatchSize,
		Metrics:        metrics,
		Tracer:         telemetry.Tracer("saferoute/scoring"),
		Logger:         log.With().Str("component", "scoring").Logger(),
	})

	s.Routing = routing.NewService(routing.ServiceConfig{
		Providers: s.routingProviders(cfg, log),
		Logger:    log.With().Str("component", "routing").Logger(),
	})

	s.Planner = planner.New(planner.Config{
		Router:  s.Routing,
		Scorer:  s.Engine,
		Metrics: metrics,
		Tracer:  telemetry.Tracer("saferoute/planner"),
		Logger:  log.With().Str("component", "planner").Logger(),
	})

	if cfg.WeatherEnabled {
		s.Weather = weather.NewService(weather.ServiceConfig{
			Provider: openmeteo.NewClient(openmeteo.ClientConfig{
				BaseURL:  cfg.WeatherBaseURL,
				Registry: s.Providers,
				Logger:   log,
			}),
			Logger: log.With().Str("component", "weather").Logger(),
		})
	}

	return s, nil
}

// Close releases storage in reverse order of opening.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *Services) openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if !cfg.DatabaseEnabled {
		log.Warn().Msg("no database configured, using in-memory spatial store")
		s.Store = spatial.NewMemoryStore()
		return nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	store := spatial.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate spatial schema: %w", err)
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("database connected")

	s.Store = store
	s.Postgres = store
	return nil
}

func (s *Services) openCache(cfg *config.Config, log zerolog.Logger) (cache.Cache, error) {
	if cfg.CacheDir == "" {
		return cache.NewMemory(cache.MemoryConfig{}), nil
	}

	b, err := cache.OpenBadger(cache.BadgerConfig{
		Dir:        cfg.CacheDir,
		GCInterval: 10 * time.Minute,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("open score cache: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close score cache")
		}
	})

	log.Info().Str("dir", cfg.CacheDir).Msg("score cache opened")
	return b, nil
}

func (s *Services) adapters(cfg *config.Config, log zerolog.Logger) (lighting, footfall, hazards, proximity signal.Adapter) {
	var satellite signal.BrightnessSource
	if cfg.SatelliteEnabled {
		satellite = viirs.NewClient(viirs.ClientConfig{
			BaseURL:  cfg.GIBSBaseURL,
			Registry: s.Providers,
			Logger:   log,
		})
	}

	var pois signal.POICounter = s.Store
	if cfg.OverpassEnabled {
		pois = overpass.NewClient(overpass.ClientConfig{
			BaseURL:  cfg.OverpassBaseURL,
			Registry: s.Providers,
			Logger:   log,
		})
	}

	lighting = signal.NewLighting(signal.LightingConfig{
		Satellite:  satellite,
		Facilities: s.Store,
		Crowd:      s.Store,
	})
	footfall = signal.NewFootfall(signal.FootfallConfig{
		POIs:     pois,
		Activity: s.Store,
	})
	hazards = signal.NewHazards(signal.HazardConfig{
		Reports: s.Store,
	})
	proximity = signal.NewProximity(signal.ProximityConfig{
		Facilities: s.Store,
	})
	return lighting, footfall, hazards, proximity
}

func (s *Services) routingProviders(cfg *config.Config, log zerolog.Logger) []routing.Provider {
	providers := []routing.Provider{
		osrm.NewClient(osrm.ClientConfig{
			BaseURL:  cfg.OSRMBaseURL,
			Registry: s.Providers,
			Logger:   log,
		}),
	}
	if cfg.ORSAPIKey != "" {
		providers = append(providers, openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:   cfg.ORSAPIKey,
			BaseURL:  cfg.ORSBaseURL,
			Registry: s.Providers,
			Logger:   log,
		}))
	}
	return providers
}

