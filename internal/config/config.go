// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/saferoute/saferoute/internal/database"
)

// Config is shared by cmd/api and cmd/worker.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	// RequireTLS rejects requests that did not arrive over HTTPS.
	RequireTLS bool

	OTelEnabled  bool
	OTLPEndpoint string

	// Database is used only when DatabaseEnabled; otherwise the in-memory
	// spatial store is used.
	DatabaseEnabled bool
	Database        database.Config

	// CacheDir is the Badger directory for the score cache. Empty keeps the
	// cache in memory.
	CacheDir          string
	CacheTTL          time.Duration
	CacheWarmInterval time.Duration

	AdapterTimeout time.Duration
	MaxBatchSize   int

	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	OSRMBaseURL string
	ORSAPIKey   string
	ORSBaseURL  string

	WeatherEnabled bool
	WeatherBaseURL string

	SatelliteEnabled bool
	GIBSBaseURL      string
	OverpassEnabled  bool
	OverpassBaseURL  string

	// Location is the time zone used to derive the time of day.
	Location *time.Location

	PubSubProject      string
	PubSubSubscription string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Env:                getenvDefault("APP_ENV", "development"),
		Port:               getenvDefault("APP_PORT", "8080"),
		LogLevel:           getenvDefault("LOG_LEVEL", "info"),
		OTLPEndpoint:       getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Database:           database.ConfigFromEnv(),
		CacheDir:           os.Getenv("CACHE_DIR"),
		JWTSigningKey:      os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:          getenvDefault("JWT_ISSUER", "https://id.saferoute.in"),
		JWTAudience:        getenvDefault("JWT_AUDIENCE", "saferoute-api"),
		OSRMBaseURL:        os.Getenv("OSRM_BASE_URL"),
		ORSAPIKey:          os.Getenv("ORS_API_KEY"),
		ORSBaseURL:         os.Getenv("ORS_BASE_URL"),
		WeatherBaseURL:     os.Getenv("OPEN_METEO_BASE_URL"),
		GIBSBaseURL:        os.Getenv("GIBS_BASE_URL"),
		OverpassBaseURL:    os.Getenv("OVERPASS_BASE_URL"),
		PubSubProject:      firstNonEmpty(os.Getenv("PUBSUB_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT")),
		PubSubSubscription: getenvDefault("PUBSUB_SUBSCRIPTION", "saferoute-worker"),
	}

	var errs []error

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid APP_PORT: %q", cfg.Port))
	}

	cfg.OTelEnabled = parseBool(os.Getenv("OTEL_ENABLED"))
	cfg.RequireTLS = parseBoolDefault(os.Getenv("REQUIRE_TLS"), cfg.Env == "production")
	cfg.DatabaseEnabled = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("DB_HOST")) != ""
	cfg.WeatherEnabled = parseBoolDefault(os.Getenv("WEATHER_ENABLED"), true)
	cfg.SatelliteEnabled = parseBoolDefault(os.Getenv("SATELLITE_ENABLED"), true)
	cfg.OverpassEnabled = parseBoolDefault(os.Getenv("OVERPASS_ENABLED"), true)

	cfg.CacheTTL = durationVar("CACHE_TTL", 5*time.Minute, &errs)
	cfg.CacheWarmInterval = durationVar("CACHE_WARM_INTERVAL", 0, &errs)
	cfg.AdapterTimeout = durationVar("ADAPTER_TIMEOUT", 3*time.Second, &errs)

	if v := os.Getenv("MAX_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("invalid MAX_BATCH_SIZE: %q", v))
		}
		cfg.MaxBatchSize = n
	} else {
		cfg.MaxBatchSize = 50
	}

	// Time zone
	tzName := getenvDefault("SAFEROUTE_TZ", "Asia/Kolkata")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid SAFEROUTE_TZ: %w", err))
		loc = time.UTC
	}
	cfg.Location = loc

	if cfg.Env == "production" && cfg.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in production"))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// AuthEnabled reports whether bearer tokens are verified.
func (c *Config) AuthEnabled() bool {
	return c.JWTSigningKey != ""
}

func durationVar(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(v string, def bool) bool {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return parseBool(v)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
