// Package overpass counts OpenStreetMap points of interest through the
// Overpass API.
package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/provider/resilience"
)

// DefaultBaseURL is the public Overpass interpreter.
const DefaultBaseURL = "https://overpass-api.de/api/interpreter"

const providerName = "overpass"

// ErrUnexpectedResponse is returned for non-200 answers or a missing count.
var ErrUnexpectedResponse = errors.New("overpass: unexpected response")

// DefaultTags are the OSM keys counted as activity-generating POIs.
var DefaultTags = []string{"amenity", "shop", "tourism"}

// ClientConfig configures the Overpass client.
type ClientConfig struct {
	BaseURL string
	Tags    []string

	Timeout  time.Duration
	Registry *resilience.Registry
	Logger   zerolog.Logger
}

// Client counts POIs around a point.
type Client struct {
	http   *resilience.Client
	cfg    ClientConfig
	logger zerolog.Logger
}

// NewClient creates an Overpass client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Tags) == 0 {
		cfg.Tags = DefaultTags
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}

	return &Client{
		http: resilience.NewClient(resilience.ClientConfig{
			Name:       providerName,
			Timeout:    cfg.Timeout,
			MaxRetries: 1,
			Registry:   cfg.Registry,
		}),
		cfg:    cfg,
		logger: cfg.Logger.With().Str("provider", providerName).Logger(),
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return providerName }

type countResponse struct {
	Elements []struct {
		Type string            `json:"type"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
	Remark string `json:"remark,omitempty"`
}

// CountPOIs returns the number of tagged nodes, ways and relations within
// radiusMeters of center.
func (c *Client) CountPOIs(ctx context.Context, center geo.Coordinate, radiusMeters float64) (int, error) {
	form := url.Values{"data": {Query(center, radiusMeters, c.cfg.Tags)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("overpass: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("overpass: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}

	var body countResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("overpass: decode: %w", err)
	}

	for _, el := range body.Elements {
		if el.Type != "count" {
			continue
		}
		total, err := strconv.Atoi(el.Tags["total"])
		if err != nil {
			return 0, fmt.Errorf("%w: bad total %q", ErrUnexpectedResponse, el.Tags["total"])
		}
		c.logger.Debug().Str("center", center.String()).Int("pois", total).Msg("counted POIs")
		return total, nil
	}

	if body.Remark != "" {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedResponse, body.Remark)
	}
	return 0, fmt.Errorf("%w: no count element", ErrUnexpectedResponse)
}

// Query builds an Overpass QL count query.
func Query(center geo.Coordinate, radiusMeters float64, tags []string) string {
	around := fmt.Sprintf("around:%d,%.6f,%.6f", int(radiusMeters), center.Lat, center.Lon)

	var b strings.Builder
	b.WriteString("[out:json][timeout:10];(")
	for _, tag := range tags {
		fmt.Fprintf(&b, "nwr(%s)[%s];", around, tag)
	}
	b.WriteString(");out count;")
	return b.String()
}
