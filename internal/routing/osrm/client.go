// Package osrm provides a client for the OSRM route service.
package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/provider/resilience"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/pkg/polyline"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "osrm"

	// DefaultBaseURL is the public OSRM demo server.
	DefaultBaseURL = "https://router.project-osrm.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second
)

// profiles maps neutral profiles onto OSRM path segments.
var profiles = map[routing.RouteProfile]string{
	routing.ProfileWalk:  "foot",
	routing.ProfileCycle: "bike",
	routing.ProfileDrive: "driving",
}

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OSRM client.
type ClientConfig struct {
	// BaseURL is the server base URL (optional, defaults to the demo server).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client is an OSRM API client.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new OSRM client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:     ProviderName,
			Timeout:  timeout,
			Registry: cfg.Registry,
		})
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// SupportedProfiles returns the supported routing profiles.
func (c *Client) SupportedProfiles() []routing.RouteProfile {
	return []routing.RouteProfile{routing.ProfileWalk, routing.ProfileCycle, routing.ProfileDrive}
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Geometry string    `json:"geometry"`
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Legs     []osrmLeg `json:"legs"`
}

type osrmLeg struct {
	Summary string     `json:"summary"`
	Steps   []osrmStep `json:"steps"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier,omitempty"`
	} `json:"maneuver"`
}

// GetDirections retrieves route directions between two points.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, routing.InvalidRequest(ProviderName, req)
	}

	profile, ok := profiles[req.Profile]
	if !ok {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "INVALID_PROFILE",
			Message:  fmt.Sprintf("profile %q not supported", req.Profile),
			Err:      routing.ErrUnsupportedProfile,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(profile, req), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("profile", profile).
		Str("origin", req.Origin.String()).
		Str("destination", req.Destination.String()).
		Msg("requesting directions from OSRM")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach routing provider",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var out osrmResponse
	if jsonErr := json.Unmarshal(body, &out); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("decoding response: %w", jsonErr)
	}

	if resp.StatusCode != http.StatusOK || out.Code != "Ok" {
		return nil, mapError(resp.StatusCode, out)
	}

	result, err := toDirectionsResponse(&out)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("route_count", len(result.Routes)).
		Msg("received directions from OSRM")

	return result, nil
}

func (c *Client) requestURL(profile string, req routing.DirectionsRequest) string {
	coords := fmt.Sprintf("%s,%s;%s,%s",
		formatDegrees(req.Origin.Lon), formatDegrees(req.Origin.Lat),
		formatDegrees(req.Destination.Lon), formatDegrees(req.Destination.Lat))

	q := url.Values{}
	if req.MaxAlternatives > 0 {
		q.Set("alternatives", strconv.Itoa(req.MaxAlternatives))
	} else {
		q.Set("alternatives", "false")
	}
	q.Set("overview", "full")
	q.Set("geometries", "polyline")
	q.Set("steps", "true")

	return fmt.Sprintf("%s/route/v1/%s/%s?%s", c.baseURL, profile, coords, q.Encode())
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// mapError maps OSRM codes to domain errors.
func mapError(status int, out osrmResponse) error {
	msg := out.Message
	if msg == "" {
		msg = fmt.Sprintf("routing provider returned status %d", status)
	}

	switch {
	case out.Code == "NoRoute" || out.Code == "NoSegment":
		return &routing.Error{Provider: ProviderName, Code: "NO_ROUTE", Message: msg, Err: routing.ErrNoRouteFound}
	case out.Code == "InvalidInput" || out.Code == "InvalidQuery" || out.Code == "InvalidValue":
		return &routing.Error{Provider: ProviderName, Code: "BAD_REQUEST", Message: msg, Err: routing.ErrInvalidCoordinates}
	case status == http.StatusTooManyRequests:
		return &routing.Error{Provider: ProviderName, Code: "RATE_LIMIT", Message: "API rate limit exceeded, please try again later", Err: routing.ErrRateLimitExceeded}
	case status >= 500:
		return &routing.Error{Provider: ProviderName, Code: fmt.Sprintf("SERVER_%d", status), Message: "routing provider is temporarily unavailable", Err: routing.ErrProviderUnavailable}
	}
	return &routing.Error{Provider: ProviderName, Code: fmt.Sprintf("HTTP_%d", status), Message: msg, Err: routing.ErrProviderUnavailable}
}

func toDirectionsResponse(resp *osrmResponse) (*routing.DirectionsResponse, error) {
	routes := make([]routing.Route, 0, len(resp.Routes))
	for i := range resp.Routes {
		r := &resp.Routes[i]

		ls, err := polyline.Decode(r.Geometry, polyline.Precision5)
		if err != nil {
			return nil, &routing.Error{
				Provider: ProviderName,
				Code:     "BAD_GEOMETRY",
				Message:  "route geometry could not be decoded",
				Err:      err,
			}
		}

		route := routing.Route{
			Path:            geo.FromLineString(ls),
			DistanceMeters:  r.Distance,
			DurationSeconds: r.Duration,
			Bound:           ls.Bound(),
		}

		var names []string
		for _, leg := range r.Legs {
			if leg.Summary != "" {
				names = append(names, leg.Summary)
			}
			for _, step := range leg.Steps {
				route.Instructions = append(route.Instructions, routing.Instruction{
					Text:           instructionText(step),
					DistanceMeters: step.Distance,
					DurationSecs:   step.Duration,
				})
			}
		}
		route.Summary = strings.Join(names, "; ")

		routes = append(routes, route)
	}

	return &routing.DirectionsResponse{
		Routes:    routes,
		Provider:  ProviderName,
		FetchedAt: time.Now(),
	}, nil
}

// instructionText renders a maneuver as "turn left onto Anna Salai".
func instructionText(s osrmStep) string {
	text := s.Maneuver.Type
	if s.Maneuver.Modifier != "" {
		text += " " + s.Maneuver.Modifier
	}
	if s.Name != "" {
		text += " onto " + s.Name
	}
	return text
}
