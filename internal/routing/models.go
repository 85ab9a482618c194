// Package routing provides base paths between two points from external
// routing providers.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/saferoute/saferoute/internal/geo"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = errors.New("no route found between the given points")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrUnsupportedProfile indicates the provider cannot route the profile.
	ErrUnsupportedProfile = errors.New("unsupported route profile")
)

// Provider defines the interface for routing providers.
type Provider interface {
	// GetDirections retrieves route directions between two points.
	// Returns multiple route alternatives when available.
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
	// SupportedProfiles returns the list of route profiles this provider supports.
	SupportedProfiles() []RouteProfile
}

// RouteProfile is a provider-neutral mode of travel. Providers map it onto
// their own profile names.
type RouteProfile string

const (
	ProfileWalk  RouteProfile = "walking"
	ProfileCycle RouteProfile = "cycling"
	ProfileDrive RouteProfile = "driving"
)

// Valid reports whether p is a known profile.
func (p RouteProfile) Valid() bool {
	switch p {
	case ProfileWalk, ProfileCycle, ProfileDrive:
		return true
	}
	return false
}

// DirectionsRequest is the request for computing routes.
type DirectionsRequest struct {
	Origin          geo.Coordinate
	Destination     geo.Coordinate
	Profile         RouteProfile
	MaxAlternatives int // Maximum number of alternative routes to return (default: 2)
}

// Validate checks both endpoints.
func (r DirectionsRequest) Validate() error {
	if err := r.Origin.Validate(); err != nil {
		return err
	}
	return r.Destination.Validate()
}

// DirectionsResponse is the response containing route alternatives. The
// first route is the provider's preferred one.
type DirectionsResponse struct {
	Routes    []Route
	Provider  string
	FetchedAt time.Time
}

// Route represents a single route option.
type Route struct {
	Path            []geo.Coordinate // Decoded geometry, origin first
	DistanceMeters  float64
	DurationSeconds float64
	Summary         string
	Bound           orb.Bound
	Instructions    []Instruction
}

// Instruction represents a turn-by-turn instruction.
type Instruction struct {
	Text           string
	DistanceMeters float64
	DurationSecs   float64
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}

// InvalidRequest builds the error returned for out-of-range endpoints.
func InvalidRequest(provider string, req DirectionsRequest) error {
	code, msg := "INVALID_DESTINATION", "invalid destination coordinates"
	if req.Origin.Validate() != nil {
		code, msg = "INVALID_ORIGIN", "invalid origin coordinates"
	}
	return &Error{Provider: provider, Code: code, Message: msg, Err: ErrInvalidCoordinates}
}
