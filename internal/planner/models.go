// Package planner finds the shortest route between two points that meets a
// safety floor, scoring candidate paths with the safety score engine.
package planner

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/routing"
	"github.com/saferoute/saferoute/internal/safety"
)

// ErrInvalidOptions is returned for out-of-range planning options.
var ErrInvalidOptions = errors.New("invalid route options")

const (
	defaultMinimumSafetyScore  = 50.0
	defaultMaxDetourPercentage = 20.0
)

// FallbackReason labels the direct path returned when planning fails.
const FallbackReason = "Route calculation error — using direct path"

// TransportMode is how the user travels.
type TransportMode string

const (
	ModeWalking         TransportMode = "walking"
	ModeCycling         TransportMode = "cycling"
	ModeDriving         TransportMode = "driving"
	ModePublicTransport TransportMode = "public_transport"
)

// SpeedKmh is the average speed used for duration estimates.
func (m TransportMode) SpeedKmh() float64 {
	switch m {
	case ModeCycling:
		return 15
	case ModeDriving:
		return 40
	case ModePublicTransport:
		return 25
	default:
		return 5
	}
}

// Profile is the routing profile used for the base path.
func (m TransportMode) Profile() routing.RouteProfile {
	switch m {
	case ModeCycling:
		return routing.ProfileCycle
	case ModeDriving, ModePublicTransport:
		return routing.ProfileDrive
	default:
		return routing.ProfileWalk
	}
}

// UserType is the scoring user type implied by the mode.
func (m TransportMode) UserType() safety.UserType {
	switch m {
	case ModeCycling:
		return safety.UserCyclist
	case ModeDriving:
		return safety.UserTwoWheeler
	case ModePublicTransport:
		return safety.UserPublicTransport
	default:
		return safety.UserPedestrian
	}
}

// Duration estimates travel time over meters.
func (m TransportMode) Duration(meters float64) time.Duration {
	hours := meters / 1000 / m.SpeedKmh()
	return time.Duration(hours * float64(time.Hour))
}

// RiskTolerance shifts the floor and the route aggregate.
type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// floorShift is how far each tolerance moves the safety floor.
const floorShift = 10

// Options are the planning policy.
type Options struct {
	AvoidDarkSpots  bool
	AvoidLowLight   bool
	AvoidHighCrime  bool
	PreferCCTV      bool
	PreferPolice    bool
	PreferPopulated bool

	// MinimumSafetyScore is the floor (default: 50). Nil means unset, so an
	// explicit 0 is kept.
	MinimumSafetyScore *float64
	// MaxDetourPercentage bounds alternative length (default: 20). An
	// explicit 0 accepts no detour at all.
	MaxDetourPercentage *float64

	TransportMode     TransportMode
	UserRiskTolerance RiskTolerance

	// Context is the scoring context. An empty user type is derived from
	// TransportMode.
	Context safety.Context
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.MinimumSafetyScore == nil {
		o.MinimumSafetyScore = Float64(defaultMinimumSafetyScore)
	}
	if o.MaxDetourPercentage == nil {
		o.MaxDetourPercentage = Float64(defaultMaxDetourPercentage)
	}
	if o.TransportMode == "" {
		o.TransportMode = ModeWalking
	}
	if o.UserRiskTolerance == "" {
		o.UserRiskTolerance = RiskMedium
	}
	if o.Context.UserType == "" {
		o.Context.UserType = o.TransportMode.UserType()
	}
	o.Context = o.Context.WithDefaults()
	return o
}

// Validate checks ranges and enums.
func (o Options) Validate() error {
	if v := o.floor(); math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%w: minimumSafetyScore must be within [0, 100]", ErrInvalidOptions)
	}
	if v := o.maxDetour(); math.IsNaN(v) || v < 0 || v > 500 {
		return fmt.Errorf("%w: maxDetourPercentage must be within [0, 500]", ErrInvalidOptions)
	}
	switch o.TransportMode {
	case "", ModeWalking, ModeCycling, ModeDriving, ModePublicTransport:
	default:
		return fmt.Errorf("%w: transportMode %q", ErrInvalidOptions, o.TransportMode)
	}
	switch o.UserRiskTolerance {
	case "", RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: userRiskTolerance %q", ErrInvalidOptions, o.UserRiskTolerance)
	}
	return o.Context.Validate()
}

// Policy derives the route scoring policy.
func (o Options) Policy() Policy {
	p := Policy{
		Floor:          o.floor(),
		AvoidDarkSpots: o.AvoidDarkSpots,
		AvoidLowLight:  o.AvoidLowLight,
		AvoidHighCrime: o.AvoidHighCrime,
	}
	switch o.UserRiskTolerance {
	case RiskLow:
		p.Floor = math.Min(100, p.Floor+floorShift)
		p.WorstCaseBias = true
	case RiskHigh:
		p.Floor = math.Max(0, p.Floor-floorShift)
	}
	return p
}

// MaxDistance is the longest acceptable alternative for a base distance.
func (o Options) MaxDistance(baseMeters float64) float64 {
	return baseMeters * (1 + o.maxDetour()/100)
}

func (o Options) floor() float64 {
	if o.MinimumSafetyScore == nil {
		return defaultMinimumSafetyScore
	}
	return *o.MinimumSafetyScore
}

func (o Options) maxDetour() float64 {
	if o.MaxDetourPercentage == nil {
		return defaultMaxDetourPercentage
	}
	return *o.MaxDetourPercentage
}

// Float64 returns a pointer to v, for setting optional fields.
func Float64(v float64) *float64 {
	return &v
}

// RoutePoint is one waypoint of a route.
type RoutePoint struct {
	Location    geo.Coordinate `json:"location"`
	Name        string         `json:"name,omitempty"`
	Address     string         `json:"address,omitempty"`
	SafetyScore *float64       `json:"safetyScore,omitempty"`
}

// DangerousSegment is a maximal run of waypoints below the safety floor.
type DangerousSegment struct {
	Start       geo.Coordinate `json:"start"`
	End         geo.Coordinate `json:"end"`
	StartIndex  int            `json:"startIndex"`
	EndIndex    int            `json:"endIndex"`
	SafetyScore float64        `json:"safetyScore"`
	Reason      string         `json:"reason"`
}

// Source tells where a route's geometry came from.
type Source string

const (
	SourceProvider     Source = "provider"
	SourceAlternative  Source = "provider_alternative"
	SourcePerturbation Source = "perturbation"
	SourceDirect       Source = "direct"
)

// OptimizedRoute is the planner's answer.
type OptimizedRoute struct {
	ID                 string             `json:"id"`
	Origin             RoutePoint         `json:"origin"`
	Destination        RoutePoint         `json:"destination"`
	Waypoints          []RoutePoint       `json:"waypoints"`
	Polyline           string             `json:"polyline"`
	OverallSafetyScore float64            `json:"overallSafetyScore"`
	DistanceMeters     float64            `json:"distance"`
	DurationSeconds    float64            `json:"duration"`
	DangerousSegments  []DangerousSegment `json:"dangerousSegments"`
	AlternativeRoutes  []OptimizedRoute   `json:"alternativeRoutes,omitempty"`
	Source             Source             `json:"source"`
	MeetsSafetyFloor   bool               `json:"meetsSafetyFloor"`
	// AlternativesGenerated counts candidate paths considered beyond the base path.
	AlternativesGenerated int       `json:"alternativesGenerated"`
	Fallback              bool      `json:"fallback"`
	ComputedAt            time.Time `json:"computedAt"`
}
