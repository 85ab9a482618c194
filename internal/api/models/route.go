package models

import (
	"math"

	"github.com/saferoute/saferoute/internal/planner"
)

// RouteOptions are the planning options of a route request.
type RouteOptions struct {
	AvoidDarkSpots  bool `json:"avoidDarkSpots"`
	AvoidLowLight   bool `json:"avoidLowLight"`
	AvoidHighCrime  bool `json:"avoidHighCrime"`
	PreferCCTV      bool `json:"preferCCTV"`
	PreferPolice    bool `json:"preferPolice"`
	PreferPopulated bool `json:"preferPopulated"`

	MinimumSafetyScore  *float64 `json:"minimumSafetyScore,omitempty"`
	MaxDetourPercentage *float64 `json:"maxDetourPercentage,omitempty"`

	TransportMode     string `json:"transportMode,omitempty"`
	UserRiskTolerance string `json:"userRiskTolerance,omitempty"`

	ScoreContext
}

// RoutePlanRequest is the body of POST /v1/routes:plan.
type RoutePlanRequest struct {
	Origin      *Point       `json:"origin"`
	Destination *Point       `json:"destination"`
	Options     RouteOptions `json:"options"`
}

// Validate validates the route request.
func (r *RoutePlanRequest) Validate() []FieldError {
	var errs []FieldError

	if r.Origin == nil {
		errs = append(errs, FieldError{Field: "origin", Message: "is required", Code: "REQUIRED"})
	} else {
		errs = append(errs, r.Origin.Validate("origin.")...)
	}
	if r.Destination == nil {
		errs = append(errs, FieldError{Field: "destination", Message: "is required", Code: "REQUIRED"})
	} else {
		errs = append(errs, r.Destination.Validate("destination.")...)
	}

	o := r.Options
	if v := o.MinimumSafetyScore; v != nil && (math.IsNaN(*v) || *v < 0 || *v > 100) {
		errs = append(errs, FieldError{Field: "options.minimumSafetyScore", Message: "must be between 0 and 100", Code: "OUT_OF_RANGE"})
	}
	if v := o.MaxDetourPercentage; v != nil && (math.IsNaN(*v) || *v < 0 || *v > 500) {
		errs = append(errs, FieldError{Field: "options.maxDetourPercentage", Message: "must be between 0 and 500", Code: "OUT_OF_RANGE"})
	}
	switch planner.TransportMode(o.TransportMode) {
	case "", planner.ModeWalking, planner.ModeCycling, planner.ModeDriving, planner.ModePublicTransport:
	default:
		errs = append(errs, enumError("options.transportMode", o.TransportMode, "walking, cycling, driving, public_transport"))
	}
	switch planner.RiskTolerance(o.UserRiskTolerance) {
	case "", planner.RiskLow, planner.RiskMedium, planner.RiskHigh:
	default:
		errs = append(errs, enumError("options.userRiskTolerance", o.UserRiskTolerance, "low, medium, high"))
	}
	for _, fe := range o.ScoreContext.Validate() {
		fe.Field = "options." + fe.Field
		errs = append(errs, fe)
	}

	return errs
}

// PlannerOptions converts the request options.
func (o RouteOptions) PlannerOptions() planner.Options {
	opts := planner.Options{
		AvoidDarkSpots:    o.AvoidDarkSpots,
		AvoidLowLight:     o.AvoidLowLight,
		AvoidHighCrime:    o.AvoidHighCrime,
		PreferCCTV:        o.PreferCCTV,
		PreferPolice:      o.PreferPolice,
		PreferPopulated:   o.PreferPopulated,
		TransportMode:     planner.TransportMode(o.TransportMode),
		UserRiskTolerance: planner.RiskTolerance(o.UserRiskTolerance),
		Context:           o.ScoreContext.Context(),
	}
	if v := o.MinimumSafetyScore; v != nil {
		opts.MinimumSafetyScore = planner.Float64(*v)
	}
	if v := o.MaxDetourPercentage; v != nil {
		opts.MaxDetourPercentage = planner.Float64(*v)
	}
	return opts
}
