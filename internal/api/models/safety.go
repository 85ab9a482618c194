package models

import (
	"fmt"

	"github.com/saferoute/saferoute/internal/safety"
)

// ScoreContext are the optional context fields shared by score requests.
type ScoreContext struct {
	UserType         string `json:"userType,omitempty"`
	TimeOfDay        string `json:"timeOfDay,omitempty"`
	WeatherCondition string `json:"weatherCondition,omitempty"`
}

// Context converts the fields. Empty values stay empty.
func (c ScoreContext) Context() safety.Context {
	return safety.Context{
		UserType:  safety.UserType(c.UserType),
		TimeOfDay: safety.TimeOfDay(c.TimeOfDay),
		Weather:   safety.Weather(c.WeatherCondition),
	}
}

// Validate reports unknown enum values.
func (c ScoreContext) Validate() []FieldError {
	var errs []FieldError
	switch safety.UserType(c.UserType) {
	case "", safety.UserPedestrian, safety.UserTwoWheeler, safety.UserCyclist, safety.UserPublicTransport:
	default:
		errs = append(errs, enumError("userType", c.UserType, "pedestrian, two_wheeler, cyclist, public_transport"))
	}
	switch safety.TimeOfDay(c.TimeOfDay) {
	case "", safety.TimeMorning, safety.TimeAfternoon, safety.TimeEvening, safety.TimeNight:
	default:
		errs = append(errs, enumError("timeOfDay", c.TimeOfDay, "morning, afternoon, evening, night"))
	}
	switch safety.Weather(c.WeatherCondition) {
	case "", safety.WeatherClear, safety.WeatherCloudy, safety.WeatherRainy, safety.WeatherStormy:
	default:
		errs = append(errs, enumError("weatherCondition", c.WeatherCondition, "clear, cloudy, rainy, stormy"))
	}
	return errs
}

func enumError(field, value, allowed string) FieldError {
	return FieldError{
		Field:   field,
		Message: fmt.Sprintf("%q is not one of: %s", value, allowed),
		Code:    "INVALID_ENUM",
	}
}

// SafetyScoreRequest is the body of POST /v1/safety/score.
type SafetyScoreRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	ScoreContext
}

// Point returns the request location.
func (r *SafetyScoreRequest) Point() Point {
	return Point{Lat: r.Latitude, Lng: r.Longitude}
}

// Validate validates the score request.
func (r *SafetyScoreRequest) Validate() []FieldError {
	var errs []FieldError
	errs = append(errs, validateDegrees("latitude", r.Latitude, 90)...)
	errs = append(errs, validateDegrees("longitude", r.Longitude, 180)...)
	return append(errs, r.ScoreContext.Validate()...)
}

// AppliedContext echoes the context a score was computed for.
type AppliedContext struct {
	UserType         safety.UserType  `json:"userType"`
	TimeOfDay        safety.TimeOfDay `json:"timeOfDay"`
	WeatherCondition safety.Weather   `json:"weatherCondition"`
}

// SafetyScoreResponse is a scored location.
type SafetyScoreResponse struct {
	Score           int                   `json:"score"`
	Factors         safety.Factors        `json:"factors"`
	Confidence      float64               `json:"confidence"`
	Weights         map[string]float64    `json:"weights"`
	WeightedFactors safety.Factors        `json:"weightedFactors"`
	Recommendations []string              `json:"recommendations"`
	FactorDetails   []safety.FactorDetail `json:"factorDetails"`
	Context         AppliedContext        `json:"context"`
	Degraded        bool                  `json:"degraded"`
	GeneratedAt     Timestamp             `json:"generatedAt"`
}

// NewSafetyScoreResponse converts an engine result.
func NewSafetyScoreResponse(r safety.Result, sctx safety.Context) SafetyScoreResponse {
	weights := make(map[string]float64, len(safety.AllFactors))
	for _, f := range safety.AllFactors {
		weights[string(f)] = f.Weight()
	}
	recs := r.Recommendations
	if recs == nil {
		recs = []string{}
	}
	sctx = sctx.WithDefaults()
	return SafetyScoreResponse{
		Score:           r.Overall,
		Factors:         r.Factors,
		Confidence:      r.Confidence,
		Weights:         weights,
		WeightedFactors: r.WeightedFactors,
		Recommendations: recs,
		FactorDetails:   r.Details,
		Context: AppliedContext{
			UserType:         sctx.UserType,
			TimeOfDay:        sctx.TimeOfDay,
			WeatherCondition: sctx.Weather,
		},
		Degraded:    r.Degraded,
		GeneratedAt: Timestamp(r.ComputedAt),
	}
}

// BatchScoreRequest is the body of POST /v1/safety/score:batch.
type BatchScoreRequest struct {
	Locations []Point `json:"locations"`
	ScoreContext
}

// Validate checks the list size and context; per-location problems are
// reported per item instead.
func (r *BatchScoreRequest) Validate(maxLocations int) []FieldError {
	var errs []FieldError
	switch {
	case len(r.Locations) == 0:
		errs = append(errs, FieldError{Field: "locations", Message: "at least one location is required", Code: "REQUIRED"})
	case len(r.Locations) > maxLocations:
		errs = append(errs, FieldError{
			Field:   "locations",
			Message: fmt.Sprintf("at most %d locations are allowed", maxLocations),
			Code:    "TOO_MANY_ITEMS",
		})
	}
	return append(errs, r.ScoreContext.Validate()...)
}

// ItemError marks a batch entry that could not be scored.
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchScoreItem is one batch entry, aligned with the request by index.
type BatchScoreItem struct {
	Index  int                  `json:"index"`
	Result *SafetyScoreResponse `json:"result,omitempty"`
	Error  *ItemError           `json:"error,omitempty"`
}

// BatchScoreResponse is the response of POST /v1/safety/score:batch.
type BatchScoreResponse struct {
	Results []BatchScoreItem `json:"results"`
}
