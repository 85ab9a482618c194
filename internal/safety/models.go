// Package safety defines the safety score domain: the scoring context, the
// four factor scores, their weights and the result returned for a location.
package safety

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidContext is returned when a context carries an unknown enum value.
var ErrInvalidContext = errors.New("invalid safety context")

// TimeOfDay buckets the hour of the day.
type TimeOfDay string

const (
	TimeMorning   TimeOfDay = "morning"
	TimeAfternoon TimeOfDay = "afternoon"
	TimeEvening   TimeOfDay = "evening"
	TimeNight     TimeOfDay = "night"
)

// TimeOfDayAt buckets t: 05-12 morning, 12-17 afternoon, 17-21 evening,
// otherwise night.
func TimeOfDayAt(t time.Time) TimeOfDay {
	h := t.Hour()
	switch {
	case h >= 5 && h < 12:
		return TimeMorning
	case h >= 12 && h < 17:
		return TimeAfternoon
	case h >= 17 && h < 21:
		return TimeEvening
	default:
		return TimeNight
	}
}

// RepresentativeHour is the hour used to index hourly footfall history.
func (t TimeOfDay) RepresentativeHour() int {
	switch t {
	case TimeMorning:
		return 8
	case TimeAfternoon:
		return 14
	case TimeEvening:
		return 18
	default:
		return 22
	}
}

// LightingMultiplier scales the lighting score down after dark.
func (t TimeOfDay) LightingMultiplier() float64 {
	switch t {
	case TimeNight:
		return 0.7
	case TimeEvening:
		return 0.85
	default:
		return 1.0
	}
}

// IsDark reports whether t falls after sunset.
func (t TimeOfDay) IsDark() bool {
	return t == TimeEvening || t == TimeNight
}

// UserType describes who is travelling.
type UserType string

const (
	UserPedestrian      UserType = "pedestrian"
	UserTwoWheeler      UserType = "two_wheeler"
	UserCyclist         UserType = "cyclist"
	UserPublicTransport UserType = "public_transport"
)

// Weather is a coarse condition bucket.
type Weather string

const (
	WeatherClear  Weather = "clear"
	WeatherCloudy Weather = "cloudy"
	WeatherRainy  Weather = "rainy"
	WeatherStormy Weather = "stormy"
)

// LightingMultiplier scales the lighting score for overcast or wet conditions.
func (w Weather) LightingMultiplier() float64 {
	switch w {
	case WeatherCloudy:
		return 0.95
	case WeatherRainy:
		return 0.9
	case WeatherStormy:
		return 0.8
	default:
		return 1.0
	}
}

// Context carries the situational inputs for a score.
type Context struct {
	TimeOfDay   TimeOfDay
	UserType    UserType
	Weather     Weather
	LocalEvents []string
}

// WithDefaults fills empty fields: afternoon, pedestrian, clear.
func (c Context) WithDefaults() Context {
	if c.TimeOfDay == "" {
		c.TimeOfDay = TimeAfternoon
	}
	if c.UserType == "" {
		c.UserType = UserPedestrian
	}
	if c.Weather == "" {
		c.Weather = WeatherClear
	}
	return c
}

// Validate rejects unknown enum values. Empty values are accepted.
func (c Context) Validate() error {
	switch c.TimeOfDay {
	case "", TimeMorning, TimeAfternoon, TimeEvening, TimeNight:
	default:
		return fmt.Errorf("%w: timeOfDay %q", ErrInvalidContext, c.TimeOfDay)
	}
	switch c.UserType {
	case "", UserPedestrian, UserTwoWheeler, UserCyclist, UserPublicTransport:
	default:
		return fmt.Errorf("%w: userType %q", ErrInvalidContext, c.UserType)
	}
	switch c.Weather {
	case "", WeatherClear, WeatherCloudy, WeatherRainy, WeatherStormy:
	default:
		return fmt.Errorf("%w: weather %q", ErrInvalidContext, c.Weather)
	}
	return nil
}

// Factor names one of the four signals.
type Factor string

const (
	FactorLighting  Factor = "lighting"
	FactorFootfall  Factor = "footfall"
	FactorHazards   Factor = "hazards"
	FactorProximity Factor = "proximityToHelp"
)

// AllFactors lists the factors in aggregation order.
var AllFactors = []Factor{FactorLighting, FactorFootfall, FactorHazards, FactorProximity}

// Factor weights. They sum to 1.
const (
	WeightLighting  = 0.30
	WeightFootfall  = 0.25
	WeightHazards   = 0.20
	WeightProximity = 0.25
)

// Weight returns the aggregation weight of f.
func (f Factor) Weight() float64 {
	switch f {
	case FactorLighting:
		return WeightLighting
	case FactorFootfall:
		return WeightFootfall
	case FactorHazards:
		return WeightHazards
	case FactorProximity:
		return WeightProximity
	}
	return 0
}

// Default is the neutral value used when the factor cannot be computed.
// Hazards default high because no known hazards is the common case.
func (f Factor) Default() float64 {
	if f == FactorHazards {
		return 80
	}
	return 50
}

// Factors holds one value per signal.
type Factors struct {
	Lighting        float64 `json:"lighting"`
	Footfall        float64 `json:"footfall"`
	Hazards         float64 `json:"hazards"`
	ProximityToHelp float64 `json:"proximityToHelp"`
}

// Get returns the value for f.
func (fs Factors) Get(f Factor) float64 {
	switch f {
	case FactorLighting:
		return fs.Lighting
	case FactorFootfall:
		return fs.Footfall
	case FactorHazards:
		return fs.Hazards
	case FactorProximity:
		return fs.ProximityToHelp
	}
	return 0
}

// Set stores v for f.
func (fs *Factors) Set(f Factor, v float64) {
	switch f {
	case FactorLighting:
		fs.Lighting = v
	case FactorFootfall:
		fs.Footfall = v
	case FactorHazards:
		fs.Hazards = v
	case FactorProximity:
		fs.ProximityToHelp = v
	}
}

// Weighted multiplies each factor by its weight.
func (fs Factors) Weighted() Factors {
	var out Factors
	for _, f := range AllFactors {
		out.Set(f, fs.Get(f)*f.Weight())
	}
	return out
}

// Sum adds the four values.
func (fs Factors) Sum() float64 {
	return fs.Lighting + fs.Footfall + fs.Hazards + fs.ProximityToHelp
}

// FactorDetail explains how one factor was obtained.
type FactorDetail struct {
	Factor   Factor             `json:"factor"`
	Score    float64            `json:"score"`
	Weight   float64            `json:"weight"`
	Weighted float64            `json:"weighted"`
	Fallback bool               `json:"fallback"`
	Source   string             `json:"source,omitempty"`
	Inputs   map[string]float64 `json:"inputs,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Result is the full safety assessment of one location.
type Result struct {
	Overall         int            `json:"overall"`
	Factors         Factors        `json:"factors"`
	WeightedFactors Factors        `json:"weightedFactors"`
	Confidence      float64        `json:"confidence"`
	Details         []FactorDetail `json:"details"`
	Recommendations []string       `json:"recommendations"`
	Degraded        bool           `json:"degraded"`
	ComputedAt      time.Time      `json:"computedAt"`
}

// Clamp bounds v to [0, 100].
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// Aggregate builds a Result from raw factor values and per-factor fallback
// flags. Confidence is the share of factors that were computed and non-zero.
func Aggregate(fs Factors, fallback map[Factor]bool) Result {
	var clamped Factors
	computed := 0
	for _, f := range AllFactors {
		v := Clamp(fs.Get(f))
		clamped.Set(f, v)
		if !fallback[f] && v > 0 {
			computed++
		}
	}

	weighted := clamped.Weighted()
	overall := int(math.Round(Clamp(weighted.Sum())))

	return Result{
		Overall:         overall,
		Factors:         clamped,
		WeightedFactors: weighted,
		Confidence:      float64(computed) / float64(len(AllFactors)),
	}
}

// DefaultFactors returns the neutral value of every factor.
func DefaultFactors() Factors {
	var fs Factors
	for _, f := range AllFactors {
		fs.Set(f, f.Default())
	}
	return fs
}

// DefaultResult is returned when scoring fails outright.
func DefaultResult(now time.Time) Result {
	fs := DefaultFactors()
	r := Aggregate(fs, nil)
	r.Confidence = 0.5
	r.Degraded = true
	r.ComputedAt = now.UTC()
	r.Recommendations = Recommendations(fs)
	for _, f := range AllFactors {
		r.Details = append(r.Details, FactorDetail{
			Factor:   f,
			Score:    fs.Get(f),
			Weight:   f.Weight(),
			Weighted: fs.Get(f) * f.Weight(),
			Fallback: true,
		})
	}
	return r
}
