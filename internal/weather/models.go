// Package weather resolves the coarse weather condition used to adjust
// lighting scores.
package weather

import (
	"errors"
	"time"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrNoDataForLocation   = errors.New("no weather data for location")
)

// Observation is the current weather at a point.
type Observation struct {
	Location geo.Coordinate

	// Code is the WMO weather interpretation code.
	Code int

	Temperature   float64 // Celsius
	WindSpeed     float64 // km/h
	WindDirection float64 // degrees
	IsDay         bool

	ObservedAt time.Time
	FetchedAt  time.Time
}

// Condition maps the observation onto a scoring bucket.
func (o *Observation) Condition() safety.Weather {
	return ConditionForCode(o.Code)
}

// ConditionForCode maps a WMO weather code onto a scoring bucket. Snow is
// treated as rain; unknown codes are clear.
func ConditionForCode(code int) safety.Weather {
	switch {
	case code <= 1:
		return safety.WeatherClear
	case code <= 48:
		return safety.WeatherCloudy
	case code >= 51 && code <= 67:
		return safety.WeatherRainy
	case code >= 71 && code <= 86:
		return safety.WeatherRainy
	case code >= 95 && code <= 99:
		return safety.WeatherStormy
	default:
		return safety.WeatherClear
	}
}
