// Package models provides request and response models for the SafeRoute API.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/saferoute/saferoute/internal/geo"
)

// Point is a coordinate in a request body. Fields are pointers so a missing
// value can be told apart from zero.
type Point struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// NewPoint converts a coordinate.
func NewPoint(c geo.Coordinate) Point {
	return Point{Lat: &c.Lat, Lng: &c.Lon}
}

// Coordinate returns the point as a coordinate. Call Validate first.
func (p Point) Coordinate() geo.Coordinate {
	var c geo.Coordinate
	if p.Lat != nil {
		c.Lat = *p.Lat
	}
	if p.Lng != nil {
		c.Lon = *p.Lng
	}
	return c
}

// Validate reports missing or out-of-range fields under prefix.
func (p Point) Validate(prefix string) []FieldError {
	var errs []FieldError
	errs = append(errs, validateDegrees(prefix+"lat", p.Lat, 90)...)
	errs = append(errs, validateDegrees(prefix+"lng", p.Lng, 180)...)
	return errs
}

func validateDegrees(field string, v *float64, limit float64) []FieldError {
	switch {
	case v == nil:
		return []FieldError{{Field: field, Message: "is required", Code: "REQUIRED"}}
	case math.IsNaN(*v) || *v < -limit || *v > limit:
		return []FieldError{{
			Field:   field,
			Message: fmt.Sprintf("must be between %g and %g", -limit, limit),
			Code:    "OUT_OF_RANGE",
		}}
	}
	return nil
}

// HealthStatus represents the health status of a service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Timestamp is a helper type for time.Time with custom JSON formatting.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler for Timestamp.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	parsed, err := time.Parse(time.RFC3339, string(data[1:len(data)-1]))
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}
