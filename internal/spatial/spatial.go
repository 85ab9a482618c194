// Package spatial stores the location data behind the signal adapters:
// emergency facilities and street lights, hazard reports, crowd lighting
// reports, area activity and points of interest. It also keeps historical
// score snapshots written by the worker.
package spatial

import (
	_ "embed"
	"errors"
	"time"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

// Schema is the PostGIS DDL for the store.
//
//go:embed schema.sql
var Schema string

// ErrNoArea is returned when no activity area lies within the radius.
var ErrNoArea = errors.New("no activity area near location")

// Snapshot is a persisted score for one location and context.
type Snapshot struct {
	Location   geo.Coordinate
	Context    safety.Context
	Result     safety.Result
	ComputedAt time.Time
}

// ratingToScore maps a 1-5 star rating onto 0-100.
func ratingToScore(stars int) float64 {
	if stars < 1 {
		stars = 1
	}
	if stars > 5 {
		stars = 5
	}
	return float64(stars-1) / 4 * 100
}
