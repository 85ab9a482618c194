// Package worker warms the score cache for busy locations and records score
// snapshots in the background.
package worker

import (
	"sort"
	"time"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

// RefreshTarget is a named group of locations warmed together.
type RefreshTarget struct {
	Name     string
	Points   []geo.Coordinate
	Priority int // 1 = highest
}

// RefreshConfig configures a refresh run.
type RefreshConfig struct {
	Targets []RefreshTarget

	// TimesOfDay are scored for every point. Empty means all four.
	TimesOfDay []safety.TimeOfDay
	// UserTypes are scored for every point and time. Empty means pedestrian.
	UserTypes []safety.UserType

	// Concurrency is the number of points scored in parallel.
	Concurrency int
	// Timeout bounds the work for a single point.
	Timeout time.Duration

	// PersistSnapshots stores each live result through the job's sink.
	PersistSnapshots bool
}

// DefaultRefreshConfig returns the Chennai hotspot sweep.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Targets:          DefaultRefreshTargets(),
		TimesOfDay:       allTimesOfDay(),
		UserTypes:        []safety.UserType{safety.UserPedestrian},
		Concurrency:      3,
		Timeout:          30 * time.Second,
		PersistSnapshots: true,
	}
}

// DefaultRefreshTargets returns transit hubs, markets and corridors where
// scores are requested most often.
func DefaultRefreshTargets() []RefreshTarget {
	return []RefreshTarget{
		{
			Name:     "Chennai Central",
			Priority: 1,
			Points: []geo.Coordinate{
				{Lat: 13.0827, Lon: 80.2757}, // station
				{Lat: 13.0780, Lon: 80.2619}, // Egmore
				{Lat: 13.0878, Lon: 80.2785}, // Park Town
			},
		},
		{
			Name:     "T. Nagar",
			Priority: 1,
			Points: []geo.Coordinate{
				{Lat: 13.0418, Lon: 80.2341}, // Pondy Bazaar
				{Lat: 13.0382, Lon: 80.2337}, // Ranganathan Street
				{Lat: 13.0358, Lon: 80.2296}, // bus terminus
			},
		},
		{
			Name:     "Koyambedu",
			Priority: 1,
			Points: []geo.Coordinate{
				{Lat: 13.0694, Lon: 80.1948}, // CMBT
				{Lat: 13.0732, Lon: 80.1955}, // market
			},
		},
		{
			Name:     "Guindy",
			Priority: 2,
			Points: []geo.Coordinate{
				{Lat: 13.0067, Lon: 80.2206}, // station
				{Lat: 13.0102, Lon: 80.2127}, // Kathipara
			},
		},
		{
			Name:     "Marina",
			Priority: 2,
			Points: []geo.Coordinate{
				{Lat: 13.0500, Lon: 80.2824}, // beach
				{Lat: 13.0330, Lon: 80.2780}, // Santhome
			},
		},
		{
			Name:     "Anna Nagar",
			Priority: 2,
			Points: []geo.Coordinate{
				{Lat: 13.0850, Lon: 80.2101}, // roundtana
				{Lat: 13.0873, Lon: 80.2175}, // tower park
			},
		},
		{
			Name:     "Velachery",
			Priority: 2,
			Points: []geo.Coordinate{
				{Lat: 12.9815, Lon: 80.2180}, // main road
				{Lat: 12.9790, Lon: 80.2209}, // MRTS
			},
		},
		{
			Name:     "OMR",
			Priority: 3,
			Points: []geo.Coordinate{
				{Lat: 12.9010, Lon: 80.2279}, // Sholinganallur
				{Lat: 12.9716, Lon: 80.2487}, // Thoraipakkam
			},
		},
		{
			Name:     "Tambaram",
			Priority: 3,
			Points: []geo.Coordinate{
				{Lat: 12.9249, Lon: 80.1000}, // station
			},
		},
	}
}

func allTimesOfDay() []safety.TimeOfDay {
	return []safety.TimeOfDay{safety.TimeMorning, safety.TimeAfternoon, safety.TimeEvening, safety.TimeNight}
}

// AllPoints returns every point ordered by target priority.
func (c RefreshConfig) AllPoints() []geo.Coordinate {
	targets := make([]RefreshTarget, len(c.Targets))
	copy(targets, c.Targets)
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority < targets[j].Priority
	})

	points := make([]geo.Coordinate, 0, c.TotalPoints())
	for _, t := range targets {
		points = append(points, t.Points...)
	}
	return points
}

// TotalPoints returns the number of locations across targets.
func (c RefreshConfig) TotalPoints() int {
	total := 0
	for _, t := range c.Targets {
		total += len(t.Points)
	}
	return total
}

// Contexts returns every time of day and user type combination scored per
// point.
func (c RefreshConfig) Contexts() []safety.Context {
	times := c.TimesOfDay
	if len(times) == 0 {
		times = allTimesOfDay()
	}
	users := c.UserTypes
	if len(users) == 0 {
		users = []safety.UserType{safety.UserPedestrian}
	}

	out := make([]safety.Context, 0, len(times)*len(users))
	for _, u := range users {
		for _, t := range times {
			out = append(out, safety.Context{TimeOfDay: t, UserType: u})
		}
	}
	return out
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}
