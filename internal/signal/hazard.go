package signal

import (
	"context"
	"math"
	"time"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/safety"
)

const (
	hazardDecayDays     = 30.0
	hazardVerifiedBonus = 1.5
	maxSeverity         = 5
)

// HazardConfig configures the hazard adapter.
type HazardConfig struct {
	Reports HazardSource

	RadiusMeters float64
	// Window bounds how far back reports are read.
	Window       time.Duration
	FetchTimeout time.Duration

	Now func() time.Time
}

// Hazards scores a location by recent incident reports. Fewer, older and
// unverified reports give a higher score.
type Hazards struct {
	cfg HazardConfig
}

// NewHazards creates a hazard adapter.
func NewHazards(cfg HazardConfig) *Hazards {
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = 500
	}
	if cfg.Window <= 0 {
		cfg.Window = 90 * 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hazards{cfg: cfg}
}

// Factor implements Adapter.
func (h *Hazards) Factor() safety.Factor { return safety.FactorHazards }

// Compute implements Adapter.
func (h *Hazards) Compute(ctx context.Context, c geo.Coordinate, _ safety.Context) (Measurement, error) {
	if h.cfg.Reports == nil {
		return Measurement{}, ErrSourceUnavailable
	}

	now := h.cfg.Now()
	reports, err := withTimeout(ctx, h.cfg.FetchTimeout, func(ctx context.Context) ([]HazardReport, error) {
		return h.cfg.Reports.RecentHazards(ctx, c, h.cfg.RadiusMeters, now.Add(-h.cfg.Window))
	})
	if err != nil {
		return Measurement{}, err
	}

	presence := HazardPresence(reports, now)
	verified := 0
	for _, r := range reports {
		if r.Verified {
			verified++
		}
	}

	return Measurement{
		Score:  safety.Clamp(100 - presence),
		Source: "hazard_reports",
		Inputs: map[string]float64{
			"reports":  float64(len(reports)),
			"verified": float64(verified),
			"presence": presence,
		},
	}, nil
}

// HazardContribution is the decayed weight of a single report in [0, 1.5].
func HazardContribution(r HazardReport, now time.Time) float64 {
	days := now.Sub(r.ReportedAt).Hours() / 24
	if days < 0 {
		days = 0
	}

	sev := r.Severity
	if sev < 1 {
		sev = 1
	}
	if sev > maxSeverity {
		sev = maxSeverity
	}

	v := math.Exp(-days/hazardDecayDays) * float64(sev) / maxSeverity
	if r.Verified {
		v *= hazardVerifiedBonus
	}
	return v
}

// HazardPresence averages report contributions on a 0-100 scale. No reports
// means no presence.
func HazardPresence(reports []HazardReport, now time.Time) float64 {
	if len(reports) == 0 {
		return 0
	}
	var sum float64
	for _, r := range reports {
		sum += HazardContribution(r, now)
	}
	return safety.Clamp(sum / float64(len(reports)) * 100)
}
