package spatial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saferoute/saferoute/internal/geo"
	"github.com/saferoute/saferoute/internal/signal"
)

// maxFacilities bounds a single nearby-facility query.
const maxFacilities = 200

// PostgresStore is a PostGIS implementation of the signal data sources.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply spatial schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// NearbyFacilities implements signal.FacilitySource.
func (s *PostgresStore) NearbyFacilities(ctx context.Context, center geo.Coordinate, radiusMeters float64, kind signal.FacilityKind) ([]signal.Facility, error) {
	query := `
		SELECT
			id, kind, name,
			ST_Y(location::geometry), ST_X(location::geometry),
			working,
			ST_Distance(location, ST_MakePoint($2, $1)::geography) AS distance
		FROM facilities
		WHERE kind = $4
		  AND ST_DWithin(location, ST_MakePoint($2, $1)::geography, $3)
		ORDER BY distance
		LIMIT $5
	`

	rows, err := s.pool.Query(ctx, query, center.Lat, center.Lon, radiusMeters, string(kind), maxFacilities)
	if err != nil {
		return nil, fmt.Errorf("query facilities: %w", err)
	}
	defer rows.Close()

	var out []signal.Facility
	for rows.Next() {
		var (
			f signal.Facility
			k string
		)
		if err := rows.Scan(&f.ID, &k, &f.Name, &f.Location.Lat, &f.Location.Lon, &f.Working, &f.DistanceMeters); err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		f.Kind = signal.FacilityKind(k)
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecentHazards implements signal.HazardSource.
func (s *PostgresStore) RecentHazards(ctx context.Context, center geo.Coordinate, radiusMeters float64, since time.Time) ([]signal.HazardReport, error) {
	query := `
		SELECT
			id, hazard_type, severity, verified, reported_at,
			ST_Y(location::geometry), ST_X(location::geometry)
		FROM hazard_reports
		WHERE reported_at >= $4
		  AND ST_DWithin(location, ST_MakePoint($2, $1)::geography, $3)
		ORDER BY reported_at DESC
	`

	rows, err := s.pool.Query(ctx, query, center.Lat, center.Lon, radiusMeters, since)
	if err != nil {
		return nil, fmt.Errorf("query hazard reports: %w", err)
	}
	defer rows.Close()

	var out []signal.HazardReport
	for rows.Next() {
		var (
			r        signal.HazardReport
			severity int16
		)
		if err := rows.Scan(&r.ID, &r.Type, &severity, &r.Verified, &r.ReportedAt, &r.Location.Lat, &r.Location.Lon); err != nil {
			return nil, fmt.Errorf("scan hazard report: %w", err)
		}
		r.Severity = int(severity)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LightingReports implements signal.CrowdReportSource.
func (s *PostgresStore) LightingReports(ctx context.Context, center geo.Coordinate, radiusMeters float64, since time.Time) ([]signal.CrowdReport, error) {
	query := `
		SELECT
			lr.reporter_id, lr.rating, lr.reported_at,
			rp.verified_reports, rp.total_reports
		FROM lighting_reports lr
		JOIN reporters rp ON rp.id = lr.reporter_id
		WHERE lr.reported_at >= $4
		  AND ST_DWithin(lr.location, ST_MakePoint($2, $1)::geography, $3)
	`

	rows, err := s.pool.Query(ctx, query, center.Lat, center.Lon, radiusMeters, since)
	if err != nil {
		return nil, fmt.Errorf("query lighting reports: %w", err)
	}
	defer rows.Close()

	var out []signal.CrowdReport
	for rows.Next() {
		var (
			r      signal.CrowdReport
			rating int16
		)
		if err := rows.Scan(&r.ReporterID, &rating, &r.ReportedAt, &r.ReporterVerified, &r.ReporterTotal); err != nil {
			return nil, fmt.Errorf("scan lighting report: %w", err)
		}
		r.Rating = ratingToScore(int(rating))
		out = append(out, r)
	}
	return out, rows.Err()
}

// AreaActivity implements signal.ActivitySource using the nearest area.
func (s *PostgresStore) AreaActivity(ctx context.Context, center geo.Coordinate, radiusMeters float64) (signal.AreaActivity, error) {
	query := `
		SELECT business_index, transit_index, hourly_footfall
		FROM area_activity
		WHERE ST_DWithin(location, ST_MakePoint($2, $1)::geography, $3)
		ORDER BY location <-> ST_MakePoint($2, $1)::geography
		LIMIT 1
	`

	var a signal.AreaActivity
	err := s.pool.QueryRow(ctx, query, center.Lat, center.Lon, radiusMeters).
		Scan(&a.BusinessIndex, &a.TransitIndex, &a.HourlyFootfall)
	if errors.Is(err, pgx.ErrNoRows) {
		return signal.AreaActivity{}, ErrNoArea
	}
	if err != nil {
		return signal.AreaActivity{}, fmt.Errorf("query area activity: %w", err)
	}
	return a, nil
}

// CountPOIs implements signal.POICounter from the local POI table.
func (s *PostgresStore) CountPOIs(ctx context.Context, center geo.Coordinate, radiusMeters float64) (int, error) {
	query := `
		SELECT count(*)
		FROM points_of_interest
		WHERE ST_DWithin(location, ST_MakePoint($2, $1)::geography, $3)
	`

	var n int
	if err := s.pool.QueryRow(ctx, query, center.Lat, center.Lon, radiusMeters).Scan(&n); err != nil {
		return 0, fmt.Errorf("count points of interest: %w", err)
	}
	return n, nil
}

// SaveSnapshot persists a computed score.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	result, err := json.Marshal(snap.Result)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query := `
		INSERT INTO safety_score_snapshots
			(location, time_of_day, user_type, weather, overall, confidence, result, computed_at)
		VALUES
			(ST_MakePoint($2, $1)::geography, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		snap.Location.Lat, snap.Location.Lon,
		string(snap.Context.TimeOfDay), string(snap.Context.UserType), string(snap.Context.Weather),
		snap.Result.Overall, snap.Result.Confidence, result, snap.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}
