package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/model"
)

const tripColumns = `id, manual_distance, calculated_distance, route_quality, quality_label,
	short_count, medium_count, long_count, short_distance, medium_distance, long_distance,
	max_distance, avg_distance, log_count, completed_by, trip_time, low_accuracy, auto_ended,
	pickup_rate, dropoff_rate, overall_rate, location_points, driver_app_points, interaction_rate,
	created_at, updated_at`

// GetTrip returns a trip by identifier, or common.ErrNotFound.
func (s *SQLiteStorage) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getTripTx(ctx, nil, id)
}

func (s *SQLiteStorage) getTripTx(ctx context.Context, tx *sql.Tx, id string) (*model.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = ?`

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, id)
	} else {
		row = s.db.QueryRowContext(ctx, query, id)
	}

	trip, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trip %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip %s: %w", id, err)
	}
	return trip, nil
}

// SaveTrip inserts or fully replaces a trip record.
func (s *SQLiteStorage) SaveTrip(ctx context.Context, trip *model.Trip) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTrip(trip); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveTripTx(ctx, tx, trip); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveTripTx(ctx context.Context, tx *sql.Tx, trip *model.Trip) error {
	var sc, mc, lc *int
	var sd, md, ld, maxd, avgd *float64
	if trip.Segments != nil {
		seg := trip.Segments
		sc, mc, lc = &seg.ShortCount, &seg.MediumCount, &seg.LongCount
		sd, md, ld = &seg.ShortDistance, &seg.MediumDistance, &seg.LongDistance
		maxd, avgd = &seg.MaxDistance, &seg.AvgDistance
	}

	var label *string
	if trip.QualityLabel != nil {
		l := string(*trip.QualityLabel)
		label = &l
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO trips (
			id, manual_distance, calculated_distance, route_quality, quality_label,
			short_count, medium_count, long_count, short_distance, medium_distance, long_distance,
			max_distance, avg_distance, log_count, completed_by, trip_time, low_accuracy, auto_ended,
			pickup_rate, dropoff_rate, overall_rate, location_points, driver_app_points, interaction_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			manual_distance = excluded.manual_distance,
			calculated_distance = excluded.calculated_distance,
			route_quality = excluded.route_quality,
			quality_label = excluded.quality_label,
			short_count = excluded.short_count,
			medium_count = excluded.medium_count,
			long_count = excluded.long_count,
			short_distance = excluded.short_distance,
			medium_distance = excluded.medium_distance,
			long_distance = excluded.long_distance,
			max_distance = excluded.max_distance,
			avg_distance = excluded.avg_distance,
			log_count = excluded.log_count,
			completed_by = excluded.completed_by,
			trip_time = excluded.trip_time,
			low_accuracy = excluded.low_accuracy,
			auto_ended = excluded.auto_ended,
			pickup_rate = excluded.pickup_rate,
			dropoff_rate = excluded.dropoff_rate,
			overall_rate = excluded.overall_rate,
			location_points = excluded.location_points,
			driver_app_points = excluded.driver_app_points,
			interaction_rate = excluded.interaction_rate,
			updated_at = CURRENT_TIMESTAMP
	`,
		trip.ID, trip.ManualDistance, trip.CalculatedDistance, trip.RouteQuality, label,
		sc, mc, lc, sd, md, ld,
		maxd, avgd, trip.LogCount, trip.CompletedBy, trip.TripTime, trip.LowAccuracy, trip.AutoEnded,
		trip.PickupRate, trip.DropoffRate, trip.OverallRate,
		trip.LocationPoints, trip.DriverAppPoints, trip.InteractionRate,
	)
	if err != nil {
		return fmt.Errorf("failed to save trip %s: %w", trip.ID, err)
	}

	return nil
}

// GetTripCount returns the number of persisted trip records.
func (s *SQLiteStorage) GetTripCount(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trips: %w", err)
	}
	return count, nil
}

// GetTripIDs returns up to limit persisted trip identifiers, newest first.
// A non-positive limit returns all identifiers.
func (s *SQLiteStorage) GetTripIDs(ctx context.Context, limit int) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id FROM trips ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trip IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan trip ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanTrip(row *sql.Row) (*model.Trip, error) {
	var trip model.Trip
	var manualDist, calcDist sql.NullFloat64
	var routeQuality, label, completedBy sql.NullString
	var sc, mc, lc, logCount, locPoints, appPoints sql.NullInt64
	var sd, md, ld, maxd, avgd sql.NullFloat64
	var tripTime, pickupRate, dropoffRate, overallRate, interactionRate sql.NullFloat64
	var lowAccuracy, autoEnded sql.NullBool
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&trip.ID, &manualDist, &calcDist, &routeQuality, &label,
		&sc, &mc, &lc, &sd, &md, &ld,
		&maxd, &avgd, &logCount, &completedBy, &tripTime, &lowAccuracy, &autoEnded,
		&pickupRate, &dropoffRate, &overallRate, &locPoints, &appPoints, &interactionRate,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	trip.CreatedAt = createdAt
	trip.UpdatedAt = updatedAt
	trip.ManualDistance = nullFloat(manualDist)
	trip.CalculatedDistance = nullFloat(calcDist)
	trip.RouteQuality = nullString(routeQuality)
	if label.Valid {
		l := model.QualityLabel(label.String)
		trip.QualityLabel = &l
	}
	if sc.Valid {
		trip.Segments = &model.SegmentStats{
			ShortCount:     int(sc.Int64),
			MediumCount:    int(mc.Int64),
			LongCount:      int(lc.Int64),
			ShortDistance:  sd.Float64,
			MediumDistance: md.Float64,
			LongDistance:   ld.Float64,
			MaxDistance:    maxd.Float64,
			AvgDistance:    avgd.Float64,
		}
	}
	trip.LogCount = nullInt(logCount)
	trip.CompletedBy = nullString(completedBy)
	trip.TripTime = nullFloat(tripTime)
	trip.LowAccuracy = nullBool(lowAccuracy)
	trip.AutoEnded = nullBool(autoEnded)
	trip.PickupRate = nullFloat(pickupRate)
	trip.DropoffRate = nullFloat(dropoffRate)
	trip.OverallRate = nullFloat(overallRate)
	trip.LocationPoints = nullInt(locPoints)
	trip.DriverAppPoints = nullInt(appPoints)
	trip.InteractionRate = nullFloat(interactionRate)

	return &trip, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
