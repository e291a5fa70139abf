// Package engine implements the per-trip synchronization orchestrator and
// the bulk job tracker that drives it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/geo"
	"github.com/fleetops/tripsync/internal/model"
	"github.com/fleetops/tripsync/internal/points"
	"github.com/fleetops/tripsync/internal/quality"
	"github.com/fleetops/tripsync/internal/service"
)

// Action describes what a sync did to the persisted record.
type Action string

// Sync outcomes.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionError   Action = "error"
)

// SyncResult is the structured status returned alongside the record. Err is
// populated instead of panicking or propagating exceptions so batch drivers
// always continue past single-trip failures.
type SyncResult struct {
	Err           error
	Action        Action
	UpdatedFields []string
	Reasons       []string
}

// Config holds configuration options for the orchestrator.
type Config struct {
	// TripTimeout bounds the total wall-clock time of one trip's sync,
	// including all sub-fetch retries.
	TripTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TripTimeout: 4 * time.Minute,
	}
}

// Orchestrator decides which sub-fetches a trip needs, invokes the
// corresponding clients, recomputes derived fields, and persists the result
// as a single atomic update.
type Orchestrator struct {
	storage service.Storage
	trips   service.TripFetcher
	points  service.PointStatsProvider
	events  service.EventSource
	logger  *slog.Logger
	cfg     Config
}

// New creates an orchestrator with default configuration. The event source
// may be nil; interaction metrics are then only computed from precomputed
// event sets passed to Sync.
func New(storage service.Storage, trips service.TripFetcher, pointStats service.PointStatsProvider, events service.EventSource) *Orchestrator {
	return NewWithConfig(storage, trips, pointStats, events, DefaultConfig())
}

// NewWithConfig creates an orchestrator with custom configuration.
func NewWithConfig(storage service.Storage, trips service.TripFetcher, pointStats service.PointStatsProvider, events service.EventSource, cfg Config) *Orchestrator {
	if cfg.TripTimeout <= 0 {
		cfg.TripTimeout = DefaultConfig().TripTimeout
	}
	return &Orchestrator{
		storage: storage,
		trips:   trips,
		points:  pointStats,
		events:  events,
		logger:  common.ComponentLogger("engine"),
		cfg:     cfg,
	}
}

// Sync converges the persisted record for one trip. Precomputed points and
// events, when non-nil, replace the corresponding external fetches. The
// returned record is nil only when nothing could be loaded or persisted.
func (o *Orchestrator) Sync(ctx context.Context, tripID string, force bool, prePoints []model.TripPoint, preEvents []model.InteractionEvent) (*model.Trip, SyncResult) {
	if tripID == "" {
		return nil, errorResult(fmt.Errorf("trip ID cannot be empty"))
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TripTimeout)
	defer cancel()

	existing, err := o.storage.GetTrip(ctx, tripID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, errorResult(fmt.Errorf("failed to load trip %s: %w", tripID, err))
	}

	if existing != nil && !force && isComplete(existing) {
		return existing, SyncResult{Action: ActionSkipped, Reasons: []string{"record complete"}}
	}

	trip := &model.Trip{ID: tripID}
	if existing != nil {
		cp := *existing
		trip = &cp
	}

	var changed, reasons []string

	needMain := force || trip.CalculatedDistance == nil || trip.CompletedBy == nil ||
		trip.TripTime == nil || trip.LowAccuracy == nil || trip.AutoEnded == nil
	needSegments := force || trip.Segments == nil
	needLogs := force || trip.LogCount == nil
	needPoints := force || trip.PickupRate == nil || trip.DropoffRate == nil || trip.OverallRate == nil

	// Segment stats are computed from the coordinate trace, which only
	// arrives with the main attributes payload.
	if needSegments {
		needMain = true
	}

	if force {
		reasons = append(reasons, "forced")
	}

	if needMain {
		if !force {
			reasons = append(reasons, "missing trip attributes")
		}
		needLogs = o.fetchMain(ctx, trip, needSegments, needLogs, &changed)
	}

	if needLogs {
		if !force {
			reasons = append(reasons, "missing log count")
		}
		o.fetchLogCount(ctx, trip, &changed)
	}

	if needPoints {
		if !force {
			reasons = append(reasons, "missing point stats")
		}
		o.fetchPointStats(ctx, trip, prePoints, &changed)
	}

	// The quality label is always recomputed, even when no fetch ran, since
	// upstream values may have shifted underneath the stored label.
	label := computeLabel(trip)
	if trip.QualityLabel == nil || *trip.QualityLabel != label {
		l := label
		trip.QualityLabel = &l
		changed = append(changed, "quality_label")
	}

	o.mergeEvents(ctx, trip, preEvents, &changed)

	if len(changed) == 0 {
		return trip, SyncResult{Action: ActionSkipped, Reasons: append(reasons, "no field changes")}
	}

	if err := o.persist(ctx, trip); err != nil {
		return nil, errorResult(fmt.Errorf("failed to persist trip %s: %w", tripID, err))
	}

	action := ActionUpdated
	if existing == nil {
		action = ActionCreated
	}

	o.logger.Info("Trip synced",
		"trip_id", tripID,
		"action", action,
		"updated_fields", len(changed))

	return trip, SyncResult{Action: action, UpdatedFields: changed, Reasons: reasons}
}

// fetchMain pulls the trip's attributes and applies whatever the payload
// provides. It returns the (possibly cleared) needLogs flag: the coordinate
// trace, when present, doubles as the log count and saves a second call.
func (o *Orchestrator) fetchMain(ctx context.Context, trip *model.Trip, needSegments, needLogs bool, changed *[]string) bool {
	details, err := o.trips.FetchTrip(ctx, trip.ID)
	if err != nil {
		o.logger.Warn("Trip attribute fetch failed, continuing with remaining sub-fetches",
			"trip_id", trip.ID,
			"error", err)
		return needLogs
	}

	setFloat(&trip.CalculatedDistance, details.CalculatedDistance, "calculated_distance", changed)
	setString(&trip.CompletedBy, details.CompletedBy, "completed_by", changed)
	setFloat(&trip.TripTime, details.TripTime, "trip_time", changed)
	setBool(&trip.LowAccuracy, details.LowAccuracy, "low_accuracy", changed)
	setBool(&trip.AutoEnded, details.AutoEnded, "auto_ended", changed)

	if len(details.Coordinates) > 0 {
		if needSegments {
			seg := geo.AnalyzeSegments(details.Coordinates)
			if trip.Segments == nil || *trip.Segments != seg {
				trip.Segments = &seg
				*changed = append(*changed, "segments")
			}
		}
		if needLogs {
			n := len(details.Coordinates)
			setInt(&trip.LogCount, &n, "log_count", changed)
			return false
		}
	}

	return needLogs
}

func (o *Orchestrator) fetchLogCount(ctx context.Context, trip *model.Trip, changed *[]string) {
	n, err := o.trips.FetchCoordinateCount(ctx, trip.ID)
	if err != nil {
		o.logger.Warn("Coordinate count fetch failed, continuing",
			"trip_id", trip.ID,
			"error", err)
		return
	}
	setInt(&trip.LogCount, &n, "log_count", changed)
}

func (o *Orchestrator) fetchPointStats(ctx context.Context, trip *model.Trip, pre []model.TripPoint, changed *[]string) {
	var stats *model.PointStats
	var err error
	if pre != nil {
		stats, err = o.points.ComputeStats(trip.ID, pre)
	} else {
		stats, err = o.points.TripPointStats(ctx, trip.ID)
	}
	if err != nil {
		if points.IsNoPoints(err) {
			o.logger.Warn("No trip points available", "trip_id", trip.ID, "error", err)
		} else {
			o.logger.Warn("Point stats fetch failed, continuing",
				"trip_id", trip.ID,
				"error", err)
		}
		return
	}

	setFloat(&trip.PickupRate, &stats.PickupRate, "pickup_rate", changed)
	setFloat(&trip.DropoffRate, &stats.DropoffRate, "dropoff_rate", changed)
	setFloat(&trip.OverallRate, &stats.OverallRate, "overall_rate", changed)
	setInt(&trip.LocationPoints, &stats.LocationPoints, "location_points", changed)
	setInt(&trip.DriverAppPoints, &stats.DriverAppPoints, "driver_app_points", changed)
}

// mergeEvents folds interaction-event data into the record when the source
// is available. Event failures never abort the rest of the sync.
func (o *Orchestrator) mergeEvents(ctx context.Context, trip *model.Trip, pre []model.InteractionEvent, changed *[]string) {
	events := pre
	if events == nil && o.events != nil {
		var err error
		events, err = o.events.InteractionEvents(ctx, trip.ID)
		if err != nil {
			o.logger.Warn("Interaction event fetch failed, continuing",
				"trip_id", trip.ID,
				"error", err)
			return
		}
	}
	if len(events) == 0 {
		return
	}

	metrics := model.ComputeInteractionMetrics(trip.ID, events)
	setFloat(&trip.InteractionRate, &metrics.Rate, "interaction_rate", changed)
}

// persist writes all field changes in a single transaction.
func (o *Orchestrator) persist(ctx context.Context, trip *model.Trip) error {
	tx, err := o.storage.BeginTx(ctx)
	if err != nil {
		return err
	}

	if err := tx.SaveTrip(ctx, trip); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}

	return nil
}

func computeLabel(trip *model.Trip) model.QualityLabel {
	in := quality.Input{}
	if trip.LogCount != nil {
		in.LogCount = *trip.LogCount
	}
	if trip.LowAccuracy != nil {
		in.LowAccuracy = *trip.LowAccuracy
	}
	if trip.Segments != nil {
		in.MediumCount = trip.Segments.MediumCount
		in.LongCount = trip.Segments.LongCount
		in.ShortDistance = trip.Segments.ShortDistance
		in.MediumDistance = trip.Segments.MediumDistance
		in.LongDistance = trip.Segments.LongDistance
	}
	if trip.CalculatedDistance != nil {
		in.CalculatedDistance = *trip.CalculatedDistance
	}
	return quality.Classify(in)
}

// isComplete is the completeness check: every derived field present and
// numerically well-formed, and both quality fields non-null. Complete
// records skip all external calls unless the sync is forced.
func isComplete(trip *model.Trip) bool {
	for _, f := range []*float64{
		trip.ManualDistance, trip.CalculatedDistance,
		trip.PickupRate, trip.DropoffRate, trip.OverallRate,
	} {
		if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
			return false
		}
	}
	if trip.Segments == nil || trip.LogCount == nil || trip.LowAccuracy == nil {
		return false
	}
	if trip.QualityLabel == nil || trip.RouteQuality == nil {
		return false
	}
	return true
}

func errorResult(err error) SyncResult {
	return SyncResult{Action: ActionError, Err: err}
}

// Field setters mark a target field as updated only when the incoming value
// actually differs, which keeps the batch per-field counters accurate.

func setFloat(dst **float64, src *float64, name string, changed *[]string) {
	if src == nil {
		return
	}
	if *dst != nil && **dst == *src {
		return
	}
	v := *src
	*dst = &v
	*changed = append(*changed, name)
}

func setInt(dst **int, src *int, name string, changed *[]string) {
	if src == nil {
		return
	}
	if *dst != nil && **dst == *src {
		return
	}
	v := *src
	*dst = &v
	*changed = append(*changed, name)
}

func setString(dst **string, src *string, name string, changed *[]string) {
	if src == nil {
		return
	}
	if *dst != nil && **dst == *src {
		return
	}
	v := *src
	*dst = &v
	*changed = append(*changed, name)
}

func setBool(dst **bool, src *bool, name string, changed *[]string) {
	if src == nil {
		return
	}
	if *dst != nil && **dst == *src {
		return
	}
	v := *src
	*dst = &v
	*changed = append(*changed, name)
}
