// Package points classifies pickup/dropoff telemetry points and aggregates
// per-trip point-match success rates.
package points

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/geo"
	"github.com/fleetops/tripsync/internal/model"
	"github.com/fleetops/tripsync/internal/service"
)

// MatchThresholdKm is the maximum driver-to-expected distance for a
// distance-based point match.
const MatchThresholdKm = 0.1

// ErrNoPoints indicates the warehouse returned no points for the trip. The
// usual cause is trip age beyond the warehouse retention window.
var ErrNoPoints = fmt.Errorf("%w: no trip points available (trip may exceed the warehouse retention window)", common.ErrNoData)

// Config holds the warehouse question used to fetch trip points.
type Config struct {
	QuestionID   int
	ExportFormat string
}

// Calculator implements the service.PointStatsProvider interface.
type Calculator struct {
	warehouse  service.WarehouseRunner
	boundaries *geo.BoundaryIndex
	logger     *slog.Logger
	cfg        Config
}

// NewCalculator creates a point stats calculator backed by the warehouse.
func NewCalculator(warehouse service.WarehouseRunner, boundaries *geo.BoundaryIndex, cfg Config) *Calculator {
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = "json"
	}
	if boundaries == nil {
		boundaries = geo.NewBoundaryIndex()
	}
	return &Calculator{
		warehouse:  warehouse,
		boundaries: boundaries,
		cfg:        cfg,
		logger:     common.ComponentLogger("points"),
	}
}

// TripPointStats fetches the trip's points from the warehouse and aggregates
// match statistics. The export endpoint is preferred; the row-capped query
// endpoint is the fallback when export fails.
func (c *Calculator) TripPointStats(ctx context.Context, tripID string) (*model.PointStats, error) {
	params := []service.QueryParameter{warehouseTripParam(tripID)}

	rows, err := c.warehouse.RunExport(ctx, c.cfg.QuestionID, params, c.cfg.ExportFormat)
	if err != nil {
		c.logger.Warn("Export failed, falling back to query endpoint",
			"trip_id", tripID,
			"error", err)
		rows, err = c.warehouse.RunQuery(ctx, c.cfg.QuestionID, params)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch trip points: %w", err)
		}
	}

	pts := make([]model.TripPoint, 0, len(rows))
	for _, row := range rows {
		pts = append(pts, normalizeRow(tripID, row))
	}

	return c.ComputeStats(tripID, pts)
}

// ComputeStats classifies each point and aggregates success rates. Points
// belonging to other trips are ignored so precomputed sets can span a batch.
func (c *Calculator) ComputeStats(tripID string, pts []model.TripPoint) (*model.PointStats, error) {
	var stats model.PointStats
	var pickupMatched, pickupApplicable int
	var dropoffMatched, dropoffApplicable int
	var overallMatched, overallApplicable int

	seen := 0
	for i := range pts {
		pt := &pts[i]
		if pt.TripID != "" && pt.TripID != tripID {
			continue
		}
		seen++

		c.Classify(pt)

		switch pt.Source {
		case model.SourceLocation:
			stats.LocationPoints++
		case model.SourceDriverApp:
			stats.DriverAppPoints++
		}

		if pt.Match == model.Unknown {
			continue
		}

		matched := pt.Match == model.Matched
		overallApplicable++
		if matched {
			overallMatched++
		}

		switch pt.Type {
		case model.PointPickup:
			pickupApplicable++
			if matched {
				pickupMatched++
			}
		case model.PointDropoff:
			dropoffApplicable++
			if matched {
				dropoffMatched++
			}
		}
	}

	if seen == 0 {
		return nil, ErrNoPoints
	}

	stats.PickupRate = rate(pickupMatched, pickupApplicable)
	stats.DropoffRate = rate(dropoffMatched, dropoffApplicable)
	stats.OverallRate = rate(overallMatched, overallApplicable)

	return &stats, nil
}

// Classify fills in the point's match result and reason.
//
// Decision order: dropoff points without an expected location are validated
// against the city boundary for their declared area; an upstream-supplied
// match flag is trusted verbatim; otherwise a distance-threshold match is
// computed when both coordinate pairs are present.
func (c *Calculator) Classify(pt *model.TripPoint) {
	if pt.Type == model.PointDropoff && pt.Expected == nil {
		if pt.Driver == nil {
			pt.Match = model.Unknown
			pt.Reason = "Missing coordinates"
			return
		}
		inside, known := c.boundaries.Contains(pt.AreaName, *pt.Driver)
		if !known {
			pt.Match = model.Unknown
			pt.Reason = fmt.Sprintf("No boundary registered for area %q", pt.AreaName)
			return
		}
		if inside {
			pt.Match = model.Matched
			pt.Reason = "Inside city boundary"
		} else {
			pt.Match = model.Unmatched
			pt.Reason = "Outside city boundary"
		}
		return
	}

	if pt.UpstreamMatch != nil {
		if *pt.UpstreamMatch {
			pt.Match = model.Matched
		} else {
			pt.Match = model.Unmatched
		}
		pt.Reason = "Upstream match flag"
		return
	}

	if pt.Driver != nil && pt.Expected != nil {
		d := geo.HaversineKm(*pt.Driver, *pt.Expected)
		if d <= MatchThresholdKm {
			pt.Match = model.Matched
		} else {
			pt.Match = model.Unmatched
		}
		pt.Reason = fmt.Sprintf("%.3f km from expected location", d)
		return
	}

	pt.Match = model.Unknown
	pt.Reason = "Missing coordinates"
}

// IsNoPoints reports whether an error from the calculator means the trip has
// no points at all, as opposed to a fetch failure.
func IsNoPoints(err error) bool {
	return errors.Is(err, ErrNoPoints)
}

func rate(matched, applicable int) float64 {
	if applicable == 0 {
		return 0
	}
	return geo.Round2(float64(matched) / float64(applicable) * 100)
}

func warehouseTripParam(tripID string) service.QueryParameter {
	return service.QueryParameter{
		Type:   "category",
		Target: []any{"variable", []any{"template-tag", "trip_id"}},
		Value:  tripID,
	}
}

// normalizeRow is the single normalization step from a warehouse row object
// into a typed trip point.
func normalizeRow(tripID string, row map[string]any) model.TripPoint {
	pt := model.TripPoint{
		TripID:   asString(row["trip_id"]),
		AreaName: asString(row["area_name"]),
		Type:     pointType(asString(row["point_type"])),
		Source:   pointSource(asString(row["source"])),
	}
	if pt.TripID == "" {
		pt.TripID = tripID
	}

	pt.Driver = asCoordinate(row["driver_lat"], row["driver_lng"])
	pt.Expected = asCoordinate(row["expected_lat"], row["expected_lng"])

	if matched, ok := asBool(row["matched"]); ok {
		pt.UpstreamMatch = &matched
	}

	return pt
}

func pointType(s string) model.PointType {
	switch strings.ToLower(s) {
	case "pickup":
		return model.PointPickup
	case "dropoff":
		return model.PointDropoff
	default:
		return model.PointOther
	}
}

func pointSource(s string) model.PointSource {
	if strings.ToLower(s) == "driver_app" {
		return model.SourceDriverApp
	}
	return model.SourceLocation
}

func asCoordinate(lat, lng any) *model.Coordinate {
	latF, latOK := asFloat(lat)
	lngF, lngOK := asFloat(lng)
	if !latOK || !lngOK {
		return nil
	}
	return &model.Coordinate{Lat: latF, Lng: lngF}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
