// Package model defines the core domain types for trip enrichment.
package model

import "time"

// Trip is the persisted enrichment record for a single trip. Derived fields
// are pointers so that "never fetched" is distinguishable from a zero value;
// the completeness check in the sync engine relies on that distinction.
type Trip struct {
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	ManualDistance     *float64      `json:"manual_distance,omitempty"`
	CalculatedDistance *float64      `json:"calculated_distance,omitempty"`
	RouteQuality       *string       `json:"route_quality,omitempty"` // operator-assigned, free text
	QualityLabel       *QualityLabel `json:"quality_label,omitempty"`
	Segments           *SegmentStats `json:"segments,omitempty"`
	LogCount           *int          `json:"log_count,omitempty"`
	CompletedBy        *string       `json:"completed_by,omitempty"`
	TripTime           *float64      `json:"trip_time,omitempty"` // elapsed trip time in seconds
	LowAccuracy        *bool         `json:"low_accuracy,omitempty"`
	AutoEnded          *bool         `json:"auto_ended,omitempty"`
	PickupRate         *float64      `json:"pickup_rate,omitempty"`
	DropoffRate        *float64      `json:"dropoff_rate,omitempty"`
	OverallRate        *float64      `json:"overall_rate,omitempty"`
	LocationPoints     *int          `json:"location_points,omitempty"`
	DriverAppPoints    *int          `json:"driver_app_points,omitempty"`
	InteractionRate    *float64      `json:"interaction_rate,omitempty"`
	ID                 string        `json:"id"`
}

// SegmentStats holds per-category segment counts and distances for one trip.
// It is recomputed wholesale from the coordinate trace on every sync, never
// patched incrementally, so counts and distances stay mutually consistent.
type SegmentStats struct {
	ShortCount     int     `json:"short_count"`
	MediumCount    int     `json:"medium_count"`
	LongCount      int     `json:"long_count"`
	ShortDistance  float64 `json:"short_distance"`
	MediumDistance float64 `json:"medium_distance"`
	LongDistance   float64 `json:"long_distance"`
	MaxDistance    float64 `json:"max_distance"`
	AvgDistance    float64 `json:"avg_distance"`
}

// TotalDistance returns the summed distance across all segment categories.
func (s SegmentStats) TotalDistance() float64 {
	return s.ShortDistance + s.MediumDistance + s.LongDistance
}

// SegmentCount returns the total number of segments.
func (s SegmentStats) SegmentCount() int {
	return s.ShortCount + s.MediumCount + s.LongCount
}

// QualityLabel is the heuristically-computed assessment of trip data
// reliability. It is derived, never persisted as user input.
type QualityLabel string

// The five quality labels, from worst to best.
const (
	NoLogsTrip          QualityLabel = "NoLogsTrip"
	TripPointsOnlyExist QualityLabel = "TripPointsOnlyExist"
	LowQualityTrip      QualityLabel = "LowQualityTrip"
	ModerateQualityTrip QualityLabel = "ModerateQualityTrip"
	HighQualityTrip     QualityLabel = "HighQualityTrip"
)

// Valid reports whether l is one of the five known labels.
func (l QualityLabel) Valid() bool {
	switch l {
	case NoLogsTrip, TripPointsOnlyExist, LowQualityTrip, ModerateQualityTrip, HighQualityTrip:
		return true
	}
	return false
}

// Coordinate is a single recorded GPS position.
type Coordinate struct {
	Lat float64
	Lng float64
}

// TripDetails is the normalized payload of a trip-detail fetch from the
// trip REST API.
type TripDetails struct {
	CalculatedDistance *float64
	CompletedBy        *string
	TripTime           *float64
	LowAccuracy        *bool
	AutoEnded          *bool
	Coordinates        []Coordinate
}
