package model

// PointType distinguishes pickup and dropoff telemetry points.
type PointType string

// Known point types. Anything else is treated as PointOther.
const (
	PointPickup  PointType = "pickup"
	PointDropoff PointType = "dropoff"
	PointOther   PointType = "other"
)

// PointSource records how a trip point was produced upstream.
type PointSource string

// Known point sources.
const (
	SourceLocation  PointSource = "location"
	SourceDriverApp PointSource = "driver_app"
)

// MatchState is the computed match classification of a trip point.
type MatchState string

// Match classification outcomes.
const (
	Matched   MatchState = "matched"
	Unmatched MatchState = "unmatched"
	Unknown   MatchState = "unknown"
)

// TripPoint is a single pickup/dropoff telemetry point. Points are produced
// per sync and never persisted individually.
type TripPoint struct {
	Driver        *Coordinate
	Expected      *Coordinate
	UpstreamMatch *bool
	TripID        string
	AreaName      string
	Reason        string
	Type          PointType
	Source        PointSource
	Match         MatchState
}

// PointStats aggregates per-trip point match results.
type PointStats struct {
	PickupRate      float64
	DropoffRate     float64
	OverallRate     float64
	LocationPoints  int
	DriverAppPoints int
}
