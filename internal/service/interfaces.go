// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/fleetops/tripsync/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Trip record operations
	GetTrip(ctx context.Context, id string) (*model.Trip, error)
	SaveTrip(ctx context.Context, trip *model.Trip) error
	GetTripCount(ctx context.Context) (int, error)
	GetTripIDs(ctx context.Context, limit int) ([]string, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// TripFetcher retrieves a single trip's attributes and coordinate count from
// the trip REST API.
type TripFetcher interface {
	FetchTrip(ctx context.Context, id string) (*model.TripDetails, error)
	FetchCoordinateCount(ctx context.Context, id string) (int, error)
}

// QueryParameter is one parameter of a warehouse question query.
type QueryParameter struct {
	Value  any
	Type   string
	Target []any
}

// WarehouseRunner executes parameterized question queries against the
// analytics warehouse, either row-capped or via the export endpoint.
type WarehouseRunner interface {
	RunQuery(ctx context.Context, questionID int, params []QueryParameter) ([]map[string]any, error)
	RunExport(ctx context.Context, questionID int, params []QueryParameter, format string) ([]map[string]any, error)
}

// PointStatsProvider produces per-trip point-match statistics, either by
// fetching points from the warehouse or from an already-obtained point set.
type PointStatsProvider interface {
	TripPointStats(ctx context.Context, tripID string) (*model.PointStats, error)
	ComputeStats(tripID string, points []model.TripPoint) (*model.PointStats, error)
}

// EventSource supplies driver interaction events for a trip. The production
// implementation reads a spreadsheet export and lives outside this engine.
type EventSource interface {
	InteractionEvents(ctx context.Context, tripID string) ([]model.InteractionEvent, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
