package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/fleetops/tripsync/internal/config"
	"github.com/fleetops/tripsync/internal/engine"
	"github.com/fleetops/tripsync/internal/geo"
	"github.com/fleetops/tripsync/internal/points"
	"github.com/fleetops/tripsync/internal/service"
	"github.com/fleetops/tripsync/internal/storage"
	"github.com/fleetops/tripsync/internal/tripapi"
	"github.com/fleetops/tripsync/internal/warehouse"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/tripsync/tripsync.db"
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initBoundaries loads the city boundary index when a path is configured.
// Syncing works without one; dropoff points then classify as Unknown.
func initBoundaries() (*geo.BoundaryIndex, error) {
	path := viper.GetString("boundaries.path")
	if path == "" {
		return geo.NewBoundaryIndex(), nil
	}

	idx, err := geo.LoadBoundaries(config.ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load boundaries: %w", err)
	}
	return idx, nil
}

// initOrchestrator builds the full sync stack from configuration.
func initOrchestrator(store service.Storage) (*engine.Orchestrator, error) {
	tripCfg, err := config.LoadTripAPIConfig()
	if err != nil {
		return nil, fmt.Errorf("trip API config: %w", err)
	}
	trips, err := tripapi.NewClient(tripCfg)
	if err != nil {
		return nil, err
	}

	whCfg, err := config.LoadWarehouseConfig()
	if err != nil {
		return nil, fmt.Errorf("warehouse config: %w", err)
	}
	wh, err := warehouse.NewClient(whCfg)
	if err != nil {
		return nil, err
	}

	boundaries, err := initBoundaries()
	if err != nil {
		return nil, err
	}

	calc := points.NewCalculator(wh, boundaries, config.LoadPointsConfig())

	engCfg := engine.DefaultConfig()
	if d := viper.GetDuration("engine.trip_timeout"); d > 0 {
		engCfg.TripTimeout = d
	}

	return engine.NewWithConfig(store, trips, calc, nil, engCfg), nil
}
