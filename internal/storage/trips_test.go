package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/model"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if closeErr := store.Close(); closeErr != nil {
			t.Errorf("Failed to close database: %v", closeErr)
		}
	})

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }

func labelPtr(v model.QualityLabel) *model.QualityLabel { return &v }

func fullTrip(id string) *model.Trip {
	return &model.Trip{
		ID:                 id,
		ManualDistance:     floatPtr(12.5),
		CalculatedDistance: floatPtr(11.8),
		RouteQuality:       strPtr("good"),
		QualityLabel:       labelPtr(model.HighQualityTrip),
		Segments: &model.SegmentStats{
			ShortCount:     8,
			MediumCount:    1,
			LongCount:      0,
			ShortDistance:  9.5,
			MediumDistance: 2.3,
			MaxDistance:    2.3,
			AvgDistance:    1.31,
		},
		LogCount:        intPtr(420),
		CompletedBy:     strPtr("driver-9"),
		TripTime:        floatPtr(1800),
		LowAccuracy:     boolPtr(false),
		AutoEnded:       boolPtr(false),
		PickupRate:      floatPtr(95.0),
		DropoffRate:     floatPtr(88.5),
		OverallRate:     floatPtr(91.2),
		LocationPoints:  intPtr(12),
		DriverAppPoints: intPtr(4),
		InteractionRate: floatPtr(25.0),
	}
}

func TestSaveAndGetTrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	saved := fullTrip("trip-1")
	require.NoError(t, store.SaveTrip(ctx, saved))

	got, err := store.GetTrip(ctx, "trip-1")
	require.NoError(t, err)

	assert.Equal(t, "trip-1", got.ID)
	assert.Equal(t, 12.5, *got.ManualDistance)
	assert.Equal(t, 11.8, *got.CalculatedDistance)
	assert.Equal(t, "good", *got.RouteQuality)
	assert.Equal(t, model.HighQualityTrip, *got.QualityLabel)

	require.NotNil(t, got.Segments)
	assert.Equal(t, 8, got.Segments.ShortCount)
	assert.Equal(t, 2.3, got.Segments.MediumDistance)
	assert.Equal(t, 1.31, got.Segments.AvgDistance)

	assert.Equal(t, 420, *got.LogCount)
	assert.Equal(t, "driver-9", *got.CompletedBy)
	assert.Equal(t, 1800.0, *got.TripTime)
	assert.False(t, *got.LowAccuracy)
	assert.False(t, *got.AutoEnded)
	assert.Equal(t, 95.0, *got.PickupRate)
	assert.Equal(t, 12, *got.LocationPoints)
	assert.Equal(t, 4, *got.DriverAppPoints)
	assert.Equal(t, 25.0, *got.InteractionRate)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSaveTrip_SparseRecordRoundTrips(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	// A record straight from a partial sync: only the identifier is known.
	require.NoError(t, store.SaveTrip(ctx, &model.Trip{ID: "trip-sparse"}))

	got, err := store.GetTrip(ctx, "trip-sparse")
	require.NoError(t, err)

	assert.Nil(t, got.ManualDistance)
	assert.Nil(t, got.CalculatedDistance)
	assert.Nil(t, got.RouteQuality)
	assert.Nil(t, got.QualityLabel)
	assert.Nil(t, got.Segments)
	assert.Nil(t, got.LogCount)
	assert.Nil(t, got.LowAccuracy)
	assert.Nil(t, got.PickupRate)
	assert.Nil(t, got.InteractionRate)
}

func TestSaveTrip_Upsert(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	trip := fullTrip("trip-1")
	require.NoError(t, store.SaveTrip(ctx, trip))

	trip.ManualDistance = floatPtr(99.9)
	trip.QualityLabel = labelPtr(model.LowQualityTrip)
	trip.Segments = nil
	require.NoError(t, store.SaveTrip(ctx, trip))

	got, err := store.GetTrip(ctx, "trip-1")
	require.NoError(t, err)

	assert.Equal(t, 99.9, *got.ManualDistance)
	assert.Equal(t, model.LowQualityTrip, *got.QualityLabel)
	// The upsert replaces the whole record, clearing fields set to nil.
	assert.Nil(t, got.Segments)

	count, err := store.GetTripCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetTrip_NotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetTrip(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetTrip_Validation(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetTrip(context.Background(), "")
	assert.Error(t, err)

	//nolint:staticcheck // testing nil-context validation on purpose
	_, err = store.GetTrip(nil, "trip-1")
	assert.Error(t, err)
}

func TestSaveTrip_RejectsInvalidRecords(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	assert.Error(t, store.SaveTrip(ctx, nil))
	assert.Error(t, store.SaveTrip(ctx, &model.Trip{}))

	bad := fullTrip("trip-nan")
	nan := 0.0
	nan = nan / nan
	bad.ManualDistance = &nan
	assert.Error(t, store.SaveTrip(ctx, bad))

	badLabel := fullTrip("trip-label")
	badLabel.QualityLabel = labelPtr(model.QualityLabel("Fabulous"))
	assert.Error(t, store.SaveTrip(ctx, badLabel))
}

func TestGetTripIDs(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SaveTrip(ctx, &model.Trip{ID: id}))
	}

	ids, err := store.GetTripIDs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	ids, err = store.GetTripIDs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveTrip(ctx, &model.Trip{ID: "committed"}))
	require.NoError(t, tx.Commit())

	_, err = store.GetTrip(ctx, "committed")
	assert.NoError(t, err)

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveTrip(ctx, &model.Trip{ID: "discarded"}))
	require.NoError(t, tx.Rollback())

	_, err = store.GetTrip(ctx, "discarded")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestTransaction_ReadsOwnWrites(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	require.NoError(t, tx.SaveTrip(ctx, fullTrip("trip-tx")))

	got, err := tx.GetTrip(ctx, "trip-tx")
	require.NoError(t, err)
	assert.Equal(t, "trip-tx", got.ID)
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	// A second migration run is a no-op, not an error.
	require.NoError(t, store.Migrate(ctx))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
}
