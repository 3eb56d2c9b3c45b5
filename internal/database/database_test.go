package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saltosync/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	require.NoError(t, err)
	// Every pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBookingsCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	transponder := int64(555)
	b := models.Booking{
		ID:                 10,
		ResourceID:         1,
		StartTime:          now,
		EndTime:            now.Add(time.Hour),
		Description:        "SALTO_ALLOW_123",
		CreatedBy:          7,
		OwnerTransponderID: &transponder,
	}
	require.NoError(t, db.InsertBooking(ctx, b))

	noOwner := models.Booking{
		ID:         11,
		ResourceID: 2,
		StartTime:  now.Add(2 * time.Hour),
		EndTime:    now.Add(3 * time.Hour),
		CreatedBy:  8,
	}
	require.NoError(t, db.InsertBooking(ctx, noOwner))

	active, err := db.ActiveBookings(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.True(t, active[0].Equal(b))
	assert.Nil(t, active[1].OwnerTransponderID)

	// After the first booking elapsed only the second remains active.
	active, err = db.ActiveBookings(ctx, now.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(11), active[0].ID)
}

func TestBookingsWindowUpdateDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	b := models.Booking{ID: 1, ResourceID: 1, StartTime: now, EndTime: now.Add(time.Hour), CreatedBy: 7}
	require.NoError(t, db.InsertBooking(ctx, b))

	b.EndTime = now.Add(2 * time.Hour)
	b.Description = "extended"
	require.NoError(t, db.UpdateBooking(ctx, b))

	window, err := db.BookingsInWindow(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.True(t, window[0].Equal(b))

	outside, err := db.BookingsInWindow(ctx, now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, outside)

	require.NoError(t, db.DeleteBooking(ctx, 1))
	window, err = db.BookingsInWindow(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, window)
}

func TestInsertBookingToleratesExistingRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// An all-day booking that fell out of a comparison window gets
	// re-inserted by the next sync pass; that must not fail the pass.
	b := models.Booking{ID: 1, ResourceID: 1, StartTime: now, EndTime: now.Add(24 * time.Hour), CreatedBy: 7}
	require.NoError(t, db.InsertBooking(ctx, b))

	b.Description = "SALTO_ALLOW_5"
	require.NoError(t, db.InsertBooking(ctx, b))

	window, err := db.BookingsInWindow(ctx, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.True(t, window[0].Equal(b))
}

func TestPruneExpiredBookings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	old := models.Booking{ID: 1, ResourceID: 1, StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-2 * time.Hour), CreatedBy: 7}
	current := models.Booking{ID: 2, ResourceID: 1, StartTime: now, EndTime: now.Add(time.Hour), CreatedBy: 7}
	require.NoError(t, db.InsertBooking(ctx, old))
	require.NoError(t, db.InsertBooking(ctx, current))

	pruned, err := db.PruneExpiredBookings(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	active, err := db.ActiveBookings(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].ID)
}

func TestStagingRowLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	row, err := db.GetStagingRowByExtID(ctx, "E1")
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, db.InsertStagingRow(ctx, "E1", "ZoneA"))
	row, err = db.GetStagingRowByExtID(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.ActionUpdate, row.Action)
	assert.True(t, row.ToBeProcessed)
	assert.Nil(t, row.ProcessedAt)

	// Backend failure: error captured, row stays pending.
	require.NoError(t, db.MarkFailed(ctx, "E1", 17, "card pool exhausted"))
	row, err = db.GetStagingRowByExtID(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, row.ToBeProcessed)
	require.NotNil(t, row.ErrorCode)
	assert.Equal(t, int64(17), *row.ErrorCode)
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, "card pool exhausted", *row.ErrorMessage)

	// Backend success: unflagged, timestamped, errors cleared.
	processedAt := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.MarkProcessed(ctx, "E1", processedAt))
	row, err = db.GetStagingRowByExtID(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, row.ToBeProcessed)
	require.NotNil(t, row.ProcessedAt)
	assert.True(t, row.ProcessedAt.Equal(processedAt))
	assert.Nil(t, row.ErrorCode)
	assert.Nil(t, row.ErrorMessage)

	// Zone change re-flags the row but keeps the outcome fields.
	require.NoError(t, db.UpdateStagingZones(ctx, "E1", "ZoneA,ZoneB"))
	row, err = db.GetStagingRowByExtID(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, row.ToBeProcessed)
	assert.Equal(t, "ZoneA,ZoneB", row.ZoneList)
	require.NotNil(t, row.ProcessedAt)
}

func TestStagingUniqueExtID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.InsertStagingRow(ctx, "E1", "ZoneA"))
	assert.Error(t, db.InsertStagingRow(ctx, "E1", "ZoneB"))
}

func TestListStagingRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.InsertStagingRow(ctx, "E1", "ZoneA"))
	require.NoError(t, db.InsertStagingRow(ctx, "E2", ""))

	rows, err := db.ListStagingRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "E1", rows[0].ExtID)
	assert.Empty(t, rows[1].Zones())
}
