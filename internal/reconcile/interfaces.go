package reconcile

import (
	"context"
	"time"

	"saltosync/internal/models"
)

// BookingSource yields the bookings whose intervals have not fully elapsed.
type BookingSource interface {
	ActiveBookings(ctx context.Context, asOf time.Time) ([]models.Booking, error)
}

// IdentitySource yields a full snapshot of access-control identities.
type IdentitySource interface {
	ListIdentities(ctx context.Context) ([]models.Identity, error)
}

// GroupSource yields the transponder ids of a group's members.
type GroupSource interface {
	GroupTransponders(ctx context.Context, groupID int64) ([]int64, error)
}

// StagingStore provides row-level access to the salto_staging table. The
// unique constraint on ext_id is enforced by storage.
type StagingStore interface {
	ListStagingRows(ctx context.Context) ([]models.StagingRow, error)
	GetStagingRowByExtID(ctx context.Context, extID string) (*models.StagingRow, error)
	InsertStagingRow(ctx context.Context, extID, zoneList string) error
	UpdateStagingZones(ctx context.Context, extID, zoneList string) error
	MarkProcessed(ctx context.Context, extID string, at time.Time) error
	MarkFailed(ctx context.Context, extID string, code int64, message string) error
}
