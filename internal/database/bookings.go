package database

import (
	"context"
	"database/sql"
	"time"

	"saltosync/internal/models"
)

// ActiveBookings returns all cached bookings whose interval has not fully
// elapsed as of asOf.
func (db *DB) ActiveBookings(ctx context.Context, asOf time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, resource_id, start_time, end_time, description, created_by, owner_transponder_id
		FROM bookings WHERE end_time > ? ORDER BY id`,
		asOf.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

// BookingsInWindow returns cached bookings starting within [from, to).
// The cache sync compares this slice against the upstream fetch of the
// same window.
func (db *DB) BookingsInWindow(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, resource_id, start_time, end_time, description, created_by, owner_transponder_id
		FROM bookings WHERE start_time >= ? AND start_time < ? ORDER BY id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		var transponder sql.NullInt64
		if err := rows.Scan(&b.ID, &b.ResourceID, &b.StartTime, &b.EndTime,
			&b.Description, &b.CreatedBy, &transponder); err != nil {
			return nil, err
		}
		if transponder.Valid {
			t := transponder.Int64
			b.OwnerTransponderID = &t
		}
		b.StartTime = b.StartTime.UTC()
		b.EndTime = b.EndTime.UTC()
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// InsertBooking adds one booking to the cache. A row with the same id can
// already exist when it drifted out of the sync comparison window; the
// upsert keeps one stray row from wedging the whole sync pass.
func (db *DB) InsertBooking(ctx context.Context, b models.Booking) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO bookings (id, resource_id, start_time, end_time, description, created_by, owner_transponder_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_id = excluded.resource_id,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			description = excluded.description,
			created_by = excluded.created_by,
			owner_transponder_id = excluded.owner_transponder_id`,
		b.ID, b.ResourceID, b.StartTime.UTC(), b.EndTime.UTC(), b.Description, b.CreatedBy, nullInt(b.OwnerTransponderID),
	)
	return err
}

// UpdateBooking replaces the cached booking with the same id.
func (db *DB) UpdateBooking(ctx context.Context, b models.Booking) error {
	_, err := db.ExecContext(ctx,
		`UPDATE bookings SET resource_id = ?, start_time = ?, end_time = ?, description = ?, created_by = ?, owner_transponder_id = ?
		WHERE id = ?`,
		b.ResourceID, b.StartTime.UTC(), b.EndTime.UTC(), b.Description, b.CreatedBy, nullInt(b.OwnerTransponderID), b.ID,
	)
	return err
}

// DeleteBooking removes a booking from the cache.
func (db *DB) DeleteBooking(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
	return err
}

// PruneExpiredBookings removes bookings that ended before the cutoff and
// returns how many were removed.
func (db *DB) PruneExpiredBookings(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM bookings WHERE end_time < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
