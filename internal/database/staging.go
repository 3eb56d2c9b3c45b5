package database

import (
	"context"
	"database/sql"
	"time"

	"saltosync/internal/models"
)

// ListStagingRows returns all staging rows, including inert tombstones.
func (db *DB) ListStagingRows(ctx context.Context) ([]models.StagingRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, ext_id, ext_zone_id_list, action, to_be_processed, processed_datetime, error_code, error_message
		FROM salto_staging ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staging []models.StagingRow
	for rows.Next() {
		r, err := scanStagingRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		staging = append(staging, r)
	}
	return staging, rows.Err()
}

// GetStagingRowByExtID returns the row for an external identity, or nil
// when none exists.
func (db *DB) GetStagingRowByExtID(ctx context.Context, extID string) (*models.StagingRow, error) {
	r, err := scanStagingRow(db.QueryRowContext(ctx,
		`SELECT id, ext_id, ext_zone_id_list, action, to_be_processed, processed_datetime, error_code, error_message
		FROM salto_staging WHERE ext_id = ?`,
		extID,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanStagingRow(scan func(dest ...any) error) (models.StagingRow, error) {
	var r models.StagingRow
	var toBeProcessed int
	var processedAt sql.NullTime
	var errCode sql.NullInt64
	var errMsg sql.NullString
	if err := scan(&r.ID, &r.ExtID, &r.ZoneList, &r.Action, &toBeProcessed,
		&processedAt, &errCode, &errMsg); err != nil {
		return models.StagingRow{}, err
	}
	r.ToBeProcessed = toBeProcessed != 0
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		r.ProcessedAt = &t
	}
	if errCode.Valid {
		c := errCode.Int64
		r.ErrorCode = &c
	}
	if errMsg.Valid {
		m := errMsg.String
		r.ErrorMessage = &m
	}
	return r, nil
}

// InsertStagingRow creates a fresh row flagged for processing. The action
// column always carries the backend's fixed update code.
func (db *DB) InsertStagingRow(ctx context.Context, extID, zoneList string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO salto_staging (ext_id, ext_zone_id_list, action, to_be_processed)
		VALUES (?, ?, ?, 1)`,
		extID, zoneList, models.ActionUpdate,
	)
	return err
}

// UpdateStagingZones replaces the zone list and re-flags the row for
// processing. The processed/error fields belong to the backend outcome path
// and are deliberately left alone.
func (db *DB) UpdateStagingZones(ctx context.Context, extID, zoneList string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE salto_staging SET ext_zone_id_list = ?, action = ?, to_be_processed = 1
		WHERE ext_id = ?`,
		zoneList, models.ActionUpdate, extID,
	)
	return err
}

// MarkProcessed records a successful consumption by the backend.
func (db *DB) MarkProcessed(ctx context.Context, extID string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE salto_staging SET to_be_processed = 0, processed_datetime = ?, error_code = NULL, error_message = NULL
		WHERE ext_id = ?`,
		at.UTC(), extID,
	)
	return err
}

// MarkFailed records a failed consumption. The row stays flagged pending so
// a later pass or operator can pick it up.
func (db *DB) MarkFailed(ctx context.Context, extID string, code int64, message string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE salto_staging SET error_code = ?, error_message = ?
		WHERE ext_id = ?`,
		code, message, extID,
	)
	return err
}
