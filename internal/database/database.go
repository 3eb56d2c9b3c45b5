// Package database holds the local SQLite storage: the bookings cache
// synced from the scheduling system and the salto_staging table consumed by
// the access-control backend.
package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the sync service.
type DB struct {
	*sql.DB
}

// NewDB opens the database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Local cache of scheduling-system bookings. id is the upstream
		// booking id, not auto-assigned.
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY,
			resource_id INTEGER NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_by INTEGER NOT NULL,
			owner_transponder_id INTEGER
		)`,

		// Staging table read asynchronously by the access-control backend.
		// action is a protocol constant (2 = update). to_be_processed is
		// flipped to 0 by the backend after it consumes the row.
		`CREATE TABLE IF NOT EXISTS salto_staging (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ext_id TEXT UNIQUE NOT NULL,
			ext_zone_id_list TEXT NOT NULL DEFAULT '',
			action INTEGER NOT NULL,
			to_be_processed INTEGER NOT NULL DEFAULT 1,
			processed_datetime DATETIME,
			error_code INTEGER,
			error_message TEXT
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_bookings_times ON bookings(start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_staging_pending ON salto_staging(to_be_processed)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
