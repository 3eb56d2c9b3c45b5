package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"saltosync/internal/models"
)

// Op is the staging mutation a tracker write resolved to.
type Op int

const (
	// OpNone means the stored zone set already matches the target.
	OpNone Op = iota
	// OpInsert means a fresh row was created.
	OpInsert
	// OpUpdate means an existing row's zone list was replaced.
	OpUpdate
)

// Tracker owns the staging rows' processing lifecycle: it writes zone-set
// changes flagged for processing and records the backend's consumption
// outcomes. It never marks a row processed on its own.
type Tracker struct {
	store  StagingStore
	logger zerolog.Logger
}

// NewTracker creates a tracker over the given staging storage.
func NewTracker(store StagingStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With().Str("component", "tracker").Logger(),
	}
}

// MarkForProcessing makes the stored row for extID carry exactly the given
// zone set, flagged to_be_processed. existing is the currently stored row,
// nil when there is none. Writes happen only when the set actually changed,
// so repeated reconciliation with unchanged bookings writes nothing.
func (t *Tracker) MarkForProcessing(ctx context.Context, existing *models.StagingRow, extID string, zones models.ZoneSet) (Op, error) {
	if existing == nil {
		if err := t.store.InsertStagingRow(ctx, extID, zones.String()); err != nil {
			return OpNone, err
		}
		t.logger.Info().Str("ext_id", extID).Str("zones", zones.String()).Msg("staged new grant row")
		return OpInsert, nil
	}
	if existing.Zones().Equal(zones) {
		return OpNone, nil
	}
	if err := t.store.UpdateStagingZones(ctx, extID, zones.String()); err != nil {
		return OpNone, err
	}
	t.logger.Info().Str("ext_id", extID).Str("zones", zones.String()).Msg("staged zone set change")
	return OpUpdate, nil
}

// ReportOutcome records the backend's consumption result for a row. On
// success the row is unflagged with a processed timestamp and cleared
// errors; on failure it stays flagged pending, with the error captured.
func (t *Tracker) ReportOutcome(ctx context.Context, extID string, success bool, errorCode int64, errorMessage string, at time.Time) error {
	if success {
		return t.store.MarkProcessed(ctx, extID, at)
	}
	t.logger.Warn().
		Str("ext_id", extID).
		Int64("error_code", errorCode).
		Str("error_message", errorMessage).
		Msg("backend reported processing failure")
	return t.store.MarkFailed(ctx, extID, errorCode, errorMessage)
}
