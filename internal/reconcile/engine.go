package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"saltosync/internal/models"
)

// Summary is the outcome of one reconciliation run.
type Summary struct {
	RunID              string
	AsOf               time.Time
	Inserted           int
	Updated            int
	Revoked            int
	Unchanged          int
	WriteErrors        int
	ResolutionFailures []string
}

// Engine runs full reconciliation passes: it loads the active bookings and
// the identity snapshot, expands all grants, and converges the staging
// table to the union of zones each identity should currently have.
type Engine struct {
	bookings    BookingSource
	identities  IdentitySource
	groups      GroupSource
	tracker     *Tracker
	store       StagingStore
	roomZones   map[int64]string
	groupPrefix string
	logger      zerolog.Logger
}

// NewEngine wires a reconciliation engine.
func NewEngine(bookings BookingSource, identities IdentitySource, groups GroupSource, store StagingStore, roomZones map[int64]string, groupPrefix string, logger zerolog.Logger) *Engine {
	return &Engine{
		bookings:    bookings,
		identities:  identities,
		groups:      groups,
		tracker:     NewTracker(store, logger),
		store:       store,
		roomZones:   roomZones,
		groupPrefix: groupPrefix,
		logger:      logger.With().Str("component", "reconciler").Logger(),
	}
}

// Tracker returns the processing tracker so the backend acknowledgment path
// can report outcomes through the same component.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Run executes one reconciliation pass as of the given time. Any source
// fetch failure aborts before a single row is written; per-row write
// failures are counted and do not block sibling rows. The result is a
// function of the set of active bookings, independent of fetch order.
func (e *Engine) Run(ctx context.Context, asOf time.Time) (*Summary, error) {
	summary := &Summary{RunID: uuid.New().String(), AsOf: asOf}
	logger := e.logger.With().Str("run_id", summary.RunID).Logger()

	identities, err := e.identities.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity snapshot: %w", err)
	}
	resolver := NewResolver(identities)
	summary.ResolutionFailures = append(summary.ResolutionFailures, resolver.Failures()...)

	bookings, err := e.bookings.ActiveBookings(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("active bookings: %w", err)
	}

	target, err := e.buildTarget(ctx, bookings, resolver, asOf, summary)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.ListStagingRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("staging rows: %w", err)
	}

	e.apply(ctx, target, existing, summary, logger)

	logger.Info().
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("revoked", summary.Revoked).
		Int("unchanged", summary.Unchanged).
		Int("write_errors", summary.WriteErrors).
		Int("resolution_failures", len(summary.ResolutionFailures)).
		Msg("reconciliation pass finished")
	return summary, nil
}

// buildTarget expands every active booking and accumulates the union of
// zones per external identity. Duplicate bookings collapse here.
func (e *Engine) buildTarget(ctx context.Context, bookings []models.Booking, resolver *Resolver, asOf time.Time, summary *Summary) (map[string]models.ZoneSet, error) {
	expander := NewExpander(e.roomZones, e.groups, resolver, e.groupPrefix, e.logger)
	target := make(map[string]models.ZoneSet)
	for _, b := range bookings {
		if !b.ActiveAt(asOf) {
			continue
		}
		grants, failures, err := expander.Expand(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("expand booking %d: %w", b.ID, err)
		}
		summary.ResolutionFailures = append(summary.ResolutionFailures, failures...)
		for _, g := range grants {
			if target[g.ExtID] == nil {
				target[g.ExtID] = models.ZoneSet{}
			}
			target[g.ExtID].Add(g.Zone)
		}
	}
	return target, nil
}

// apply diffs the target state against the stored rows and issues the
// minimal set of mutations through the tracker. Rows for identities no
// longer granted anything are written back with an empty zone list so the
// backend processes the revocation; rows already empty and consumed stay as
// inert tombstones.
func (e *Engine) apply(ctx context.Context, target map[string]models.ZoneSet, existing []models.StagingRow, summary *Summary, logger zerolog.Logger) {
	byExtID := make(map[string]*models.StagingRow, len(existing))
	for i := range existing {
		byExtID[existing[i].ExtID] = &existing[i]
	}

	for extID, zones := range target {
		op, err := e.tracker.MarkForProcessing(ctx, byExtID[extID], extID, zones)
		if err != nil {
			summary.WriteErrors++
			logger.Error().Err(err).Str("ext_id", extID).Msg("staging write failed")
			continue
		}
		switch op {
		case OpInsert:
			summary.Inserted++
		case OpUpdate:
			summary.Updated++
		default:
			summary.Unchanged++
		}
	}

	for extID, row := range byExtID {
		if _, granted := target[extID]; granted {
			continue
		}
		op, err := e.tracker.MarkForProcessing(ctx, row, extID, models.ZoneSet{})
		if err != nil {
			summary.WriteErrors++
			logger.Error().Err(err).Str("ext_id", extID).Msg("staging revocation failed")
			continue
		}
		if op == OpUpdate {
			summary.Revoked++
		}
	}
}
