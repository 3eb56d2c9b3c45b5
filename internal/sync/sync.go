// Package sync keeps the local bookings cache in step with the scheduling
// system so reconciliation always works from a full local snapshot.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"saltosync/internal/models"
)

// BookingFetcher fetches upstream bookings for the given resources in a
// date window.
type BookingFetcher interface {
	Bookings(ctx context.Context, resourceIDs []int64, from, to time.Time) ([]models.Booking, error)
}

// BookingCache is the local storage side of the sync.
type BookingCache interface {
	BookingsInWindow(ctx context.Context, from, to time.Time) ([]models.Booking, error)
	InsertBooking(ctx context.Context, b models.Booking) error
	UpdateBooking(ctx context.Context, b models.Booking) error
	DeleteBooking(ctx context.Context, id int64) error
	PruneExpiredBookings(ctx context.Context, before time.Time) (int64, error)
}

// Syncer mirrors the upstream booking list into the cache.
type Syncer struct {
	fetcher     BookingFetcher
	cache       BookingCache
	resourceIDs []int64
	prehold     time.Duration
	posthold    time.Duration
	logger      zerolog.Logger
}

// NewSyncer builds a syncer for the configured rooms. prehold is how far
// into the future to fetch, posthold how far into the past (recently ended
// bookings must stay visible so their revocations get computed).
func NewSyncer(fetcher BookingFetcher, cache BookingCache, resourceIDs []int64, prehold, posthold time.Duration, logger zerolog.Logger) *Syncer {
	return &Syncer{
		fetcher:     fetcher,
		cache:       cache,
		resourceIDs: resourceIDs,
		prehold:     prehold,
		posthold:    posthold,
		logger:      logger.With().Str("component", "booking-sync").Logger(),
	}
}

// SyncBookings fetches the upstream window and applies the difference to
// the cache: new bookings are inserted, vanished ones deleted, changed ones
// updated. A fetch failure leaves the cache untouched.
func (s *Syncer) SyncBookings(ctx context.Context, now time.Time) error {
	// The upstream API takes bare dates, so both sides of the diff must
	// cover the same whole days. A narrower cache window would drop
	// bookings starting earlier in the day and re-insert them every pass.
	from := dayStart(now.Add(-s.posthold))
	// The scheduling system plans to move to right-exclusive intervals; one
	// extra day keeps the window safe either way.
	to := dayStart(now.Add(s.prehold + 24*time.Hour))

	upstream, err := s.fetcher.Bookings(ctx, s.resourceIDs, from, to)
	if err != nil {
		return fmt.Errorf("fetch bookings: %w", err)
	}
	cached, err := s.cache.BookingsInWindow(ctx, from, to.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("read cached bookings: %w", err)
	}

	upstreamByID := make(map[int64]models.Booking, len(upstream))
	for _, b := range upstream {
		upstreamByID[b.ID] = b
	}
	cachedByID := make(map[int64]models.Booking, len(cached))
	for _, b := range cached {
		cachedByID[b.ID] = b
	}

	var inserted, updated, deleted int
	for _, b := range upstream {
		existing, ok := cachedByID[b.ID]
		switch {
		case !ok:
			if err := s.cache.InsertBooking(ctx, b); err != nil {
				return fmt.Errorf("insert booking %d: %w", b.ID, err)
			}
			inserted++
		case !existing.Equal(b):
			if err := s.cache.UpdateBooking(ctx, b); err != nil {
				return fmt.Errorf("update booking %d: %w", b.ID, err)
			}
			updated++
		}
	}
	for _, b := range cached {
		if _, ok := upstreamByID[b.ID]; !ok {
			if err := s.cache.DeleteBooking(ctx, b.ID); err != nil {
				return fmt.Errorf("delete booking %d: %w", b.ID, err)
			}
			deleted++
		}
	}

	s.logger.Debug().
		Int("inserted", inserted).
		Int("updated", updated).
		Int("deleted", deleted).
		Int("upstream", len(upstream)).
		Msg("bookings cache synced")
	return nil
}

// Prune drops cached bookings that ended before now minus the posthold.
func (s *Syncer) Prune(ctx context.Context, now time.Time) (int64, error) {
	return s.cache.PruneExpiredBookings(ctx, now.Add(-s.posthold))
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
