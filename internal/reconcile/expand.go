package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"saltosync/internal/models"
)

// Grant is one (external identity, zone) access pair implied by a booking.
type Grant struct {
	ExtID string
	Zone  string
}

// Expander produces the grants implied by a single booking: the owner's
// pair plus group-derived pairs parsed from the description.
type Expander struct {
	roomZones   map[int64]string
	groups      GroupSource
	resolver    *Resolver
	groupPrefix string
	logger      zerolog.Logger
}

// NewExpander builds an expander for one reconciliation run.
func NewExpander(roomZones map[int64]string, groups GroupSource, resolver *Resolver, groupPrefix string, logger zerolog.Logger) *Expander {
	return &Expander{
		roomZones:   roomZones,
		groups:      groups,
		resolver:    resolver,
		groupPrefix: groupPrefix,
		logger:      logger.With().Str("component", "expander").Logger(),
	}
}

// Expand returns the grants for one booking together with per-person
// resolution failures. An unmapped room or an unresolvable person drops the
// affected grant only; a group membership fetch failure is a source failure
// and aborts the run.
func (e *Expander) Expand(ctx context.Context, b models.Booking) ([]Grant, []string, error) {
	zone, ok := e.roomZones[b.ResourceID]
	if !ok {
		e.logger.Warn().
			Int64("booking_id", b.ID).
			Int64("resource_id", b.ResourceID).
			Msg("booking for unmapped room grants nothing")
		return nil, nil, nil
	}

	var grants []Grant
	var failures []string

	if b.OwnerTransponderID == nil {
		failures = append(failures,
			fmt.Sprintf("booking %d: owner %d has no transponder id", b.ID, b.CreatedBy))
	} else if extID, ok := e.resolver.Resolve(*b.OwnerTransponderID); ok {
		grants = append(grants, Grant{ExtID: extID, Zone: zone})
	} else {
		failures = append(failures,
			fmt.Sprintf("booking %d: no identity for owner transponder %d", b.ID, *b.OwnerTransponderID))
	}

	for _, groupID := range b.PermittedGroups(e.groupPrefix) {
		members, err := e.groups.GroupTransponders(ctx, groupID)
		if err != nil {
			return nil, nil, fmt.Errorf("group %d members: %w", groupID, err)
		}
		for _, transponder := range members {
			extID, ok := e.resolver.Resolve(transponder)
			if !ok {
				failures = append(failures,
					fmt.Sprintf("booking %d: no identity for group %d member transponder %d", b.ID, groupID, transponder))
				continue
			}
			grants = append(grants, Grant{ExtID: extID, Zone: zone})
		}
	}

	return grants, failures, nil
}
