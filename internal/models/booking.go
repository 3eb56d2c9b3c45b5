package models

import (
	"strconv"
	"strings"
	"time"
)

// Booking represents one reservation of a room synced from the scheduling
// system. Times are UTC. The owner transponder id is nil when the creator's
// profile carries no transponder.
type Booking struct {
	ID                 int64
	ResourceID         int64
	StartTime          time.Time
	EndTime            time.Time
	Description        string
	CreatedBy          int64
	OwnerTransponderID *int64
}

// ActiveAt reports whether the booking's interval has not yet fully elapsed.
func (b Booking) ActiveAt(t time.Time) bool {
	return b.EndTime.After(t)
}

// PermittedGroups extracts group ids from the description. A group is
// referenced by a whitespace-separated token of the form <prefix><group_id>.
// Tokens whose id part does not parse are ignored.
func (b Booking) PermittedGroups(prefix string) []int64 {
	var groups []int64
	for _, word := range strings.Fields(b.Description) {
		rest, ok := strings.CutPrefix(word, prefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			continue
		}
		groups = append(groups, id)
	}
	return groups
}

// Equal reports whether two bookings carry the same data. Used by the cache
// sync to detect bookings whose times or description changed upstream.
func (b Booking) Equal(other Booking) bool {
	if b.ID != other.ID ||
		b.ResourceID != other.ResourceID ||
		!b.StartTime.Equal(other.StartTime) ||
		!b.EndTime.Equal(other.EndTime) ||
		b.Description != other.Description ||
		b.CreatedBy != other.CreatedBy {
		return false
	}
	switch {
	case b.OwnerTransponderID == nil && other.OwnerTransponderID == nil:
		return true
	case b.OwnerTransponderID == nil || other.OwnerTransponderID == nil:
		return false
	default:
		return *b.OwnerTransponderID == *other.OwnerTransponderID
	}
}
