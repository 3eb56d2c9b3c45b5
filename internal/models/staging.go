package models

import "time"

// ActionUpdate is the fixed value of the salto_staging.action column. It is
// part of the downstream backend's protocol and must be written verbatim.
const ActionUpdate = 2

// StagingRow is one row of the salto_staging table: the complete current
// zone set for one external identity, plus the processing lifecycle flags
// maintained for the downstream access-control backend. There is at most
// one row per ext_id.
type StagingRow struct {
	ID            int64
	ExtID         string
	ZoneList      string
	Action        int
	ToBeProcessed bool
	ProcessedAt   *time.Time
	ErrorCode     *int64
	ErrorMessage  *string
}

// Zones parses the row's serialized zone list.
func (r StagingRow) Zones() ZoneSet {
	return ParseZoneList(r.ZoneList)
}

// Identity links a scheduling-system user to an access-control identity.
// Title is the raw numeric title as returned by the access-control system,
// potentially zero-padded; it must parse as int64 to be usable.
type Identity struct {
	Title string
	ExtID string
}
