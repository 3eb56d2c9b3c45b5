// Package reconcile turns the set of active bookings into idempotent
// mutations of the salto_staging table and manages the table's processing
// lifecycle.
package reconcile

import (
	"fmt"
	"strconv"

	"saltosync/internal/models"
)

// Resolver maps transponder ids to access-control external identities. It
// is built once per run from a full identity snapshot; identities whose
// numeric title does not parse are excluded and reported as failures.
type Resolver struct {
	byTransponder map[int64]string
	failures      []string
}

// NewResolver indexes an identity snapshot by parsed transponder id.
func NewResolver(identities []models.Identity) *Resolver {
	r := &Resolver{byTransponder: make(map[int64]string, len(identities))}
	for _, id := range identities {
		transponder, err := strconv.ParseInt(id.Title, 10, 64)
		if err != nil {
			r.failures = append(r.failures,
				fmt.Sprintf("identity %s: title %q is not a transponder id", id.ExtID, id.Title))
			continue
		}
		r.byTransponder[transponder] = id.ExtID
	}
	return r
}

// Resolve returns the external id for a transponder. A missing match means
// the person cannot be granted access, not an error.
func (r *Resolver) Resolve(transponder int64) (string, bool) {
	extID, ok := r.byTransponder[transponder]
	return extID, ok
}

// Failures returns the resolution failures collected while indexing the
// snapshot.
func (r *Resolver) Failures() []string {
	return r.failures
}
