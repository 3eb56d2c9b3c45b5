package models

import (
	"sort"
	"strings"
)

// ZoneSet is a set of access-control zone ids. The staging table stores it
// serialized as a comma-separated list; element order in the serialized form
// is not significant, so comparisons must go through Equal, never through
// the string form.
type ZoneSet map[string]struct{}

// NewZoneSet builds a set from the given zone ids.
func NewZoneSet(zones ...string) ZoneSet {
	s := make(ZoneSet, len(zones))
	for _, z := range zones {
		s[z] = struct{}{}
	}
	return s
}

// ParseZoneList parses the serialized form stored in ext_zone_id_list.
// An empty string is the empty set.
func ParseZoneList(list string) ZoneSet {
	s := ZoneSet{}
	for _, z := range strings.Split(list, ",") {
		z = strings.TrimSpace(z)
		if z != "" {
			s[z] = struct{}{}
		}
	}
	return s
}

// Add inserts a zone id.
func (s ZoneSet) Add(zone string) {
	s[zone] = struct{}{}
}

// Zones returns the zone ids in sorted order.
func (s ZoneSet) Zones() []string {
	zones := make([]string, 0, len(s))
	for z := range s {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

// String serializes the set for storage, sorted for stable output.
func (s ZoneSet) String() string {
	return strings.Join(s.Zones(), ",")
}

// Equal reports set equality.
func (s ZoneSet) Equal(other ZoneSet) bool {
	if len(s) != len(other) {
		return false
	}
	for z := range s {
		if _, ok := other[z]; !ok {
			return false
		}
	}
	return true
}
