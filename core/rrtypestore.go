/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// rrKey identifies one RRset within a node: the owning zone plus the
// RR type (spec.md section 3, "RR store ... RRsets keyed by zone+type").
type rrKey struct {
	zone   *Zone
	rrtype uint16
}

// rrShard packs a key into the uint32 the sharding function wants. Zone
// identity dominates the shard so that a zone's RRsets cluster together,
// the same reasoning the teacher's ConcurrentRRTypeStore applies to a
// plain RR type key.
func rrShard(k rrKey) uint32 {
	return uint32(k.zone.id)<<16 | uint32(k.rrtype)
}

// RRTypeStore is a node's concurrent RRset registry; every node in the
// tree has its own instance. It is the zone-aware generalisation of the
// teacher's ConcurrentRRTypeStore: the teacher keys purely by RR type
// because its OwnerData never has to represent more than one zone's
// data at the same owner name; an authoritative server also has to
// represent parent-side delegation data (NS/glue) coexisting with a
// child zone's own apex at the same node, so the key here carries the
// zone too.
type RRTypeStore struct {
	data cmap.ConcurrentMap[rrKey, *RRset]
}

func NewRRTypeStore() *RRTypeStore {
	return &RRTypeStore{
		data: cmap.NewWithCustomShardingFunction[rrKey, *RRset](rrShard),
	}
}

func (s *RRTypeStore) Get(zone *Zone, rrtype uint16) (*RRset, bool) {
	return s.data.Get(rrKey{zone, rrtype})
}

func (s *RRTypeStore) Set(zone *Zone, rrtype uint16, rrset *RRset) {
	s.data.Set(rrKey{zone, rrtype}, rrset)
}

func (s *RRTypeStore) Delete(zone *Zone, rrtype uint16) {
	s.data.Remove(rrKey{zone, rrtype})
}

func (s *RRTypeStore) Count() int {
	return s.data.Count()
}

// ForZone returns every RRset stored for zone, in no particular order.
func (s *RRTypeStore) ForZone(zone *Zone) []*RRset {
	var out []*RRset
	for _, rs := range s.data.Items() {
		if rs.Zone == zone {
			out = append(out, rs)
		}
	}
	return out
}
