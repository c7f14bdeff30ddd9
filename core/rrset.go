/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"github.com/miekg/dns"
)

// RRset is one resource record set: a name, a type, and possibly a
// covering RRSIG set, mirroring the shape of the teacher's own RRset
// (tdns/structs.go) but adding the owning Zone pointer this server needs
// to disambiguate parent-side delegation data from a child zone's own
// apex data sharing a node.
type RRset struct {
	Zone   *Zone
	Name   string
	RRtype uint16
	RRs    []dns.RR
	RRSIGs []dns.RR

	Dirty bool // marks a set modified since the last persisted image; nothing in this package sets it
}

// Descriptor returns the type descriptor governing this RRset's wire
// encoding rules (name compression, additional-section glue).
func (rs *RRset) Descriptor() TypeDescriptor {
	return DescriptorFor(rs.RRtype)
}

// TTL returns the TTL of the set's first RR, or 0 for an empty set.
func (rs *RRset) TTL() uint32 {
	if len(rs.RRs) == 0 {
		return 0
	}
	return rs.RRs[0].Header().Ttl
}

// Clone makes a deep-enough copy for safe use across a zone swap: the
// dns.RR slices are copied (dns.RR values are themselves copy-on-write
// safe via dns.Copy), but the Zone pointer is left for the caller to
// rebind onto the new zone generation.
func (rs *RRset) Clone() *RRset {
	out := &RRset{
		Zone:   rs.Zone,
		Name:   rs.Name,
		RRtype: rs.RRtype,
	}
	for _, rr := range rs.RRs {
		out.RRs = append(out.RRs, dns.Copy(rr))
	}
	for _, rr := range rs.RRSIGs {
		out.RRSIGs = append(out.RRSIGs, dns.Copy(rr))
	}
	return out
}
