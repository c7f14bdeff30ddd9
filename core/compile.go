/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"fmt"
	"io"

	"github.com/miekg/dns"
)

// CompileZoneFile reads a text zone file from r and builds a Zone rooted
// at origin within tree (spec.md section 4.2, "Zone compiler").
//
// $TTL, $ORIGIN and $INCLUDE are handled by dns.ZoneParser itself, the
// same tokenizer the teacher's ParseZoneFromReader (tdns/dnsutils.go)
// drives; this function adds the validation and tree-insertion pass the
// teacher's flat-map SortFunc does not need, because the teacher never
// builds an ordered tree.
func CompileZoneFile(tree *Tree, origin string, kind ZoneKind, r io.Reader) (*Zone, ZoneErrors) {
	var errs ZoneErrors

	zp := dns.NewZoneParser(r, origin, "")
	zp.SetIncludeAllowed(true)

	zone := NewZone(tree, origin, kind)

	firstSOASeen := false
	line := 0

	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		line++
		if err := zp.Err(); err != nil {
			errs.add(line, "%v", err)
			continue
		}

		hdr := rr.Header()
		if !isProperSuffix(hdr.Name, origin) && hdr.Name != origin {
			errs.add(line, "owner name %s is outside zone %s", hdr.Name, origin)
			continue
		}

		if _, ok := rr.(*dns.SOA); ok {
			if hdr.Name != origin {
				errs.add(line, "SOA owner %s must be the zone apex %s", hdr.Name, origin)
				continue
			}
			if firstSOASeen {
				errs.add(line, "zone %s has more than one SOA record", origin)
				continue
			}
			firstSOASeen = true
		}

		node := tree.Insert(hdr.Name)
		classifyRR(tree, zone, node, rr)
	}

	if err := zp.Err(); err != nil {
		errs.add(line, "%v", err)
	}

	if !firstSOASeen {
		errs.add(0, "zone %s has no SOA record", origin)
		return zone, errs
	}

	if err := finalizeZone(tree, zone); err != nil {
		errs.add(0, "%v", err)
	}

	if err := validateZone(tree, zone); err != nil {
		errs = append(errs, err...)
	}

	return zone, errs
}

// classifyRR routes rr into node's RRset store, splitting RRSIGs onto
// the RRset they cover, mirroring the teacher's SortFunc
// (tdns/dnsutils.go) but writing through Tree.AddRRset instead of a
// flat map assignment.
func classifyRR(tree *Tree, zone *Zone, node *Node, rr dns.RR) {
	var rrtype uint16
	isSig := false
	if sig, ok := rr.(*dns.RRSIG); ok {
		rrtype = sig.TypeCovered
		isSig = true
	} else {
		rrtype = rr.Header().Rrtype
	}

	rs := tree.FindRRset(node, zone, rrtype)
	if rs == nil {
		rs = &RRset{Zone: zone, Name: node.Name, RRtype: rrtype}
		tree.AddRRset(node, rs)
	}
	if isSig {
		rs.RRSIGs = append(rs.RRSIGs, rr)
	} else {
		rs.RRs = append(rs.RRs, rr)
	}
}

// finalizeZone reads the now-fully-populated SOA back out and caches its
// timer fields on Zone, the way the teacher caches CurrentSerial after
// the parse completes.
func finalizeZone(tree *Tree, zone *Zone) error {
	rs := tree.FindRRset(zone.Apex, zone, dns.TypeSOA)
	if rs == nil || len(rs.RRs) == 0 {
		return fmt.Errorf("zone %s: missing SOA after parse", zone.Origin)
	}
	soa := rs.RRs[0].(*dns.SOA)
	zone.Serial = soa.Serial
	zone.Refresh = soa.Refresh
	zone.Retry = soa.Retry
	zone.Expire = soa.Expire
	zone.Minimum = soa.Minttl
	return nil
}

// validateZone checks the structural invariants spec.md section 4.2
// requires beyond what the parser itself enforces: apex must carry NS,
// and CNAME must not coexist with other types at the same owner. Which
// other types a non-apex delegation point carries is not checked.
func validateZone(tree *Tree, zone *Zone) ZoneErrors {
	var errs ZoneErrors

	if rs := tree.FindRRset(zone.Apex, zone, dns.TypeNS); rs == nil || len(rs.RRs) == 0 {
		errs.add(0, "zone %s: apex has no NS records", zone.Origin)
	}

	for _, id := range tree.order {
		node := tree.Node(id)
		if node == nil || !isProperSuffix(node.Name, zone.Origin) {
			continue
		}
		cname, hasCNAME := node.Types.Get(zone, dns.TypeCNAME)
		if !hasCNAME || len(cname.RRs) == 0 {
			continue
		}
		if node.Types.Count() > 1 {
			errs.add(0, "owner %s: CNAME must not coexist with other types", node.Name)
		}
	}

	return errs
}
