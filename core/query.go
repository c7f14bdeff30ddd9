/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"github.com/miekg/dns"
)

// Outcome classifies how a query was answered (spec.md section 4.4).
type Outcome int

const (
	OutcomeAnswer Outcome = iota
	OutcomeDelegation
	OutcomeCNAME
	OutcomeWildcard
	OutcomeNXDOMAIN
	OutcomeNODATA
	OutcomeRefused
)

// Resolve answers one query against zone, following the five-case name
// resolution algorithm of spec.md section 4.4: delegation check, exact
// match, CNAME chase, wildcard match, else NXDOMAIN/NODATA. It always
// returns a complete, ready-to-compress dns.Msg; callers apply EDNS0
// sizing and truncation afterward (Truncate).
func Resolve(tree *Tree, zone *Zone, req *dns.Msg, dnssecOK bool) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true

	q := req.Question[0]
	qname, qtype := q.Name, q.Qtype

	if !hasSuffix(qname, zone.Origin) {
		m.Rcode = dns.RcodeRefused
		return m
	}

	outcome, owner, origName := classify(tree, zone, qname, qtype)

	switch outcome {
	case OutcomeDelegation:
		fillDelegation(m, tree, zone, owner, dnssecOK)
		return m

	case OutcomeNXDOMAIN:
		m.Rcode = dns.RcodeNameError
		fillSOAAuthority(m, tree, zone)
		if dnssecOK {
			addNSEC3Denial(m, tree, zone, qname, true)
		}
		return m

	case OutcomeNODATA:
		fillSOAAuthority(m, tree, zone)
		if dnssecOK {
			addNSEC3Denial(m, tree, zone, qname, false)
		}
		return m

	case OutcomeRefused:
		m.Rcode = dns.RcodeRefused
		return m
	}

	// OutcomeAnswer / OutcomeWildcard / OutcomeCNAME share the same
	// fill logic; only the owner name substitution differs.
	rs := tree.FindRRset(owner, zone, qtype)
	if rs == nil || len(rs.RRs) == 0 {
		if cname := tree.FindRRset(owner, zone, dns.TypeCNAME); cname != nil && len(cname.RRs) > 0 {
			fillCNAMEChase(m, tree, zone, owner, cname, qname, qtype, dnssecOK)
			return m
		}
		fillSOAAuthority(m, tree, zone)
		if dnssecOK {
			addNSEC3Denial(m, tree, zone, qname, false)
		}
		return m
	}

	answerRRs := rs.RRs
	answerSigs := rs.RRSIGs
	if outcome == OutcomeWildcard {
		answerRRs = WildcardReplace(rs.RRs, origName, qname)
		answerSigs = WildcardReplace(rs.RRSIGs, origName, qname)
	}

	m.Answer = append(m.Answer, answerRRs...)
	if dnssecOK {
		m.Answer = append(m.Answer, answerSigs...)
	}
	fillAuthorityNS(m, tree, zone, dnssecOK)
	fillGlue(m, tree, zone, dnssecOK)
	return m
}

// classify implements spec.md section 4.4 step "name resolution": it
// returns which of the five cases applies and the node holding the
// matching data (the wildcard node, for a wildcard match).
func classify(tree *Tree, zone *Zone, qname string, qtype uint16) (Outcome, *Node, string) {
	if cut := findDelegationCut(tree, zone, qname); cut != nil && qtype != dns.TypeDS {
		return OutcomeDelegation, cut, qname
	}

	if id, ok := tree.byName[qname]; ok {
		node := tree.nodes[id]
		if node.Types.Count() == 0 {
			return OutcomeNODATA, node, qname
		}
		return OutcomeAnswer, node, qname
	}

	if wc, ok := wildcardLookup(tree, qname); ok {
		return OutcomeWildcard, wc, qname
	}

	return OutcomeNXDOMAIN, nil, qname
}

// findDelegationCut walks from qname's closest existing ancestor toward
// the zone apex looking for an NS RRset at a non-apex node, the
// authoritative definition of a zone cut (spec.md GLOSSARY, "zone cut").
func findDelegationCut(tree *Tree, zone *Zone, qname string) *Node {
	_, _, encloser := tree.Search(qname)
	for cur := encloser; cur != nil && cur != zone.Apex; cur = tree.Parent(cur) {
		if rs := tree.FindRRset(cur, zone, dns.TypeNS); rs != nil && len(rs.RRs) > 0 {
			if isProperSuffix(qname, cur.Name) || qname == cur.Name {
				return cur
			}
		}
	}
	return nil
}

// fillDelegation fills a referral response: the child zone's NS records
// plus in-bailiwick glue, and, when DNSSEC is requested and the zone is
// NSEC3-signed, the delegation point's own NSEC3 record (spec.md section
// 4.3 / RFC 5155 section 7.2.1) so the resolver can tell an insecure
// delegation from a stripped DS.
func fillDelegation(m *dns.Msg, tree *Tree, zone *Zone, cut *Node, dnssecOK bool) {
	m.Authoritative = false
	if rs := tree.FindRRset(cut, zone, dns.TypeNS); rs != nil {
		m.Ns = append(m.Ns, rs.RRs...)
		fillGlueFor(m, tree, zone, rs, false)
	}
	if dnssecOK {
		if dsnode := tree.Node(cut.NSEC3DSParentCover); dsnode != nil {
			if rs := tree.FindRRset(dsnode, zone, dns.TypeNSEC3); rs != nil {
				m.Ns = append(m.Ns, rs.RRs...)
			}
		}
	}
}

func fillSOAAuthority(m *dns.Msg, tree *Tree, zone *Zone) {
	if rs := tree.FindRRset(zone.Apex, zone, dns.TypeSOA); rs != nil {
		m.Ns = append(m.Ns, rs.RRs...)
	}
}

func fillAuthorityNS(m *dns.Msg, tree *Tree, zone *Zone, dnssecOK bool) {
	rs := tree.FindRRset(zone.Apex, zone, dns.TypeNS)
	if rs == nil {
		return
	}
	m.Ns = append(m.Ns, rs.RRs...)
	if dnssecOK {
		m.Ns = append(m.Ns, rs.RRSIGs...)
	}
}

func fillGlue(m *dns.Msg, tree *Tree, zone *Zone, dnssecOK bool) {
	rs := tree.FindRRset(zone.Apex, zone, dns.TypeNS)
	if rs == nil {
		return
	}
	fillGlueFor(m, tree, zone, rs, dnssecOK)
}

// fillGlueFor adds the address records for every NS target named in ns
// that is in-bailiwick (spec.md GLOSSARY "glue"): out-of-bailiwick NS
// targets are resolved by the client elsewhere and carry no glue here.
func fillGlueFor(m *dns.Msg, tree *Tree, zone *Zone, ns *RRset, dnssecOK bool) {
	seen := map[string]bool{}
	for _, rr := range ns.RRs {
		target := rr.(*dns.NS).Ns
		if !hasSuffix(target, zone.Origin) || seen[target] {
			continue
		}
		seen[target] = true
		id, ok := tree.byName[target]
		if !ok {
			continue
		}
		node := tree.nodes[id]
		for _, t := range []uint16{dns.TypeA, dns.TypeAAAA} {
			if rs := tree.FindRRset(node, zone, t); rs != nil {
				m.Extra = append(m.Extra, rs.RRs...)
				if dnssecOK {
					m.Extra = append(m.Extra, rs.RRSIGs...)
				}
			}
		}
	}
}

// maxCNAMEChain bounds how many CNAME hops fillCNAMEChase follows within
// a single zone before giving up, matching spec.md section 4.4's bounded
// chain-depth requirement: an authoritative answer only ever walks the
// data it itself holds, but a zone with a long or looping in-bailiwick
// CNAME chain must not make the server spin forever building one.
const maxCNAMEChain = 10

// fillCNAMEChase answers a CNAME owner: the CNAME RRset itself always
// goes in the answer, and the chain is followed hop by hop as long as
// each target stays in-bailiwick and resolves to another CNAME, up to
// maxCNAMEChain hops (spec.md section 4.4, CNAME case). The final
// target's qtype data, if any, is appended last.
func fillCNAMEChase(m *dns.Msg, tree *Tree, zone *Zone, owner *Node, cname *RRset, qname string, qtype uint16, dnssecOK bool) {
	m.Answer = append(m.Answer, cname.RRs...)
	if dnssecOK {
		m.Answer = append(m.Answer, cname.RRSIGs...)
	}
	target := cname.RRs[0].(*dns.CNAME).Target

	for hop := 1; hop < maxCNAMEChain; hop++ {
		if !hasSuffix(target, zone.Origin) {
			fillAuthorityNS(m, tree, zone, dnssecOK)
			return
		}
		id, ok := tree.byName[target]
		if !ok {
			fillAuthorityNS(m, tree, zone, dnssecOK)
			return
		}
		tnode := tree.nodes[id]

		if rs := tree.FindRRset(tnode, zone, qtype); rs != nil {
			m.Answer = append(m.Answer, rs.RRs...)
			if dnssecOK {
				m.Answer = append(m.Answer, rs.RRSIGs...)
			}
			fillAuthorityNS(m, tree, zone, dnssecOK)
			fillGlue(m, tree, zone, dnssecOK)
			return
		}

		next := tree.FindRRset(tnode, zone, dns.TypeCNAME)
		if next == nil || len(next.RRs) == 0 {
			fillAuthorityNS(m, tree, zone, dnssecOK)
			return
		}
		m.Answer = append(m.Answer, next.RRs...)
		if dnssecOK {
			m.Answer = append(m.Answer, next.RRSIGs...)
		}
		target = next.RRs[0].(*dns.CNAME).Target
	}

	// Chain too deep: stop following it, but the records gathered so
	// far remain a valid (partial) answer.
	fillAuthorityNS(m, tree, zone, dnssecOK)
}

// addNSEC3Denial attaches the cover record (and, for NXDOMAIN, the
// wildcard cover too) that proves the denial, per spec.md section 4.4's
// DNSSEC denial step. It is a best-effort addition: a zone with no
// precomputed chain (NSEC3 not in use) silently adds nothing.
func addNSEC3Denial(m *dns.Msg, tree *Tree, zone *Zone, qname string, nxdomain bool) {
	paramRS := tree.FindRRset(zone.Apex, zone, dns.TypeNSEC3PARAM)
	if paramRS == nil || len(paramRS.RRs) == 0 {
		return
	}
	p := paramRS.RRs[0].(*dns.NSEC3PARAM)
	salt, _ := decodeSalt(p.Salt)
	params := NSEC3Params{Algorithm: p.Hash, Iterations: p.Iterations, Salt: salt}

	if cover := CoverNSEC3(tree, zone, qname, params); cover != nil {
		if rs := tree.FindRRset(cover, zone, dns.TypeNSEC3); rs != nil {
			m.Ns = append(m.Ns, rs.RRs...)
		}
	}
	if nxdomain {
		wildcard := wildcardOwner(qname)
		if cover := CoverNSEC3(tree, zone, wildcard, params); cover != nil {
			if rs := tree.FindRRset(cover, zone, dns.TypeNSEC3); rs != nil {
				m.Ns = append(m.Ns, rs.RRs...)
			}
		}
	}
}
