/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"strings"

	"github.com/miekg/dns"
)

// WildcardReplace rewrites the owner name of every rr from the wildcard
// name wname to the name the client actually asked for, qname
// (spec.md section 4.4, "wildcard instantiation rule": the owner name
// is substituted, the rdata is not touched). It copies each record so
// the wildcard's stored RRset is never mutated in place.
func WildcardReplace(rrs []dns.RR, wname, qname string) []dns.RR {
	out := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		cp := dns.Copy(rr)
		cp.Header().Name = qname
		out = append(out, cp)
	}
	_ = wname
	return out
}

// wildcardLookup implements the "*.<closest encloser>" match RFC 4592
// and spec.md section 4.4 describe: a wildcard only ever instantiates
// for a qname that has no exact node of its own, and the label
// immediately below its closest encloser — which may be more than one
// label above qname, not just its immediate parent — must itself be a
// "*" node that actually carries data.
func wildcardLookup(tree *Tree, qname string) (owner *Node, found bool) {
	exact, _, encloser := tree.Search(qname)
	if exact {
		return nil, false
	}

	wc := tree.WildcardChild(encloser)
	if wc == encloser {
		return nil, false
	}
	if wc.Name != "*."+encloser.Name {
		return nil, false
	}
	if !wc.IsExisting {
		return nil, false
	}
	return wc, true
}

func hasSuffix(name, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(suffix))
}
