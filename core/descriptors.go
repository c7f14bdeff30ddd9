/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"github.com/miekg/dns"
)

// TypeDescriptor replaces the "untyped rdata accessed via pointer
// arithmetic" pattern the original design warned against: every RR type
// this server treats specially is described once, here, instead of a
// scattered set of type switches reaching into raw rdata bytes.
type TypeDescriptor struct {
	RRtype uint16

	// Compressible reports whether this type's rdata contains domain
	// names eligible for message compression (RFC 1035 section 4.1.4).
	Compressible bool

	// NamesIn extracts the compressible domain names from rr's rdata,
	// in wire order, for the compressor to target.
	NamesIn func(rr dns.RR) []string

	// Glue reports whether this type's owner may need address records
	// placed in the additional section (NS, and historically MX).
	Glue bool
}

var descriptors = map[uint16]TypeDescriptor{
	dns.TypeNS: {
		RRtype: dns.TypeNS, Compressible: true, Glue: true,
		NamesIn: func(rr dns.RR) []string { return []string{rr.(*dns.NS).Ns} },
	},
	dns.TypeCNAME: {
		RRtype: dns.TypeCNAME, Compressible: true,
		NamesIn: func(rr dns.RR) []string { return []string{rr.(*dns.CNAME).Target} },
	},
	dns.TypeDNAME: {
		RRtype: dns.TypeDNAME, Compressible: true,
		NamesIn: func(rr dns.RR) []string { return []string{rr.(*dns.DNAME).Target} },
	},
	dns.TypeSOA: {
		RRtype: dns.TypeSOA, Compressible: true,
		NamesIn: func(rr dns.RR) []string {
			soa := rr.(*dns.SOA)
			return []string{soa.Ns, soa.Mbox}
		},
	},
	dns.TypeMX: {
		RRtype: dns.TypeMX, Compressible: true, Glue: true,
		NamesIn: func(rr dns.RR) []string { return []string{rr.(*dns.MX).Mx} },
	},
	dns.TypeSRV: {
		RRtype: dns.TypeSRV, Compressible: true, Glue: true,
		NamesIn: func(rr dns.RR) []string { return []string{rr.(*dns.SRV).Target} },
	},
	dns.TypeRRSIG: {
		RRtype: dns.TypeRRSIG, Compressible: false,
	},
	dns.TypeNSEC: {
		RRtype: dns.TypeNSEC, Compressible: false,
	},
}

// DescriptorFor returns the descriptor for rrtype, defaulting to a
// non-compressible, non-glue descriptor for any type not listed above
// (the overwhelming majority of RR types carry no domain names at all).
func DescriptorFor(rrtype uint16) TypeDescriptor {
	if d, ok := descriptors[rrtype]; ok {
		return d
	}
	return TypeDescriptor{RRtype: rrtype}
}
