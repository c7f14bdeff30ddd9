/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"github.com/miekg/dns"
)

// Compress packs m into wire format with name compression enabled, the
// same dns.Msg.Pack path every miekg/dns-based server in the retrieval
// pack uses. It returns an error if the message cannot be packed at all,
// distinct from the truncation path (Truncate) which handles the
// packs-too-large case.
func Compress(m *dns.Msg) ([]byte, error) {
	m.Compress = true
	return m.Pack()
}

// Truncate fits m within maxSize bytes for UDP transport, dropping
// whole RRsets from the additional section first, then the authority
// section, before ever dropping from the answer section, and finally
// setting the TC bit once no more sections can be trimmed without
// touching the answer (spec.md section 4.4, "truncation ordering").
// It never truncates mid-RRset.
func Truncate(m *dns.Msg, maxSize int) ([]byte, error) {
	wire, err := Compress(m)
	if err != nil {
		return nil, err
	}
	if len(wire) <= maxSize {
		return wire, nil
	}

	// dropLast removes the trailing RRset: the run of RRs at the end of
	// rrs that share owner name, class and type.
	dropLast := func(rrs []dns.RR) []dns.RR {
		h := rrs[len(rrs)-1].Header()
		n := len(rrs) - 1
		for n > 0 {
			p := rrs[n-1].Header()
			if p.Rrtype != h.Rrtype || p.Class != h.Class || dns.CanonicalName(p.Name) != dns.CanonicalName(h.Name) {
				break
			}
			n--
		}
		return rrs[:n]
	}

	for len(m.Extra) > 0 {
		m.Extra = dropLast(m.Extra)
		if wire, err = Compress(m); err != nil {
			return nil, err
		}
		if len(wire) <= maxSize {
			return wire, nil
		}
	}

	for len(m.Ns) > 0 {
		m.Ns = dropLast(m.Ns)
		if wire, err = Compress(m); err != nil {
			return nil, err
		}
		if len(wire) <= maxSize {
			return wire, nil
		}
	}

	m.Truncated = true
	m.Ns = nil
	m.Extra = nil
	return Compress(m)
}
