/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// TsigKey is one configured TSIG key, keyed by its owner name in the
// server's key ring (spec.md section 4.6).
type TsigKey struct {
	Name      string
	Algorithm string
	Secret    string // base64, as miekg/dns's TSIG API expects
}

// maxUnsignedEnvelopes bounds how many consecutive envelopes of a signed
// AXFR/IXFR stream may go by without a TSIG, per RFC 2845 section 4.4's
// "up to ~100 unsigned intermediate packets" allowance.
const maxUnsignedEnvelopes = 100

// TsigStream carries the rolling MAC state RFC 2845 section 4.4 requires
// across a multi-packet AXFR/IXFR response: every signed envelope after
// the first is verified against the previous signed envelope's MAC with
// "timers only" semantics, not a fresh full signature, and the stream as
// a whole must open and close on a signed envelope.
type TsigStream struct {
	key         TsigKey
	previousMAC string
	first       bool

	envelopes   int
	unsignedRun int
	firstSigned bool
	lastSigned  bool
}

func NewTsigStream(key TsigKey) *TsigStream {
	return &TsigStream{key: key, first: true}
}

// Secret returns the map[string]string dns.Transfer, dns.Client, and
// dns.Server all expect for their TsigSecret field.
func (s *TsigStream) Secret() map[string]string {
	return map[string]string{s.key.Name: s.key.Secret}
}

// Sign signs m in place for transmission as the next envelope of the
// stream, chaining from the previous envelope's MAC per RFC 2845.
func (s *TsigStream) Sign(m *dns.Msg) ([]byte, error) {
	m.SetTsig(s.key.Name, s.key.Algorithm, 300, time.Now().Unix())
	wire, mac, err := dns.TsigGenerate(m, s.key.Secret, s.previousMAC, !s.first)
	if err != nil {
		return nil, fmt.Errorf("TsigStream.Sign: %w", err)
	}
	s.previousMAC = mac
	s.first = false
	return wire, nil
}

// VerifyEnvelope checks one envelope of an inbound AXFR/IXFR stream:
// cryptographically, when it carries a TSIG RR, and against the
// first/last-signed, bounded-unsigned-run policy unconditionally. It
// must be called once per envelope, in stream order.
func (s *TsigStream) VerifyEnvelope(wire []byte) error {
	m := new(dns.Msg)
	if err := m.Unpack(wire); err != nil {
		return fmt.Errorf("TsigStream.VerifyEnvelope: unpack: %w", err)
	}

	s.envelopes++
	signed := m.IsTsig() != nil

	if signed {
		if err := dns.TsigVerify(wire, s.key.Secret, s.previousMAC, !s.first); err != nil {
			return fmt.Errorf("TsigStream.VerifyEnvelope: %w", err)
		}
		for _, rr := range m.Extra {
			if t, ok := rr.(*dns.TSIG); ok {
				s.previousMAC = t.MAC
				break
			}
		}
		s.first = false
		s.unsignedRun = 0
	} else {
		s.unsignedRun++
	}

	if s.envelopes == 1 {
		s.firstSigned = signed
	}
	s.lastSigned = signed

	if s.unsignedRun > maxUnsignedEnvelopes {
		return fmt.Errorf("TsigStream.VerifyEnvelope: %d consecutive unsigned envelopes exceeds the limit of %d", s.unsignedRun, maxUnsignedEnvelopes)
	}
	return nil
}

// Finish enforces the other half of the section 4.4 rule once the stream
// is exhausted: the first and last envelope must both have carried a
// valid signature.
func (s *TsigStream) Finish() error {
	if s.envelopes == 0 {
		return fmt.Errorf("TsigStream.Finish: empty transfer")
	}
	if !s.firstSigned {
		return fmt.Errorf("TsigStream.Finish: first envelope of the transfer was not TSIG-signed")
	}
	if !s.lastSigned {
		return fmt.Errorf("TsigStream.Finish: last envelope of the transfer was not TSIG-signed")
	}
	return nil
}

// TsigKeyring resolves a configured key by name, for both the transfer-in
// signer and the server's inbound-request verifier (spec.md section 4.6).
type TsigKeyring map[string]TsigKey

func NewTsigKeyring(keys []TsigKey) TsigKeyring {
	kr := make(TsigKeyring, len(keys))
	for _, k := range keys {
		kr[k.Name] = k
	}
	return kr
}

// Secrets returns the combined map[string]string dns.Server's TsigSecret
// field expects, across every key in the ring.
func (kr TsigKeyring) Secrets() map[string]string {
	out := make(map[string]string, len(kr))
	for name, k := range kr {
		out[name] = k.Secret
	}
	return out
}
