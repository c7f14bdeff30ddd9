/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/miekg/dns"
)

// Server is the packet I/O component of spec.md section 4.6: it owns
// the UDP and TCP listeners and dispatches every inbound message to
// Resolve (or, for AXFR/IXFR requests, to the transfer-out path). It is
// grounded on the teacher's DnsEngine (tdns/do53.go), generalised from a
// process-global handler closure over conf.Internal.* channels to an
// explicit struct the caller constructs and owns.
//
// UDP and TCP framing (one-datagram-one-message for UDP, length-prefixed
// pipelining for TCP) is handled entirely inside miekg/dns's dns.Server;
// this type only supplies the per-message handler and response size
// policy spec.md section 4.6 calls for.
type Server struct {
	Tree    *Tree
	Zones   map[string]*Zone
	Logger  *log.Logger
	Coord   *Coordinator

	udp, tcp *dns.Server
}

// NewServer builds a Server bound to addr, serving both UDP and TCP. Any
// zone with a configured TsigKey (spec.md section 4.6) makes the server
// verify inbound TSIG on every request against that key, the same
// dns.Server.TsigSecret hook the teacher's notifyreporter.go relies on.
func NewServer(addr string, tree *Tree, zones map[string]*Zone, coord *Coordinator, logger *log.Logger) *Server {
	s := &Server{Tree: tree, Zones: zones, Logger: logger, Coord: coord}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)

	secrets := zoneTsigSecrets(zones)
	s.udp = &dns.Server{Addr: addr, Net: "udp", Handler: mux, UDPSize: dns.DefaultMsgSize, TsigSecret: secrets}
	s.tcp = &dns.Server{Addr: addr, Net: "tcp", Handler: mux, TsigSecret: secrets}
	return s
}

// zoneTsigSecrets collects every zone's configured key into the single
// map[string]string a dns.Server's TsigSecret field expects. Returns nil
// (not an empty map) when no zone names a key, so dns.Server leaves TSIG
// verification disabled entirely rather than rejecting every unsigned
// request.
func zoneTsigSecrets(zones map[string]*Zone) map[string]string {
	var out map[string]string
	for _, z := range zones {
		if z.TsigKey == nil {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[z.TsigKey.Name] = z.TsigKey.Secret
	}
	return out
}

// Serve starts both listeners and blocks until ctx is cancelled or a
// listener fails, then shuts both down with a bounded grace period,
// matching the teacher's do53.go shutdown goroutine. It returns the
// listener's error in the second case and nil in the first.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.udp.ListenAndServe() }()
	go func() { errCh <- s.tcp.ListenAndServe() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.Logger.Printf("Server: listener error: %v", err)
			serveErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.udp.Shutdown()
		s.tcp.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Logger.Printf("Server: shutdown timed out")
	}
	return serveErr
}

func (s *Server) handle(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) != 1 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		w.WriteMsg(m)
		return
	}

	switch r.Opcode {
	case dns.OpcodeNotify:
		s.handleNotify(w, r)
		return
	case dns.OpcodeQuery:
		s.handleQuery(w, r)
		return
	default:
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNotImplemented)
		w.WriteMsg(m)
	}
}

func (s *Server) handleNotify(w dns.ResponseWriter, r *dns.Msg) {
	qname := r.Question[0].Name
	m := new(dns.Msg)
	m.SetReply(r)

	zone, ok := s.Zones[qname]
	if !ok {
		m.Rcode = dns.RcodeNotAuth
		w.WriteMsg(m)
		return
	}

	if zone.TsigKey != nil {
		if err := verifyRequestTsig(w, r, *zone.TsigKey); err != nil {
			s.Logger.Printf("NOTIFY %s: %v", qname, err)
			m.Rcode = dns.RcodeNotAuth
			w.WriteMsg(m)
			return
		}
	}

	remote, _, _ := splitRemote(w)
	if err := s.Coord.HandleNotify(zone, remote); err != nil {
		s.Logger.Printf("NOTIFY %s from %s: %v", qname, remote, err)
		m.Rcode = dns.RcodeRefused
		w.WriteMsg(m)
		return
	}
	w.WriteMsg(m)
}

// verifyRequestTsig checks that r carries a TSIG signed with key and that
// the server's own verification (w.TsigStatus, populated by dns.Server's
// TsigSecret handling) found it valid.
func verifyRequestTsig(w dns.ResponseWriter, r *dns.Msg, key TsigKey) error {
	t := r.IsTsig()
	if t == nil {
		return fmt.Errorf("no TSIG present, key %q required", key.Name)
	}
	if t.Hdr.Name != key.Name {
		return fmt.Errorf("TSIG key %q does not match required key %q", t.Hdr.Name, key.Name)
	}
	if err := w.TsigStatus(); err != nil {
		return fmt.Errorf("TSIG verification failed: %w", err)
	}
	return nil
}

func (s *Server) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	qname := r.Question[0].Name
	qtype := r.Question[0].Qtype

	zone := findZoneFor(s.Zones, qname)
	if zone == nil {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeRefused)
		w.WriteMsg(m)
		return
	}

	if qtype == dns.TypeAXFR || qtype == dns.TypeIXFR {
		s.serveTransferOut(w, r, zone)
		return
	}

	dnssecOK := false
	if opt := r.IsEdns0(); opt != nil {
		dnssecOK = opt.Do()
	}

	reply := Resolve(s.Tree, zone, r, dnssecOK)

	maxSize := dns.MinMsgSize
	switch {
	case w.RemoteAddr().Network() == "tcp":
		maxSize = dns.MaxMsgSize
	case r.IsEdns0() != nil:
		maxSize = int(r.IsEdns0().UDPSize())
	}

	wire, err := Truncate(reply, maxSize)
	if err != nil {
		s.Logger.Printf("query %s %s: pack error: %v", qname, dns.TypeToString[qtype], err)
		return
	}
	w.Write(wire)
}

// serveTransferOut answers an inbound AXFR/IXFR by streaming the zone
// through dns.Transfer.Out, the same primitive the teacher's
// ZoneTransferOut (tdns/dnsutils.go) drives: records are batched into
// envelopes of a few hundred RRs each rather than one RR per message.
func (s *Server) serveTransferOut(w dns.ResponseWriter, r *dns.Msg, zone *Zone) {
	if zone.TsigKey != nil {
		if err := verifyRequestTsig(w, r, *zone.TsigKey); err != nil {
			s.Logger.Printf("transfer out %s: %v", zone.Origin, err)
			m := new(dns.Msg)
			m.SetRcode(r, dns.RcodeNotAuth)
			w.WriteMsg(m)
			return
		}
	}

	soaRS := s.Tree.FindRRset(zone.Apex, zone, dns.TypeSOA)
	if soaRS == nil || len(soaRS.RRs) == 0 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		w.WriteMsg(m)
		return
	}

	envelopes := make(chan *dns.Envelope)
	go func() {
		defer close(envelopes)
		const batchSize = 400
		rrs := append([]dns.RR{}, soaRS.RRs[0])
		rrs = append(rrs, soaRS.RRSIGs...)

		for _, rr := range zoneRRsExceptApexSOA(s.Tree, zone) {
			rrs = append(rrs, rr)
			if len(rrs) >= batchSize {
				envelopes <- &dns.Envelope{RR: rrs}
				rrs = nil
			}
		}
		rrs = append(rrs, soaRS.RRs[0])
		envelopes <- &dns.Envelope{RR: rrs}
	}()

	tr := new(dns.Transfer)
	if zone.TsigKey != nil {
		tr.TsigSecret = map[string]string{zone.TsigKey.Name: zone.TsigKey.Secret}
	}
	if err := tr.Out(w, r, envelopes); err != nil {
		s.Logger.Printf("transfer out %s: %v", zone.Origin, err)
	}
}

func zoneRRsExceptApexSOA(tree *Tree, zone *Zone) []dns.RR {
	var out []dns.RR
	for _, id := range tree.order {
		node := tree.Node(id)
		if node == nil || !hasSuffix(node.Name, zone.Origin) {
			continue
		}
		for _, rs := range node.Types.ForZone(zone) {
			if node == zone.Apex && rs.RRtype == dns.TypeSOA {
				continue
			}
			out = append(out, rs.RRs...)
			out = append(out, rs.RRSIGs...)
		}
	}
	return out
}

func findZoneFor(zones map[string]*Zone, qname string) *Zone {
	best := (*Zone)(nil)
	for origin, z := range zones {
		if hasSuffix(qname, origin) {
			if best == nil || len(origin) > len(best.Origin) {
				best = z
			}
		}
	}
	return best
}

func splitRemote(w dns.ResponseWriter) (string, string, error) {
	addr := w.RemoteAddr().String()
	return addr, w.RemoteAddr().Network(), nil
}
