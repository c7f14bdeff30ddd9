/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

const xfrDialTimeout = 10 * time.Second

// dialXfrConn opens a raw TCP connection for a transfer-in, at the level
// below dns.Transfer: the IXFR/AXFR framing and the streaming-TSIG policy
// (section 4.5) both need each envelope's raw wire bytes and TSIG status,
// which dns.Transfer's higher-level Envelope channel does not expose.
func dialXfrConn(upstream string) (net.Conn, error) {
	return net.DialTimeout("tcp", upstream, xfrDialTimeout)
}

// writeXfrQuery sends m as a length-prefixed DNS-over-TCP message
// (RFC 1035 section 4.2.2), the framing every AXFR/IXFR request uses.
func writeXfrQuery(nc net.Conn, m *dns.Msg) error {
	wire, err := m.Pack()
	if err != nil {
		return fmt.Errorf("pack query: %w", err)
	}
	prefix := []byte{byte(len(wire) >> 8), byte(len(wire))}
	if _, err := nc.Write(prefix); err != nil {
		return err
	}
	_, err = nc.Write(wire)
	return err
}

// readXfrEnvelope reads one length-prefixed DNS-over-TCP message off nc,
// returning both its raw wire bytes (for TSIG verification) and the
// parsed message.
func readXfrEnvelope(nc net.Conn) ([]byte, *dns.Msg, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(nc, lenBuf[:]); err != nil {
		return nil, nil, err
	}
	n := int(lenBuf[0])<<8 | int(lenBuf[1])
	wire := make([]byte, n)
	if _, err := io.ReadFull(nc, wire); err != nil {
		return nil, nil, err
	}
	m := new(dns.Msg)
	if err := m.Unpack(wire); err != nil {
		return nil, nil, fmt.Errorf("unpack envelope: %w", err)
	}
	return wire, m, nil
}

// Coordinator drives every secondary zone's transfer state machine
// (spec.md section 4.5). It is the explicit-context replacement for the
// teacher's RefreshEngine (tdns/refreshengine.go), which reads its zone
// set off a process-global registry (Zones) and a shared channel; here
// the zone set and logger are constructor arguments instead.
type Coordinator struct {
	tree    *Tree
	zones   map[string]*Zone
	logger  *log.Logger
	wake    chan *Zone
	notify  chan NotifyRequest
	journalDir string
}

func NewCoordinator(tree *Tree, logger *log.Logger, journalDir string) *Coordinator {
	return &Coordinator{
		tree:       tree,
		zones:      make(map[string]*Zone),
		logger:     logger,
		wake:       make(chan *Zone, 16),
		notify:     make(chan NotifyRequest, 16),
		journalDir: journalDir,
	}
}

func (c *Coordinator) AddZone(z *Zone) {
	if z.Transfer == nil {
		z.Transfer = NewTransferState(z.Refresh, z.Retry, z.Expire)
	}
	c.zones[z.Origin] = z
}

func (c *Coordinator) Wake(z *Zone) {
	select {
	case c.wake <- z:
	default:
	}
}

// NotifyChannel exposes the receive side of the coordinator's outgoing
// NOTIFY queue; attemptRefresh is the only writer.
func (c *Coordinator) NotifyChannel() <-chan NotifyRequest { return c.notify }

// Run is the single-threaded cooperative event loop spec.md section 4.5
// and the Design Notes call for: one goroutine services a one-second
// ticker (matching the teacher's RefreshEngine ticker cadence) plus the
// wake channel, so zone-state-machine transitions are never raced.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	seed := int64(1)
	for {
		select {
		case <-ctx.Done():
			return
		case z := <-c.wake:
			c.attemptRefresh(z, seed)
			seed++
		case <-ticker.C:
			now := time.Now()
			for _, z := range c.zones {
				if z.Kind != KindSecondary || z.Transfer == nil {
					continue
				}
				if z.HasOption(OptFrozen) {
					continue
				}
				if z.Transfer.Due(now) {
					c.attemptRefresh(z, seed)
					seed++
				}
			}
		}
	}
}

func (c *Coordinator) attemptRefresh(z *Zone, seed int64) {
	now := time.Now()
	upstream := primaryAddr(z)
	if upstream == "" {
		z.Transfer.OnRefreshFailure(now, "no configured primary", seed)
		return
	}

	upstreamSerial, err := probeSOA(upstream, z.Origin)
	if err != nil {
		c.logger.Printf("zone %s: refresh probe failed: %v", z.Origin, err)
		z.Transfer.OnRefreshFailure(now, err.Error(), seed)
		return
	}

	if upstreamSerial == z.Serial {
		z.Transfer.OnRefreshSuccess(now, seed)
		return
	}

	corrID := uuid.NewString()
	z.Transfer.CorrelationID = corrID
	c.logger.Printf("[%s] zone %s: upstream serial %d > local %d, transferring", corrID, z.Origin, upstreamSerial, z.Serial)

	if err := c.transferIn(z, upstream, corrID); err != nil {
		c.logger.Printf("[%s] zone %s: transfer failed: %v", corrID, z.Origin, err)
		z.Transfer.OnRefreshFailure(now, err.Error(), seed)
		return
	}

	z.Transfer.OnRefreshSuccess(now, seed)
	if len(z.Notify) > 0 {
		c.notify <- NotifyRequest{Zone: z, Targets: z.Notify, CorrelationID: corrID}
	}
}

// transferIn performs the IXFR-then-AXFR-fallback sequence spec.md
// section 4.5 requires: try IXFR first, and whenever the primary
// answers with a full zone instead of a diff sequence (or refuses
// IXFR), fall back to AXFR transparently.
func (c *Coordinator) transferIn(z *Zone, upstream, corrID string) error {
	if ok, err := c.probeIXFR(z, upstream, corrID); ok {
		return err
	}
	return c.fetchAXFR(z, upstream, corrID)
}

// probeIXFR attempts an IXFR. Its first bool return reports whether the
// IXFR path was usable at all: it is false when the connection or query
// fails, when the primary answers with a non-NOERROR rcode, or when the
// answer is an AXFR-style full zone (a non-SOA record right after the
// opening SOA), so the caller falls back to AXFR.
func (c *Coordinator) probeIXFR(z *Zone, upstream, corrID string) (bool, error) {
	m := new(dns.Msg)
	m.SetIxfr(z.Origin, z.Serial, "", "")

	var stream *TsigStream
	if z.TsigKey != nil {
		stream = NewTsigStream(*z.TsigKey)
	}

	nc, err := dialXfrConn(upstream)
	if err != nil {
		return false, nil // IXFR not usable; let caller fall back to AXFR
	}
	defer nc.Close()
	nc.SetDeadline(time.Now().Add(xfrDialTimeout))

	if stream != nil {
		if _, err := stream.Sign(m); err != nil {
			return false, nil
		}
	}
	if err := writeXfrQuery(nc, m); err != nil {
		return false, nil // IXFR not usable; let caller fall back to AXFR
	}

	var removed, added []dns.RR
	oldSerial := z.Serial
	inRemoveSection := false
	soaCount := 0
	var firstSerial uint32

	for {
		wire, in, err := readXfrEnvelope(nc)
		if err != nil {
			return true, fmt.Errorf("IXFR: %w", err)
		}
		if in.Id != m.Id {
			return true, fmt.Errorf("IXFR: message id mismatch")
		}
		if in.Rcode != dns.RcodeSuccess {
			return false, nil // IXFR refused; let caller fall back to AXFR
		}
		if stream != nil {
			if err := stream.VerifyEnvelope(wire); err != nil {
				return true, fmt.Errorf("IXFR: %w", err)
			}
		}

		done := len(in.Answer) == 0
		for _, rr := range in.Answer {
			if soa, ok := rr.(*dns.SOA); ok {
				soaCount++
				if soaCount == 1 {
					firstSerial = soa.Serial
					continue
				}
				if soa.Serial == firstSerial && !inRemoveSection {
					done = true
				}
				inRemoveSection = !inRemoveSection
				continue
			}
			if soaCount == 1 {
				return false, nil // full-zone answer; let caller fall back to AXFR
			}
			if inRemoveSection {
				removed = append(removed, rr)
			} else {
				added = append(added, rr)
			}
		}
		if done || (soaCount == 1 && len(in.Answer) == 1) {
			break
		}
	}

	if stream != nil {
		if err := stream.Finish(); err != nil {
			return true, fmt.Errorf("IXFR: %w", err)
		}
	}

	if soaCount <= 1 {
		// A primary that has nothing newer than one SOA answers with
		// just the current SOA; nothing to apply.
		return true, nil
	}

	if c.journalDir != "" {
		rec := JournalRecord{OldSerial: oldSerial, NewSerial: firstSerial, Removed: removed, Added: added}
		if err := AppendJournal(c.journalDir+"/"+z.Origin+".jnl", rec); err != nil {
			return true, fmt.Errorf("IXFR: journal append: %w", err)
		}
	}

	applyDiff(c.tree, z, removed, added)
	return true, nil
}

// fetchAXFR replaces the zone's entire in-memory content with a freshly
// transferred copy, matching the teacher's FetchFromUpstream "build a
// new_zd, then swap" pattern (tdns/zone_utils.go) applied to this
// server's tree-of-nodes representation: every RR is re-added via
// Tree.AddRRset under the same Zone pointer so in-flight queries using
// that pointer keep working, but the prior RRsets are discarded wholesale.
func (c *Coordinator) fetchAXFR(z *Zone, upstream, corrID string) error {
	m := new(dns.Msg)
	m.SetAxfr(z.Origin)

	var stream *TsigStream
	if z.TsigKey != nil {
		stream = NewTsigStream(*z.TsigKey)
	}

	nc, err := dialXfrConn(upstream)
	if err != nil {
		return fmt.Errorf("AXFR: %w", err)
	}
	defer nc.Close()
	nc.SetDeadline(time.Now().Add(xfrDialTimeout))

	if stream != nil {
		if _, err := stream.Sign(m); err != nil {
			return fmt.Errorf("AXFR: %w", err)
		}
	}
	if err := writeXfrQuery(nc, m); err != nil {
		return fmt.Errorf("AXFR: %w", err)
	}

	var all []dns.RR
	soaCount := 0
	for {
		wire, in, err := readXfrEnvelope(nc)
		if err != nil {
			return fmt.Errorf("AXFR: %w", err)
		}
		if in.Id != m.Id {
			return fmt.Errorf("AXFR: message id mismatch")
		}
		if stream != nil {
			if err := stream.VerifyEnvelope(wire); err != nil {
				return fmt.Errorf("AXFR: %w", err)
			}
		}
		for _, rr := range in.Answer {
			if rr.Header().Rrtype == dns.TypeSOA {
				soaCount++
			}
			all = append(all, rr)
		}
		if soaCount >= 2 {
			break
		}
	}

	if stream != nil {
		if err := stream.Finish(); err != nil {
			return fmt.Errorf("AXFR: %w", err)
		}
	}

	clearZoneData(c.tree, z)

	kept, rejected := filterInBailiwick(all, z.Origin)
	for _, rr := range kept {
		node := c.tree.Insert(rr.Header().Name)
		classifyRR(c.tree, z, node, rr)
	}
	if rejected > 0 {
		c.logger.Printf("[%s] zone %s: AXFR rejected %d out-of-bailiwick RR(s)", corrID, z.Origin, rejected)
	}
	return finalizeZone(c.tree, z)
}

// filterInBailiwick keeps only the RRs owned by a name under origin,
// spec.md section 4.5's requirement that a transferred zone never
// absorb data a malicious or misconfigured primary slipped in for a
// name outside the zone it is authoritative for.
func filterInBailiwick(rrs []dns.RR, origin string) (kept []dns.RR, rejected int) {
	kept = make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		if !dns.IsSubDomain(origin, rr.Header().Name) {
			rejected++
			continue
		}
		kept = append(kept, rr)
	}
	return kept, rejected
}

// applyDiff mutates the tree in place per one IXFR delta.
func applyDiff(tree *Tree, z *Zone, removed, added []dns.RR) {
	for _, rr := range removed {
		node := tree.Insert(rr.Header().Name)
		removeRRFromSet(tree, z, node, rr)
	}
	for _, rr := range added {
		node := tree.Insert(rr.Header().Name)
		classifyRR(tree, z, node, rr)
	}
	_ = finalizeZone(tree, z)
}

func removeRRFromSet(tree *Tree, z *Zone, node *Node, rr dns.RR) {
	rs := tree.FindRRset(node, z, rr.Header().Rrtype)
	if rs == nil {
		return
	}
	for i, existing := range rs.RRs {
		if dns.IsDuplicate(existing, rr) {
			rs.RRs = append(rs.RRs[:i], rs.RRs[i+1:]...)
			break
		}
	}
	if len(rs.RRs) == 0 {
		tree.RemoveRRset(node, rs)
		tree.Delete(node)
	}
}

// clearZoneData drops every RRset this zone owns, ahead of a full AXFR
// reload, without touching nodes other zones still reference.
func clearZoneData(tree *Tree, z *Zone) {
	// Walk by name: Delete renumbers surviving nodes, so ids taken
	// before the walk can point at the wrong node or past the slab.
	names := make([]string, 0, len(tree.order))
	for _, id := range tree.order {
		names = append(names, tree.nodes[id].Name)
	}
	for _, name := range names {
		id, ok := tree.byName[name]
		if !ok {
			continue
		}
		node := tree.Node(id)
		for _, rs := range node.Types.ForZone(z) {
			tree.RemoveRRset(node, rs)
		}
		if node != z.Apex {
			tree.Delete(node)
		}
	}
}

func probeSOA(upstream, zone string) (uint32, error) {
	m := new(dns.Msg)
	m.SetQuestion(zone, dns.TypeSOA)
	r, err := dns.Exchange(m, upstream)
	if err != nil {
		return 0, err
	}
	if r.Rcode != dns.RcodeSuccess || len(r.Answer) == 0 {
		return 0, fmt.Errorf("SOA probe: rcode %s", dns.RcodeToString[r.Rcode])
	}
	soa, ok := r.Answer[0].(*dns.SOA)
	if !ok {
		return 0, fmt.Errorf("SOA probe: unexpected answer type")
	}
	return soa.Serial, nil
}

func primaryAddr(z *Zone) string {
	if len(z.Primaries) == 0 {
		return ""
	}
	addr := z.Primaries[0]
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "53")
	}
	return addr
}
