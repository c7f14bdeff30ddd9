/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// NotifyRequest queues one outbound NOTIFY fan-out, grounded on the
// teacher's NotifyRequest/NotifierEngine (tdns/notify.go) but carrying a
// correlation id (spec.md's transfer coordinator durability requirement
// asks that a transfer, and the notify that triggered it, be traceable
// end to end) instead of a bare response channel.
type NotifyRequest struct {
	Zone          *Zone
	Targets       []string
	CorrelationID string
}

// SendNotify sends a SOA NOTIFY to every target, matching the wire shape
// of the teacher's SendNotify (tdns/notify.go): SOA question, NOTIFY
// opcode, fire-and-log rather than fire-and-retry — spec.md section 4.5
// treats outbound NOTIFY as best-effort, with the real reliability
// coming from the secondary's own refresh timer.
func SendNotify(logger *log.Logger, zone *Zone, targets []string) {
	for _, dst := range targets {
		m := new(dns.Msg)
		m.SetNotify(zone.Origin)
		c := new(dns.Client)
		resp, _, err := c.Exchange(m, dst)
		if err != nil {
			logger.Printf("notify %s -> %s: %v", zone.Origin, dst, err)
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			logger.Printf("notify %s -> %s: rcode %s", zone.Origin, dst, dns.RcodeToString[resp.Rcode])
		}
	}
}

// NotifierEngine drains notifyCh and sends each request on its own
// goroutine, so requests run concurrently, two for the same zone
// included. It follows the teacher's NotifierEngine goroutine
// (tdns/notify.go), generalised to carry a stop channel instead of
// running forever.
func NotifierEngine(logger *log.Logger, notifyCh <-chan NotifyRequest, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case nr, ok := <-notifyCh:
			if !ok {
				return
			}
			if nr.CorrelationID == "" {
				nr.CorrelationID = uuid.NewString()
			}
			logger.Printf("[%s] notifying %d downstream(s) for zone %s", nr.CorrelationID, len(nr.Targets), nr.Zone.Origin)
			go SendNotify(logger, nr.Zone, nr.Targets)
		}
	}
}

// HandleNotify processes an inbound NOTIFY (spec.md section 4.5): it
// only ever triggers an out-of-cycle refresh check, it never trusts the
// NOTIFY's own claimed serial. The caller (Server.handleNotify) has
// already rejected the request if the zone requires TSIG and it was
// missing or invalid, so a zone with a configured TsigKey is authorized
// by that signature alone and skips the address check; a zone with no
// key falls back to the address allowlist.
func (c *Coordinator) HandleNotify(zone *Zone, from string) error {
	if zone.Kind != KindSecondary {
		return fmt.Errorf("zone %s: NOTIFY ignored, not a secondary", zone.Origin)
	}
	if zone.TsigKey == nil && !isKnownPrimary(zone, from) {
		return fmt.Errorf("zone %s: NOTIFY from unrecognised source %s", zone.Origin, from)
	}
	c.Wake(zone)
	return nil
}

func isKnownPrimary(zone *Zone, addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	for _, p := range zone.Primaries {
		if ph, _, err := net.SplitHostPort(p); err == nil {
			p = ph
		}
		if p == host {
			return true
		}
	}
	return false
}
