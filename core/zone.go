/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"log"
	"sync"

	"github.com/miekg/dns"
)

// ZoneOption flags a zone's runtime state, generalised from the
// teacher's tdns/enums.go ZoneOption to what this server needs.
type ZoneOption int

const (
	OptFoldCase ZoneOption = 1 << iota // compare/store owner names case-insensitively
	OptDirty                           // modified since last persisted image
	OptFrozen                          // refuses further transfers/updates (operator hold)
)

// ZoneKind distinguishes a zone this server masters from one it only
// serves as a secondary (spec.md section 3, "Zone").
type ZoneKind int

const (
	KindPrimary ZoneKind = iota
	KindSecondary
)

// Zone is the in-memory unit of authority (spec.md section 3 "Zone").
// Its name data lives in the shared Tree; Zone itself carries the
// zone-level bookkeeping: SOA fields, transfer state, and logging.
type Zone struct {
	id     uint32
	Origin string
	Kind   ZoneKind

	Tree *Tree
	Apex *Node

	mu      sync.RWMutex
	options ZoneOption

	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32

	Primaries []string // upstream addresses, for a secondary zone
	Notify    []string // downstream addresses to notify after a bump

	// TsigKey, when non-nil, is the key this zone requires: transfers-in
	// are signed with it, transfers-out and NOTIFYs require it
	// (spec.md section 4.6). A zone with no key falls back to
	// address-based authorization only.
	TsigKey *TsigKey

	Logger *log.Logger

	Transfer *TransferState
}

var zoneIDSeq uint32

func nextZoneID() uint32 {
	zoneIDSeq++
	return zoneIDSeq
}

// NewZone creates a zone rooted at origin within tree, creating the
// apex node if it does not already exist.
func NewZone(tree *Tree, origin string, kind ZoneKind) *Zone {
	z := &Zone{
		id:     nextZoneID(),
		Origin: origin,
		Kind:   kind,
		Tree:   tree,
	}
	z.Apex = tree.Insert(origin)
	z.Apex.IsApex = true
	z.Apex.Use()
	return z
}

func (z *Zone) HasOption(o ZoneOption) bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.options&o != 0
}

func (z *Zone) SetOption(o ZoneOption, on bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if on {
		z.options |= o
	} else {
		z.options &^= o
	}
}

// BumpSerial adds one to a primary zone's serial (uint32 arithmetic, so
// it wraps at 2^32) and marks the zone OptDirty, a primary-zone-only
// take on the teacher's tdns/zone_utils.go:BumpSerial. It leaves the
// apex SOA record unchanged and does nothing for a secondary zone,
// whose serial always comes from the wire.
func (z *Zone) BumpSerial() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.Kind != KindPrimary {
		return
	}
	z.Serial++
	z.options |= OptDirty
}

// SOARRset returns the zone's current SOA RRset, if the apex carries one.
func (z *Zone) SOARRset() *RRset {
	return z.Tree.FindRRset(z.Apex, z, dns.TypeSOA)
}
