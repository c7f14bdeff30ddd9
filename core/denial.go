/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
	"github.com/twotwotwo/sorts/sortutil"
)

var b32hex = base32.HexEncoding.WithPadding(base32.NoPadding)

// NSEC3Params is a zone's hashing parameters (spec.md section 4.3); they
// are fixed for the lifetime of one precomputed chain and changing them
// requires recomputing the whole chain.
type NSEC3Params struct {
	Algorithm  uint8 // always 1 (SHA-1), the only IANA-registered value
	Iterations uint16
	Salt       []byte
	OptOut     bool
}

// nsec3Hash implements the RFC 5155 section 5 iterated-hash construction,
// grounded on the retrieval pack's own from-scratch implementation
// rather than any partial support in miekg/dns's NSEC3 type (which
// models the wire record but does not compute hashes).
func nsec3Hash(owner string, p NSEC3Params) string {
	wire := make([]byte, 0, 256)
	for _, label := range dns.SplitDomainName(strings.ToLower(owner)) {
		wire = append(wire, byte(len(label)))
		wire = append(wire, []byte(label)...)
	}
	wire = append(wire, 0)

	h := sha1.New()
	h.Write(wire)
	h.Write(p.Salt)
	digest := h.Sum(nil)

	for i := uint16(0); i < p.Iterations; i++ {
		h.Reset()
		h.Write(digest)
		h.Write(p.Salt)
		digest = h.Sum(nil)
	}
	return strings.ToUpper(b32hex.EncodeToString(digest))
}

// GenerateSalt returns a fresh random salt of n bytes, hex-encoded the
// way the wire NSEC3 salt field expects.
func GenerateSalt(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("GenerateSalt: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// nsec3Chain holds the precomputed denial-of-existence structure for one
// zone: every existing name's hash, sorted, with the NSEC3 RRset that
// owns each position already built.
type nsec3Chain struct {
	params NSEC3Params
	hashes []string          // sorted ascending, duplicates removed
	owner  map[string]string // hash -> original owner name
}

// PrecomputeNSEC3 builds the zone's NSEC3 chain: one record per owner
// name in the zone that holds RRsets (glue-only names included, the
// parent side of every delegation among them), each carrying its
// neighbour's hash as NextDomain (spec.md section 4.3). Empty
// non-terminals get no record, and params.OptOut only sets the opt-out
// flag on each record; it does not change which names are in the
// chain. It stores the resulting RRsets back into the tree at synthetic
// hashed owner nodes, and records cover-lookup links on the plain-name
// nodes via Node.NSEC3Exact.
func PrecomputeNSEC3(tree *Tree, zone *Zone, params NSEC3Params) error {
	chain := &nsec3Chain{params: params, owner: make(map[string]string)}

	names := collectSignableNames(tree, zone)
	for _, name := range names {
		h := nsec3Hash(name, params)
		chain.owner[h] = name
		chain.hashes = append(chain.hashes, h)
	}

	sortutil.Strings(chain.hashes)
	chain.hashes = dedupSorted(chain.hashes)

	for i, h := range chain.hashes {
		next := chain.hashes[(i+1)%len(chain.hashes)]
		name := chain.owner[h]
		node := tree.Insert(name)

		bitmap := typeBitmap(tree, node, zone)
		rr := buildNSEC3(h, zone.Origin, next, params, bitmap)

		hashedOwner := strings.ToLower(h) + "." + zone.Origin
		hnode := tree.Insert(hashedOwner)
		rs := &RRset{Zone: zone, Name: hashedOwner, RRtype: dns.TypeNSEC3, RRs: []dns.RR{rr}}
		tree.AddRRset(hnode, rs)

		node.NSEC3Exact = hnode.id

		// A delegation point's own NSEC3 record is also its DS-denial
		// proof (RFC 5155 section 7.2.1): since collectSignableNames
		// always gives a delegation point its exact chain entry, that
		// entry's type bit map (typeBitmap, above) already omits DS
		// whenever the zone holds no DS RRset there, which is exactly
		// what a resolver needs to treat the delegation as insecure.
		if _, isDelegation := node.Types.Get(zone, dns.TypeNS); isDelegation && node != zone.Apex {
			node.NSEC3DSParentCover = hnode.id
		}
	}

	paramRR := &dns.NSEC3PARAM{
		Hdr:        dns.RR_Header{Name: zone.Origin, Rrtype: dns.TypeNSEC3PARAM, Class: dns.ClassINET, Ttl: 0},
		Hash:       params.Algorithm,
		Flags:      0,
		Iterations: params.Iterations,
		SaltLength: uint8(len(params.Salt)),
		Salt:       strings.ToUpper(hex.EncodeToString(params.Salt)),
	}
	tree.AddRRset(zone.Apex, &RRset{Zone: zone, Name: zone.Origin, RRtype: dns.TypeNSEC3PARAM, RRs: []dns.RR{paramRR}})

	return nil
}

// collectSignableNames returns every owner name in zone that needs its
// own NSEC3 record: names with data, delegation points (parent side of
// a zone cut) and glue-only names alike. Names with no RRsets, such as
// empty non-terminals, are not returned.
func collectSignableNames(tree *Tree, zone *Zone) []string {
	var names []string
	for _, id := range tree.order {
		node := tree.Node(id)
		if node == nil {
			continue
		}
		if node.Name != zone.Origin && !isProperSuffix(node.Name, zone.Origin) {
			continue
		}
		if _, isDelegation := node.Types.Get(zone, dns.TypeNS); isDelegation && node.Name != zone.Origin {
			names = append(names, node.Name)
			continue
		}
		if node.Types.Count() > 0 {
			names = append(names, node.Name)
		}
	}
	return names
}

// typeBitmap returns the sorted set of RR types present at node for
// zone, for the NSEC3 type bit map field.
func typeBitmap(tree *Tree, node *Node, zone *Zone) []uint16 {
	var types []uint16
	for _, rs := range node.Types.ForZone(zone) {
		if len(rs.RRs) > 0 {
			types = append(types, rs.RRtype)
		}
	}
	types = append(types, dns.TypeNSEC3)
	if _, ok := node.Types.Get(zone, dns.TypeSOA); ok && node == zone.Apex {
		types = append(types, dns.TypeRRSIG)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func buildNSEC3(hash, zoneOrigin, nextHash string, p NSEC3Params, bitmap []uint16) *dns.NSEC3 {
	flags := uint8(0)
	if p.OptOut {
		flags = 1
	}
	return &dns.NSEC3{
		Hdr:        dns.RR_Header{Name: strings.ToLower(hash) + "." + zoneOrigin, Rrtype: dns.TypeNSEC3, Class: dns.ClassINET, Ttl: 3600},
		Hash:       p.Algorithm,
		Flags:      flags,
		Iterations: p.Iterations,
		SaltLength: uint8(len(p.Salt)),
		Salt:       strings.ToUpper(hex.EncodeToString(p.Salt)),
		HashLength: 20,
		NextDomain: nextHash,
		TypeBitMap: bitmap,
	}
}

// decodeSalt decodes a wire-format hex salt string back into bytes,
// tolerating the "-" sentinel dns.NSEC3PARAM uses for an empty salt.
func decodeSalt(salt string) ([]byte, error) {
	if salt == "-" || salt == "" {
		return nil, nil
	}
	return hex.DecodeString(salt)
}

func dedupSorted(s []string) []string {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// CoverNSEC3 returns the hashed owner node whose NSEC3 record covers
// qname: the record whose own hash sorts at or immediately before
// hash(qname) in the chain (spec.md section 4.3, "NSEC3 cover").
func CoverNSEC3(tree *Tree, zone *Zone, qname string, params NSEC3Params) *Node {
	target := nsec3Hash(qname, params)
	prefix := zone.Origin
	var hashed []string
	for _, id := range tree.order {
		n := tree.Node(id)
		if n == nil {
			continue
		}
		if strings.HasSuffix(n.Name, prefix) && n.Name != prefix {
			if _, ok := n.Types.Get(zone, dns.TypeNSEC3); ok {
				hashed = append(hashed, n.Name)
			}
		}
	}
	sortutil.Strings(hashed)
	if len(hashed) == 0 {
		return nil
	}
	targetOwner := strings.ToLower(target) + "." + zone.Origin
	pos := sort.SearchStrings(hashed, targetOwner)
	if pos == len(hashed) || hashed[pos] != targetOwner {
		pos--
	}
	if pos < 0 {
		pos = len(hashed) - 1
	}
	id, ok := tree.byName[hashed[pos]]
	if !ok {
		return nil
	}
	return tree.Node(id)
}
