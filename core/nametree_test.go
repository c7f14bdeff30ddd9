/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestTreeInsertCreatesAncestorChain(t *testing.T) {
	tree := NewTree()
	n := tree.Insert("www.example.com.")
	require.NotNil(t, n)
	assert.Equal(t, "www.example.com.", n.Name)

	exact, _, _ := tree.Search("example.com.")
	assert.True(t, exact, "intermediate ancestor example.com. should exist")
	exact, _, _ = tree.Search("com.")
	assert.True(t, exact, "intermediate ancestor com. should exist")

	// Re-inserting returns the same node.
	again := tree.Insert("www.example.com.")
	assert.Equal(t, n.id, again.id)
}

func TestTreeSearchClosestEncloser(t *testing.T) {
	tree := NewTree()
	tree.Insert("example.com.")
	tree.Insert("www.example.com.")

	exact, _, enc := tree.Search("missing.example.com.")
	assert.False(t, exact)
	assert.Equal(t, "example.com.", enc.Name)
}

func TestTreeDeleteCascadesAndRenumbers(t *testing.T) {
	tree := NewTree()
	leaf := tree.Insert("www.example.com.")
	zone := &Zone{id: 1, Origin: "example.com."}
	tree.AddRRset(leaf, &RRset{Zone: zone, Name: leaf.Name, RRtype: dns.TypeA,
		RRs: []dns.RR{mustRR(t, "www.example.com. 300 IN A 192.0.2.1")}})

	beforeCount := len(tree.nodes)

	tree.RemoveRRset(leaf, &RRset{Zone: zone, RRtype: dns.TypeA})
	tree.Delete(leaf)

	exact, _, _ := tree.Search("www.example.com.")
	assert.False(t, exact, "leaf with no data should be gone")
	// example.com. and com. still have no data either and cascade away too.
	exact, _, _ = tree.Search("example.com.")
	assert.False(t, exact)

	assert.Less(t, len(tree.nodes), beforeCount)

	for id, pos := range tree.posOf {
		assert.Equal(t, id, tree.order[pos])
	}
	for id, n := range tree.nodes {
		assert.Equal(t, id, n.id, "slab ids must stay dense after compaction")
	}
}

func TestTreeCanBeDeletedKeepsNodesWithData(t *testing.T) {
	tree := NewTree()
	n := tree.Insert("example.com.")
	zone := &Zone{id: 1, Origin: "example.com."}
	tree.AddRRset(n, &RRset{Zone: zone, Name: n.Name, RRtype: dns.TypeSOA})
	assert.False(t, tree.CanBeDeleted(n))
}

func TestWildcardChildTracking(t *testing.T) {
	tree := NewTree()
	parent := tree.Insert("example.com.")
	wc := tree.Insert("*.example.com.")

	got := tree.WildcardChild(parent)
	require.NotNil(t, got)
	assert.Equal(t, wc.id, got.id)
}

func TestNodeUseReleasePreventsDeletion(t *testing.T) {
	tree := NewTree()
	n := tree.Insert("leaf.example.com.")
	n.Use()
	assert.False(t, tree.CanBeDeleted(n))
	n.Release()
	assert.True(t, tree.CanBeDeleted(n))
}
