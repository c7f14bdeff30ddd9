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

func TestWildcardReplaceRewritesOwnerOnly(t *testing.T) {
	rr := mustRR(t, "*.example.com. 300 IN A 192.0.2.9")
	out := WildcardReplace([]dns.RR{rr}, "*.example.com.", "foo.example.com.")
	require.Len(t, out, 1)
	assert.Equal(t, "foo.example.com.", out[0].Header().Name)
	assert.Equal(t, "192.0.2.9", out[0].(*dns.A).A.String())

	// Original record is untouched.
	assert.Equal(t, "*.example.com.", rr.Header().Name)
}

func TestWildcardLookupRequiresExistingWildcardNode(t *testing.T) {
	tree := NewTree()
	tree.Insert("example.com.")

	_, found := wildcardLookup(tree, "foo.example.com.")
	assert.False(t, found, "no wildcard node yet")

	wc := tree.Insert("*.example.com.")
	wc.IsExisting = true
	// Insert has already pointed the parent's wildcardChild at wc; this
	// only restates it. IsExisting is set by hand above because no RRset
	// is added (AddRRset is what normally sets it).
	parent := tree.Parent(wc)
	parent.wildcardChild = wc.id

	owner, found := wildcardLookup(tree, "foo.example.com.")
	require.True(t, found)
	assert.Equal(t, wc.id, owner.id)
}

func TestWildcardLookupUsesClosestEncloserNotImmediateParent(t *testing.T) {
	tree := NewTree()
	tree.Insert("example.com.")
	wc := tree.Insert("*.example.com.")
	wc.IsExisting = true
	parent := tree.Parent(wc)
	parent.wildcardChild = wc.id

	// "a.b.nothere.example.com." has no node at all for "nothere.example.com."
	// or "b.nothere.example.com."; its closest encloser is "example.com.",
	// two labels above its immediate parent, and the synthesized answer
	// must still come from "*.example.com.".
	owner, found := wildcardLookup(tree, "a.b.nothere.example.com.")
	require.True(t, found)
	assert.Equal(t, wc.id, owner.id)
}

func TestWildcardLookupNoMatchWhenExactNodeExists(t *testing.T) {
	tree := NewTree()
	tree.Insert("example.com.")
	wc := tree.Insert("*.example.com.")
	wc.IsExisting = true
	tree.Parent(wc).wildcardChild = wc.id

	exact := tree.Insert("foo.example.com.")
	exact.IsExisting = true

	_, found := wildcardLookup(tree, "foo.example.com.")
	assert.False(t, found, "an exact node must never be shadowed by a wildcard")
}

func TestHasSuffixCaseInsensitive(t *testing.T) {
	assert.True(t, hasSuffix("WWW.Example.COM.", "example.com."))
	assert.False(t, hasSuffix("example.org.", "example.com."))
}
