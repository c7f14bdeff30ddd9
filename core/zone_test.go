/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZoneCreatesApex(t *testing.T) {
	tree := NewTree()
	z := NewZone(tree, "example.com.", KindPrimary)
	require.NotNil(t, z.Apex)
	assert.True(t, z.Apex.IsApex)
	assert.Equal(t, "example.com.", z.Apex.Name)
}

func TestZoneOptions(t *testing.T) {
	tree := NewTree()
	z := NewZone(tree, "example.com.", KindPrimary)

	assert.False(t, z.HasOption(OptFrozen))
	z.SetOption(OptFrozen, true)
	assert.True(t, z.HasOption(OptFrozen))
	z.SetOption(OptFrozen, false)
	assert.False(t, z.HasOption(OptFrozen))
}

func TestBumpSerialOnlyAffectsPrimary(t *testing.T) {
	tree := NewTree()
	primary := NewZone(tree, "example.com.", KindPrimary)
	primary.Serial = 2024010100
	primary.BumpSerial()
	assert.Equal(t, uint32(2024010101), primary.Serial)
	assert.True(t, primary.HasOption(OptDirty))

	secondary := NewZone(tree, "example.org.", KindSecondary)
	secondary.Serial = 42
	secondary.BumpSerial()
	assert.Equal(t, uint32(42), secondary.Serial, "secondary serial only moves via transfer")
}
