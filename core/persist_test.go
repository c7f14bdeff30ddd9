/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	srcTree := NewTree()
	zone, errs := CompileZoneFile(srcTree, "example.com.", KindPrimary, strings.NewReader(validZone))
	require.Empty(t, errs, "%v", errs)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, map[string]*Zone{zone.Origin: zone}))

	dstTree := NewTree()
	loaded, err := Load(&buf, dstTree)
	require.NoError(t, err)
	require.Contains(t, loaded, "example.com.")

	got := loaded["example.com."]
	assert.Equal(t, zone.Serial, got.Serial)
	assert.Equal(t, zone.Kind, got.Kind)

	ns := dstTree.FindRRset(got.Apex, got, dns.TypeNS)
	require.NotNil(t, ns)
	assert.NotEmpty(t, ns.RRs)

	exact, _, _ := dstTree.Search("www.example.com.")
	assert.True(t, exact)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("NOTADBFILE")), NewTree())
	assert.Error(t, err)
}

func TestSaveAtomicWritesFile(t *testing.T) {
	tree := NewTree()
	zone, errs := CompileZoneFile(tree, "example.com.", KindPrimary, strings.NewReader(validZone))
	require.Empty(t, errs, "%v", errs)

	path := filepath.Join(t.TempDir(), "zones.db")
	require.NoError(t, SaveAtomic(path, map[string]*Zone{zone.Origin: zone}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	loaded, err := Load(f, NewTree())
	require.NoError(t, err)
	assert.Contains(t, loaded, "example.com.")
}

func TestCommitLogRecordsAndReadsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commit.db")
	cl, err := OpenCommitLog(path)
	require.NoError(t, err)
	defer cl.Close()

	_, ok, err := cl.LastCommit("example.com.")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cl.RecordCommit("example.com.", 2024010100))
	serial, ok, err := cl.LastCommit("example.com.")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2024010100), serial)

	require.NoError(t, cl.RecordCommit("example.com.", 2024010101))
	serial, ok, err = cl.LastCommit("example.com.")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2024010101), serial, "upsert must overwrite, not duplicate")
}
