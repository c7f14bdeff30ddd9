/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfigYAML = `
service:
  name: authnsd-test
  verbose: true
dnsengine:
  addresses:
    - "0.0.0.0:53"
db:
  file: /var/lib/authnsd/zones.db
  journaldir: /var/lib/authnsd/journal
log:
  file: /var/log/authnsd.log
`

func TestLoadConfigValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authnsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfigYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "authnsd-test", cfg.Service.Name)
	assert.True(t, cfg.Service.Verbose)
	assert.Equal(t, []string{"0.0.0.0:53"}, cfg.DnsEngine.Addresses)
}

func TestLoadConfigMissingRequiredFieldFails(t *testing.T) {
	const missingLog = `
service:
  name: authnsd-test
dnsengine:
  addresses:
    - "0.0.0.0:53"
`
	path := filepath.Join(t.TempDir(), "authnsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(missingLog), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err, "log.file is required")
}

func TestLoadZoneListYAML(t *testing.T) {
	data := []byte(`
- name: example.com.
  kind: primary
  zonefile: example.com.zone
- name: example.org.
  kind: secondary
  primaries: ["192.0.2.53"]
`)
	zones, err := LoadZoneList(data)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "example.com.", zones[0].Name)
	assert.Equal(t, "primary", zones[0].Kind)
	assert.Equal(t, []string{"192.0.2.53"}, zones[1].Primaries)
}
