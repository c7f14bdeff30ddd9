/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration, grounded on the
// teacher's Config (tdns/config.go) but trimmed to this server's scope:
// no DNSSEC policy, multi-signer, or registrar sections, since signing
// and dynamic-update orchestration are out of scope.
type Config struct {
	Service   ServiceConf         `mapstructure:"service"`
	DnsEngine DnsEngineConf       `mapstructure:"dnsengine"`
	Zones     map[string]ZoneConf `mapstructure:"zones"`
	Tsig      []TsigKeyConf       `mapstructure:"tsig"`
	Db        DbConf              `mapstructure:"db"`
	Log       LogConf             `mapstructure:"log"`
}

// TsigKeyConf is one entry of the tsig: section of the config file,
// grounded on the teacher's KeyConf.Tsig (tdns/config.go) but trimmed to
// the fields a DNS-only server needs: name, algorithm, secret.
type TsigKeyConf struct {
	Name      string `mapstructure:"name" validate:"required"`
	Algorithm string `mapstructure:"algorithm" validate:"required"`
	Secret    string `mapstructure:"secret" validate:"required"`
}

type ServiceConf struct {
	Name    string `mapstructure:"name" validate:"required"`
	Debug   bool   `mapstructure:"debug"`
	Verbose bool   `mapstructure:"verbose"`
}

type DnsEngineConf struct {
	Addresses []string `mapstructure:"addresses" validate:"required,min=1"`
}

type DbConf struct {
	File         string `mapstructure:"file"`
	JournalDir   string `mapstructure:"journaldir"`
	CommitLog    string `mapstructure:"commitlog"`
}

type LogConf struct {
	File       string `mapstructure:"file" validate:"required"`
	MaxSizeMB  int    `mapstructure:"maxsizemb"`
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAgeDays int    `mapstructure:"maxagedays"`
}

// ZoneConf is one entry of the zones: section of the config file, or of
// the standalone zone list file (spec.md section 5, "Zone list file"),
// which this server also accepts in YAML form (SPEC_FULL.md DOMAIN
// STACK, gopkg.in/yaml.v3) in addition to the plain text format spec.md
// describes.
type ZoneConf struct {
	Name      string   `mapstructure:"name" yaml:"name"`
	Kind      string   `mapstructure:"kind" yaml:"kind" validate:"oneof=primary secondary"`
	Zonefile  string   `mapstructure:"zonefile" yaml:"zonefile"`
	Primaries []string `mapstructure:"primaries" yaml:"primaries"`
	Notify    []string `mapstructure:"notify" yaml:"notify"`
	NSEC3     bool     `mapstructure:"nsec3" yaml:"nsec3"`
	TsigKey   string   `mapstructure:"tsigkey" yaml:"tsigkey"` // name of an entry in the top-level tsig: list
}

// ResolveTsigKey looks up zc's configured key, if any, in kr. It returns
// nil, nil when the zone names no key at all, and an error when it names
// one the key ring does not have.
func (zc ZoneConf) ResolveTsigKey(kr TsigKeyring) (*TsigKey, error) {
	if zc.TsigKey == "" {
		return nil, nil
	}
	key, ok := kr[zc.TsigKey]
	if !ok {
		return nil, fmt.Errorf("zone %s: tsig key %q is not configured", zc.Name, zc.TsigKey)
	}
	return &key, nil
}

// LoadConfig reads and validates the server config at path using viper,
// matching the teacher's ValidateConfig (tdns/config.go) flow: unmarshal
// then struct-tag validate, returning every validation failure at once.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("LoadConfig: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: validation: %w", err)
	}
	return &cfg, nil
}

// TsigKeyring builds the key ring described by the config's tsig: list.
func (c *Config) TsigKeyring() TsigKeyring {
	keys := make([]TsigKey, 0, len(c.Tsig))
	for _, k := range c.Tsig {
		keys = append(keys, TsigKey{Name: k.Name, Algorithm: k.Algorithm, Secret: k.Secret})
	}
	return NewTsigKeyring(keys)
}

// LoadZoneList reads a standalone YAML zone list file (an alternate,
// config-file-independent way to declare zones; spec.md section 5 only
// specifies a plain list format, this is the YAML form SPEC_FULL.md's
// DOMAIN STACK adds).
func LoadZoneList(data []byte) ([]ZoneConf, error) {
	var zones []ZoneConf
	if err := yaml.Unmarshal(data, &zones); err != nil {
		return nil, fmt.Errorf("LoadZoneList: %w", err)
	}
	return zones, nil
}
