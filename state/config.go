package state

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/encodeous/dirgen/certgen"
	"github.com/encodeous/dirgen/fetch"
	"github.com/goccy/go-yaml"
)

// AuthorityCfg describes the private directory authority.
type AuthorityCfg struct {
	Name     string     `yaml:"name"`
	Hostname string     `yaml:"hostname"`
	Address  netip.Addr `yaml:"address"`
	DirPort  uint16     `yaml:"dir_port"`
	ORPort   uint16     `yaml:"or_port"`
	Contact  string     `yaml:"contact"`
	// Directory holds the private keys and the public certificate.
	Directory                 string `yaml:"directory"`
	CertificateValidityMonths int    `yaml:"certificate_validity_months"`
}

type ConsensusCfg struct {
	Relays           int            `yaml:"relays"`
	ValidityDays     int            `yaml:"validity_days"`
	BandwidthWeights string         `yaml:"bandwidth_weights,omitempty"`
	MTBFAuthority    string         `yaml:"mtbf_authority"`
	ExcludePrefixes  []netip.Prefix `yaml:"exclude_prefixes,omitempty"` // relays with an address in these prefixes are never selected
}

type DirectoryCfg struct {
	// Root holds one dated directory per generated consensus.
	Root        string                     `yaml:"root"`
	Authorities []fetch.DirectoryAuthority `yaml:"authorities,omitempty"` // mirrors queried in order, defaults to the public authorities
	Timeout     time.Duration              `yaml:"timeout"`
	CacheTTL    time.Duration              `yaml:"cache_ttl"`
}

type CertGenCfg struct {
	Binary      string        `yaml:"binary"`
	PasswordEnv string        `yaml:"password_env"` // name of the variable holding the key password, never the password
	Timeout     time.Duration `yaml:"timeout"`
	KillGrace   time.Duration `yaml:"kill_grace"`
}

type PublishCfg struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

type HistoryCfg struct {
	Path string `yaml:"path,omitempty"`
}

// Cfg is the dirgen configuration file.
type Cfg struct {
	Authority AuthorityCfg `yaml:"authority"`
	Consensus ConsensusCfg `yaml:"consensus"`
	Directory DirectoryCfg `yaml:"directory"`
	CertGen   CertGenCfg   `yaml:"certgen"`
	Publish   PublishCfg   `yaml:"publish,omitempty"`
	History   HistoryCfg   `yaml:"history,omitempty"`
	LogPath   string       `yaml:"log_path,omitempty"` // if not empty, logs are mirrored to this file
	Compress  bool         `yaml:"compress,omitempty"` // also write zstd copies of generated documents
}

func DefaultCfg() Cfg {
	return Cfg{
		Authority: AuthorityCfg{
			Name:                      DefaultAuthorityName,
			Hostname:                  DefaultHostname,
			Address:                   netip.MustParseAddr(DefaultAddress),
			DirPort:                   DefaultDirPort,
			ORPort:                    DefaultORPort,
			Contact:                   DefaultContact,
			Directory:                 DefaultAuthorityDirectory,
			CertificateValidityMonths: DefaultCertificateValidityMonths,
		},
		Consensus: ConsensusCfg{
			Relays:        DefaultRelays,
			ValidityDays:  DefaultValidityDays,
			MTBFAuthority: DefaultMTBFAuthority,
		},
		Directory: DirectoryCfg{
			Root:     DefaultRootDirectory,
			Timeout:  DefaultFetchTimeout,
			CacheTTL: DefaultCacheTTL,
		},
		CertGen: CertGenCfg{
			Binary:      certgen.DefaultBinary,
			PasswordEnv: certgen.DefaultPasswordEnv,
			Timeout:     certgen.DefaultTimeout,
			KillGrace:   certgen.DefaultKillGrace,
		},
	}
}

// Mirrors returns the configured directory mirrors, or the public authorities.
func (c *Cfg) Mirrors() []fetch.DirectoryAuthority {
	if len(c.Directory.Authorities) == 0 {
		return fetch.DefaultAuthorities
	}
	return c.Directory.Authorities
}

// ParseConfig decodes data over DefaultCfg, so omitted keys keep their defaults.
func ParseConfig(data []byte) (*Cfg, error) {
	cfg := DefaultCfg()
	err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	err = ConfigValidator(&cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads path. A missing file yields the defaults.
func LoadConfig(path string) (*Cfg, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultCfg()
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}
