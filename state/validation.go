package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// Tor nicknames are 1 to 19 alphanumeric characters.
var nicknamePattern, _ = regexp.Compile("^[A-Za-z0-9]{1,19}$")

func NicknameValidator(s string) error {
	if !nicknamePattern.MatchString(s) {
		return fmt.Errorf("%q is not a valid nickname, must match pattern %s", s, nicknamePattern.String())
	}
	return nil
}

func PathValidator(s string) error {
	if s == "" {
		return fmt.Errorf("path must not be empty")
	}
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func PortValidator(port uint16) error {
	if port == 0 {
		return fmt.Errorf("port must not be 0")
	}
	return nil
}

func ConfigValidator(cfg *Cfg) error {
	a := cfg.Authority
	err := NicknameValidator(a.Name)
	if err != nil {
		return fmt.Errorf("authority.name: %w", err)
	}
	if strings.ContainsAny(a.Hostname, " \t\n") || a.Hostname == "" {
		return fmt.Errorf("authority.hostname %q is invalid", a.Hostname)
	}
	if !a.Address.IsValid() {
		return fmt.Errorf("authority.address is invalid")
	}
	if err := PortValidator(a.DirPort); err != nil {
		return fmt.Errorf("authority.dir_port: %w", err)
	}
	if err := PortValidator(a.ORPort); err != nil {
		return fmt.Errorf("authority.or_port: %w", err)
	}
	if strings.ContainsAny(a.Contact, "\n") {
		return fmt.Errorf("authority.contact must be a single line")
	}
	if err := PathValidator(a.Directory); err != nil {
		return fmt.Errorf("authority.directory: %w", err)
	}
	if a.CertificateValidityMonths <= 0 {
		return fmt.Errorf("authority.certificate_validity_months must be positive, got %d", a.CertificateValidityMonths)
	}

	c := cfg.Consensus
	if c.Relays <= 0 {
		return fmt.Errorf("consensus.relays must be positive, got %d", c.Relays)
	}
	if c.ValidityDays <= 0 {
		return fmt.Errorf("consensus.validity_days must be positive, got %d", c.ValidityDays)
	}
	if c.MTBFAuthority == "" {
		return fmt.Errorf("consensus.mtbf_authority must be set")
	}
	if strings.ContainsAny(c.BandwidthWeights, "\n") {
		return fmt.Errorf("consensus.bandwidth_weights must be a single line")
	}
	for _, p := range c.ExcludePrefixes {
		if !p.IsValid() {
			return fmt.Errorf("consensus.exclude_prefixes contains an invalid prefix")
		}
	}

	d := cfg.Directory
	if err := PathValidator(d.Root); err != nil {
		return fmt.Errorf("directory.root: %w", err)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("directory.timeout must be positive")
	}
	found := false
	for _, m := range cfg.Mirrors() {
		if m.Name == "" || m.Address == "" {
			return fmt.Errorf("directory.authorities entries need a name and an address")
		}
		if m.Name == c.MTBFAuthority {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("consensus.mtbf_authority %q is not one of directory.authorities", c.MTBFAuthority)
	}

	if cfg.CertGen.PasswordEnv == "" {
		return fmt.Errorf("certgen.password_env must be set")
	}
	if cfg.Publish.Prefix != "" && cfg.Publish.Bucket == "" {
		return fmt.Errorf("publish.prefix is set without publish.bucket")
	}
	return nil
}
