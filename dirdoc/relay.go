package dirdoc

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"
)

// StatMTBF is the vote statistic used to rank relay stability.
const StatMTBF = "mtbf"

// RelayEntry is a router status entry of a consensus or vote.
//
// The lines of the entry are kept verbatim; Bytes re-emits them unchanged
// except for the "s" line, which is re-rendered from Flags when they were edited.
type RelayEntry struct {
	Nickname        string
	Fingerprint     Fingerprint
	Published       time.Time
	Addresses       []netip.AddrPort
	Bandwidth       uint64
	Flags           Flags
	MicrodescDigest string
	// Policy is the exit policy summary, only present in votes and ns consensuses.
	Policy *PortPolicy
	stats  map[string]string

	lines     []string
	flagsLine int
	origFlags string
}

// Stat returns the numeric value of a "stats" entry, as published in votes.
func (r *RelayEntry) Stat(name string) (float64, bool) {
	v, ok := r.stats[name]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// MTBF is the mean time between failures measured by a voting authority, 0 when absent.
func (r *RelayEntry) MTBF() float64 {
	v, _ := r.Stat(StatMTBF)
	return v
}

// HasORPort reports whether any advertised address listens on port.
func (r *RelayEntry) HasORPort(port uint16) bool {
	return slices.ContainsFunc(r.Addresses, func(ap netip.AddrPort) bool {
		return ap.Port() == port
	})
}

// Clone returns a deep copy that can be edited independently.
func (r *RelayEntry) Clone() *RelayEntry {
	c := *r
	c.Addresses = slices.Clone(r.Addresses)
	c.Flags = slices.Clone(r.Flags)
	c.lines = slices.Clone(r.lines)
	return &c
}

// Bytes serializes the entry.
func (r *RelayEntry) Bytes() []byte {
	var sb strings.Builder
	for i, l := range r.lines {
		if i == r.flagsLine && r.Flags.String() != r.origFlags {
			sb.WriteString("s")
			if len(r.Flags) > 0 {
				sb.WriteString(" " + r.Flags.String())
			}
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(l)
	}
	return []byte(sb.String())
}

// parseRelay parses the lines of a single router status entry, starting with its "r" line.
func parseRelay(lines []string) (*RelayEntry, error) {
	r := &RelayEntry{lines: lines, flagsLine: -1}
	for i, line := range lines {
		kw, args := keyword(line)
		var err error
		switch kw {
		case "r":
			err = r.parseRouterLine(args)
		case "a":
			var ap netip.AddrPort
			if len(args) < 1 {
				return nil, fmt.Errorf("%w: empty \"a\" line", ErrMalformed)
			}
			ap, err = netip.ParseAddrPort(args[0])
			r.Addresses = append(r.Addresses, ap)
		case "s":
			r.Flags = ParseFlags(args)
			r.flagsLine = i
			r.origFlags = r.Flags.String()
		case "w":
			for _, kv := range args {
				if v, ok := strings.CutPrefix(kv, "Bandwidth="); ok {
					r.Bandwidth, err = strconv.ParseUint(v, 10, 64)
				}
			}
		case "m":
			// microdesc consensuses carry a bare digest; votes list "methods sha256=digest"
			if len(args) == 1 {
				r.MicrodescDigest = args[0]
			}
		case "p":
			r.Policy, err = ParsePortPolicy(args)
		case "stats":
			r.stats = make(map[string]string, len(args))
			for _, kv := range args {
				k, v, ok := strings.Cut(kv, "=")
				if ok {
					r.stats[k] = v
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("relay %s: %q: %w", r.Nickname, strings.TrimSpace(line), err)
		}
	}
	return r, nil
}

// parseRouterLine reads "r" lines of both flavors:
// microdesc: nickname identity date time ip orport dirport
// ns/vote:   nickname identity digest date time ip orport dirport
func (r *RelayEntry) parseRouterLine(args []string) error {
	var rest []string
	switch len(args) {
	case 7:
		rest = args[2:]
	case 8:
		rest = args[3:]
	default:
		return fmt.Errorf("%w: \"r\" line has %d arguments", ErrMalformed, len(args))
	}
	r.Nickname = args[0]
	fp, err := fingerprintFromIdentity(args[1])
	if err != nil {
		return err
	}
	r.Fingerprint = fp
	r.Published, err = parseTime(rest[0:2])
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(rest[2])
	if err != nil {
		return err
	}
	orPort, err := strconv.ParseUint(rest[3], 10, 16)
	if err != nil {
		return err
	}
	r.Addresses = append(r.Addresses, netip.AddrPortFrom(addr, uint16(orPort)))
	return nil
}
