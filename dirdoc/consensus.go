package dirdoc

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrSignatureDecode is returned when a signature object cannot be decoded.
var ErrSignatureDecode = errors.New("signature decode error")

// signatureMarker ends the portion of a document covered by its signatures.
const signatureMarker = "\ndirectory-signature "

const (
	FlavorMicrodesc = "microdesc"
	FlavorNS        = "ns"
)

// Authority is a "dir-source" entry.
type Authority struct {
	Nickname string
	Identity Fingerprint
	Hostname string
	Address  netip.Addr
	DirPort  uint16
	ORPort   uint16
	Contact  string
}

// Signature is a "directory-signature" entry.
type Signature struct {
	Algorithm        string
	Identity         Fingerprint
	SigningKeyDigest string
	body             string
}

// Decode returns the raw signature bytes.
func (s *Signature) Decode() ([]byte, error) {
	if s.body == "" {
		return nil, fmt.Errorf("%w: empty signature object", ErrSignatureDecode)
	}
	raw, err := base64.StdEncoding.DecodeString(s.body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureDecode, err)
	}
	return raw, nil
}

// Consensus is a network status document: a consensus or a vote.
type Consensus struct {
	Flavor      string
	VoteStatus  string
	ValidAfter  time.Time
	FreshUntil  time.Time
	ValidUntil  time.Time
	KnownFlags  Flags
	Authorities []*Authority
	// Relays are sorted ascending by fingerprint.
	Relays     []*RelayEntry
	Signatures []*Signature
	Raw        []byte

	index map[Fingerprint]*RelayEntry
}

func (c *Consensus) IsVote() bool {
	return c.VoteStatus == "vote"
}

// Relay looks up a relay by fingerprint.
func (c *Consensus) Relay(fp Fingerprint) (*RelayEntry, bool) {
	r, ok := c.index[fp]
	return r, ok
}

// SignedDigest is the SHA-256 digest of the document up to and including
// the first "directory-signature " keyword.
func (c *Consensus) SignedDigest() []byte {
	digest, _ := c.SignedDigestFor("sha256")
	return digest
}

// SignedDigestFor digests the signed portion of the document with the hash
// named by a signature's algorithm. Signatures without an algorithm field,
// as written in votes, are sha1.
func (c *Consensus) SignedDigestFor(algorithm string) ([]byte, bool) {
	idx := bytes.Index(c.Raw, []byte(signatureMarker))
	end := len(c.Raw)
	if idx >= 0 {
		end = idx + len(signatureMarker)
	}
	switch algorithm {
	case "sha1":
		sum := sha1.Sum(c.Raw[:end])
		return sum[:], true
	case "sha256":
		sum := sha256.Sum256(c.Raw[:end])
		return sum[:], true
	}
	return nil, false
}

// SignatureFor returns the first signature made by the given authority identity.
func (c *Consensus) SignatureFor(identity Fingerprint) (*Signature, bool) {
	idx := slices.IndexFunc(c.Signatures, func(s *Signature) bool {
		return s.Identity == identity
	})
	if idx < 0 {
		return nil, false
	}
	return c.Signatures[idx], true
}

// AuthorityIdentities lists the v3 identities of the voting authorities.
func (c *Consensus) AuthorityIdentities() []Fingerprint {
	ids := make([]Fingerprint, 0, len(c.Authorities))
	for _, a := range c.Authorities {
		if strings.HasSuffix(a.Nickname, "-legacy") {
			continue
		}
		ids = append(ids, a.Identity)
	}
	return ids
}

type section int

const (
	sectionHeader section = iota
	sectionRelays
	sectionFooter
)

// ParseConsensus parses a consensus or vote, keeping raw for digest computation.
func ParseConsensus(raw []byte) (*Consensus, error) {
	c := &Consensus{
		Raw:   raw,
		index: make(map[Fingerprint]*RelayEntry),
	}
	lines := splitLines(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	if kw, _ := keyword(lines[0]); kw != "network-status-version" {
		return nil, fmt.Errorf("%w: document does not start with network-status-version", ErrMalformed)
	}

	sec := sectionHeader
	relayStart := -1
	var authority *Authority

	flushRelay := func(end int) error {
		if relayStart < 0 {
			return nil
		}
		r, err := parseRelay(lines[relayStart:end])
		if err != nil {
			return err
		}
		if _, dup := c.index[r.Fingerprint]; dup {
			return fmt.Errorf("%w: duplicate relay %s", ErrMalformed, r.Fingerprint)
		}
		c.index[r.Fingerprint] = r
		c.Relays = append(c.Relays, r)
		relayStart = -1
		return nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if isObjectStart(line) {
			// objects not attached to a keyword we read (e.g. vote certificates)
			_, next, err := readObject(lines, i)
			if err != nil {
				return nil, err
			}
			i = next - 1
			continue
		}
		kw, args := keyword(line)
		switch sec {
		case sectionHeader:
			if kw == "r" {
				sec = sectionRelays
				relayStart = i
				continue
			}
			err := c.parseHeaderLine(kw, args, &authority)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		case sectionRelays:
			switch kw {
			case "r":
				if err := flushRelay(i); err != nil {
					return nil, err
				}
				relayStart = i
			case "directory-footer", "directory-signature":
				if err := flushRelay(i); err != nil {
					return nil, err
				}
				sec = sectionFooter
				i--
			}
		case sectionFooter:
			if kw != "directory-signature" {
				continue
			}
			sig, next, err := parseSignature(lines, i, args)
			if err != nil {
				return nil, err
			}
			c.Signatures = append(c.Signatures, sig)
			i = next - 1
		}
	}
	if sec == sectionRelays {
		if err := flushRelay(len(lines)); err != nil {
			return nil, err
		}
	}

	if c.ValidAfter.IsZero() || c.FreshUntil.IsZero() || c.ValidUntil.IsZero() {
		return nil, fmt.Errorf("%w: missing validity window", ErrMalformed)
	}
	if !c.ValidAfter.Before(c.FreshUntil) || c.ValidUntil.Before(c.FreshUntil) {
		return nil, fmt.Errorf("%w: inconsistent validity window %s / %s / %s", ErrMalformed,
			FormatTime(c.ValidAfter), FormatTime(c.FreshUntil), FormatTime(c.ValidUntil))
	}
	slices.SortFunc(c.Relays, func(a, b *RelayEntry) int {
		return a.Fingerprint.Compare(b.Fingerprint)
	})
	return c, nil
}

func (c *Consensus) parseHeaderLine(kw string, args []string, authority **Authority) error {
	var err error
	switch kw {
	case "network-status-version":
		c.Flavor = FlavorNS
		if len(args) > 1 {
			c.Flavor = args[1]
		}
	case "vote-status":
		if len(args) > 0 {
			c.VoteStatus = args[0]
		}
	case "valid-after":
		c.ValidAfter, err = parseTime(args)
	case "fresh-until":
		c.FreshUntil, err = parseTime(args)
	case "valid-until":
		c.ValidUntil, err = parseTime(args)
	case "known-flags":
		c.KnownFlags = ParseFlags(args)
	case "dir-source":
		a, perr := parseDirSource(args)
		if perr != nil {
			return perr
		}
		c.Authorities = append(c.Authorities, a)
		*authority = a
	case "contact":
		if *authority != nil {
			(*authority).Contact = strings.Join(args, " ")
		}
	}
	return err
}

// parseDirSource reads: nickname identity hostname address dirport orport
func parseDirSource(args []string) (*Authority, error) {
	if len(args) < 6 {
		return nil, fmt.Errorf("%w: dir-source has %d arguments", ErrMalformed, len(args))
	}
	id, err := ParseFingerprint(args[1])
	if err != nil {
		return nil, err
	}
	addr, err := netip.ParseAddr(args[3])
	if err != nil {
		return nil, err
	}
	dirPort, err := strconv.ParseUint(args[4], 10, 16)
	if err != nil {
		return nil, err
	}
	orPort, err := strconv.ParseUint(args[5], 10, 16)
	if err != nil {
		return nil, err
	}
	return &Authority{
		Nickname: args[0],
		Identity: id,
		Hostname: args[2],
		Address:  addr,
		DirPort:  uint16(dirPort),
		ORPort:   uint16(orPort),
	}, nil
}

// parseSignature reads "directory-signature [algorithm] identity signing-key-digest"
// followed by its SIGNATURE object.
func parseSignature(lines []string, i int, args []string) (*Signature, int, error) {
	sig := &Signature{Algorithm: "sha1"}
	switch len(args) {
	case 2:
	case 3:
		sig.Algorithm = args[0]
		args = args[1:]
	default:
		return nil, i, fmt.Errorf("%w: line %d: directory-signature has %d arguments", ErrMalformed, i+1, len(args))
	}
	id, err := ParseFingerprint(args[0])
	if err != nil {
		return nil, i, fmt.Errorf("line %d: %w", i+1, err)
	}
	sig.Identity = id
	sig.SigningKeyDigest = strings.ToUpper(args[1])
	next := i + 1
	if next < len(lines) && isObjectStart(lines[next]) {
		obj, after, err := readObject(lines, next)
		if err != nil {
			return nil, i, err
		}
		sig.body = obj.body
		next = after
	}
	return sig, next, nil
}

// EncodeSignature renders raw signature bytes as a SIGNATURE object wrapped at 64 columns.
func EncodeSignature(sig []byte) string {
	obj := object{label: "SIGNATURE", body: base64.StdEncoding.EncodeToString(sig)}
	return obj.pem()
}
