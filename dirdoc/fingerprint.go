package dirdoc

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const FingerprintSize = 20

// Fingerprint is the SHA-1 digest of a relay or authority identity key.
type Fingerprint [FingerprintSize]byte

func (f Fingerprint) String() string {
	return strings.ToUpper(hex.EncodeToString(f[:]))
}

// Compare orders fingerprints by their numeric big-endian value.
func (f Fingerprint) Compare(o Fingerprint) int {
	return bytes.Compare(f[:], o[:])
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(text []byte) error {
	fp, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = fp
	return nil
}

// ParseFingerprint parses 40 hex characters, optionally prefixed by '$'.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if len(s) != 2*FingerprintSize {
		return fp, fmt.Errorf("invalid fingerprint %q: expected %d hex characters", s, 2*FingerprintSize)
	}
	_, err := hex.Decode(fp[:], []byte(s))
	if err != nil {
		return fp, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	return fp, nil
}

func MustParseFingerprint(s string) Fingerprint {
	fp, err := ParseFingerprint(s)
	if err != nil {
		panic(err)
	}
	return fp
}

// fingerprintFromIdentity decodes the unpadded base64 identity of an "r" line.
func fingerprintFromIdentity(s string) (Fingerprint, error) {
	var fp Fingerprint
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return fp, fmt.Errorf("invalid relay identity %q: %w", s, err)
	}
	if len(raw) != FingerprintSize {
		return fp, fmt.Errorf("invalid relay identity %q: decoded to %d bytes", s, len(raw))
	}
	copy(fp[:], raw)
	return fp, nil
}

// Identity returns the unpadded base64 form used on "r" lines.
func (f Fingerprint) Identity() string {
	return base64.RawStdEncoding.EncodeToString(f[:])
}
