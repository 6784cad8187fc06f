package dirdoc

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Microdescriptor is a compact relay descriptor, referenced from a
// microdesc consensus by the base64 SHA-256 digest of its bytes.
type Microdescriptor struct {
	Raw []byte
}

func (m *Microdescriptor) Digest() string {
	sum := sha256.Sum256(m.Raw)
	return base64.RawStdEncoding.EncodeToString(sum[:])
}

// ParseMicrodescriptors splits a concatenation of microdescriptors. A new
// descriptor starts at an "onion-key" line, or at an "ntor-onion-key" line
// when the current one already has its ntor key.
func ParseMicrodescriptors(raw []byte) []*Microdescriptor {
	var mds []*Microdescriptor
	var cur []string
	hasNtor := false
	flush := func() {
		if len(cur) > 0 {
			mds = append(mds, &Microdescriptor{Raw: []byte(strings.Join(cur, ""))})
		}
		cur = nil
		hasNtor = false
	}
	for _, line := range splitLines(raw) {
		kw, _ := keyword(line)
		switch {
		case kw == "onion-key":
			flush()
		case kw == "ntor-onion-key" && hasNtor:
			flush()
		}
		if kw == "ntor-onion-key" {
			hasNtor = true
		}
		cur = append(cur, line)
	}
	flush()
	return mds
}

// BundleMicrodescriptors concatenates microdescriptors verbatim.
func BundleMicrodescriptors(mds []*Microdescriptor) []byte {
	var buf bytes.Buffer
	for _, m := range mds {
		buf.Write(m.Raw)
	}
	return buf.Bytes()
}
