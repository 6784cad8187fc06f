package dirdoc

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Certificate is a directory authority key certificate. It binds the
// medium-term signing key to the authority's identity fingerprint.
type Certificate struct {
	Fingerprint Fingerprint
	Published   time.Time
	Expires     time.Time
	SigningKey  *rsa.PublicKey
	// SigningKeyDER is the PKCS#1 encoding of SigningKey.
	SigningKeyDER []byte
	Raw           []byte
}

// SigningKeyDigest is the upper-case hex SHA-1 of the signing key, as used on
// "directory-signature" lines.
func (c *Certificate) SigningKeyDigest() string {
	sum := sha1.Sum(c.SigningKeyDER)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ExpiredAt reports whether the certificate is no longer valid at t.
func (c *Certificate) ExpiredAt(t time.Time) bool {
	return !c.Expires.After(t)
}

// ParseCertificate parses exactly one key certificate.
func ParseCertificate(raw []byte) (*Certificate, error) {
	certs, err := ParseCertificates(raw)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: expected one certificate, found %d", ErrMalformed, len(certs))
	}
	return certs[0], nil
}

// ParseCertificates parses a concatenation of key certificates.
func ParseCertificates(raw []byte) ([]*Certificate, error) {
	lines := splitLines(raw)
	var certs []*Certificate
	start := -1
	flush := func(end int) error {
		if start < 0 {
			return nil
		}
		cert, err := parseCertificate(lines[start:end])
		if err != nil {
			return err
		}
		certs = append(certs, cert)
		return nil
	}
	for i, line := range lines {
		if kw, _ := keyword(line); kw == "dir-key-certificate-version" {
			if err := flush(i); err != nil {
				return nil, err
			}
			start = i
		}
	}
	if err := flush(len(lines)); err != nil {
		return nil, err
	}
	return certs, nil
}

func parseCertificate(lines []string) (*Certificate, error) {
	c := &Certificate{Raw: []byte(strings.Join(lines, ""))}
	var hasFingerprint bool
	for i := 0; i < len(lines); i++ {
		kw, args := keyword(lines[i])
		var err error
		switch kw {
		case "fingerprint":
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: certificate fingerprint line", ErrMalformed)
			}
			c.Fingerprint, err = ParseFingerprint(args[0])
			hasFingerprint = err == nil
		case "dir-key-published":
			c.Published, err = parseTime(args)
		case "dir-key-expires":
			c.Expires, err = parseTime(args)
		case "dir-signing-key":
			if i+1 >= len(lines) || !isObjectStart(lines[i+1]) {
				return nil, fmt.Errorf("%w: dir-signing-key without key object", ErrMalformed)
			}
			var obj *object
			var next int
			obj, next, err = readObject(lines, i+1)
			if err != nil {
				return nil, err
			}
			i = next - 1
			err = c.setSigningKey(obj)
		default:
			if isObjectStart(lines[i]) {
				_, next, oerr := readObject(lines, i)
				if oerr != nil {
					return nil, oerr
				}
				i = next - 1
			}
		}
		if err != nil {
			return nil, fmt.Errorf("certificate: %w", err)
		}
	}
	if !hasFingerprint || c.SigningKey == nil || c.Expires.IsZero() {
		return nil, fmt.Errorf("%w: certificate is missing fingerprint, signing key or expiry", ErrMalformed)
	}
	return c, nil
}

func (c *Certificate) setSigningKey(obj *object) error {
	if obj.label != "RSA PUBLIC KEY" {
		return fmt.Errorf("%w: unexpected signing key object %q", ErrMalformed, obj.label)
	}
	der, err := base64.StdEncoding.DecodeString(obj.body)
	if err != nil {
		return fmt.Errorf("%w: signing key: %v", ErrMalformed, err)
	}
	key, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return fmt.Errorf("%w: signing key: %v", ErrMalformed, err)
	}
	c.SigningKey = key
	c.SigningKeyDER = der
	return nil
}
