// Package rawrsa implements the raw RSA signature scheme used by Tor directory
// authorities.
//
// Authorities sign the digest with a PKCS#1 v1.5 type 1 padding but without the
// DigestInfo prefix, so crypto/rsa cannot verify or produce these signatures:
//
//	0x00 0x01 0xFF ... 0xFF 0x00 <digest>
//
// The message is exponentiated directly with the key, with no blinding or
// randomness, which keeps signatures deterministic.
package rawrsa

import (
	"bytes"
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrMessageTooLong = errors.New("rawrsa: digest too long for key size")
	ErrOutOfRange     = errors.New("rawrsa: value out of range for modulus")
)

// Codec signs and verifies digests. Legacy is the scheme used by Tor.
type Codec interface {
	Sign(priv *rsa.PrivateKey, digest []byte) ([]byte, error)
	Verify(pub *rsa.PublicKey, digest, sig []byte) bool
}

// Legacy is the Codec for Tor's raw padding scheme.
type Legacy struct{}

func (Legacy) Sign(priv *rsa.PrivateKey, digest []byte) ([]byte, error) {
	return Sign(priv, digest)
}

func (Legacy) Verify(pub *rsa.PublicKey, digest, sig []byte) bool {
	return Verify(pub, digest, sig)
}

// Pad builds the k byte padded block for digest.
func Pad(digest []byte, k int) ([]byte, error) {
	ffLen := k - len(digest) - 3
	if ffLen < 1 {
		return nil, ErrMessageTooLong
	}
	em := make([]byte, k)
	em[0] = 0x00
	em[1] = 0x01
	for i := 2; i < 2+ffLen; i++ {
		em[i] = 0xff
	}
	em[2+ffLen] = 0x00
	copy(em[3+ffLen:], digest)
	return em, nil
}

// Sign pads digest and applies the private exponent.
func Sign(priv *rsa.PrivateKey, digest []byte) ([]byte, error) {
	k := priv.Size()
	em, err := Pad(digest, k)
	if err != nil {
		return nil, err
	}
	m := new(big.Int).SetBytes(em)
	if m.Cmp(priv.N) >= 0 {
		return nil, ErrOutOfRange
	}
	s := new(big.Int).Exp(m, priv.D, priv.N)
	return s.FillBytes(make([]byte, k)), nil
}

// Recover applies the public exponent to sig and returns the k byte block.
func Recover(pub *rsa.PublicKey, sig []byte) ([]byte, error) {
	k := pub.Size()
	if len(sig) > k {
		return nil, fmt.Errorf("%w: signature is %d bytes, modulus %d", ErrOutOfRange, len(sig), k)
	}
	s := new(big.Int).SetBytes(sig)
	if s.Cmp(pub.N) >= 0 {
		return nil, ErrOutOfRange
	}
	m := new(big.Int).Exp(s, big.NewInt(int64(pub.E)), pub.N)
	return m.FillBytes(make([]byte, k)), nil
}

// Verify reports whether sig recovers to the padded form of digest under pub.
// Any malformed input is reported as a failed verification.
func Verify(pub *rsa.PublicKey, digest, sig []byte) bool {
	if pub == nil || pub.N == nil {
		return false
	}
	em, err := Recover(pub, sig)
	if err != nil {
		return false
	}
	recovered, ok := unpad(em)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(recovered, digest) == 1
}

// unpad matches 0x00 0x01 0xFF+ 0x00 and returns what follows.
func unpad(em []byte) ([]byte, bool) {
	if len(em) < 4 || em[0] != 0x00 || em[1] != 0x01 {
		return nil, false
	}
	rest := em[2:]
	ffLen := len(rest) - len(bytes.TrimLeft(rest, "\xff"))
	if ffLen == 0 || ffLen >= len(rest) || rest[ffLen] != 0x00 {
		return nil, false
	}
	return rest[ffLen+1:], true
}
