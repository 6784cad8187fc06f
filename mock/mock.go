// Package mock builds small synthetic Tor networks: authorities with real RSA
// signing keys and certificates, relays, microdescriptors, and signed
// consensus and vote documents that parse with package dirdoc.
package mock

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	mrand "math/rand/v2"
	"net/netip"
	"strings"
	"time"

	"github.com/encodeous/dirgen/dirdoc"
)

// KeyBits is small to keep tests fast; the scheme does not depend on the size.
const KeyBits = 1024

var ValidAfter = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type Authority struct {
	Name       string
	Identity   dirdoc.Fingerprint
	Address    netip.Addr
	DirPort    uint16
	ORPort     uint16
	SigningKey *rsa.PrivateKey
	CertRaw    []byte
	Cert       *dirdoc.Certificate
}

// NewAuthority creates an authority with a fresh signing key and a certificate
// expiring at expires.
func NewAuthority(name string, idx int, expires time.Time) (*Authority, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, err
	}
	a := &Authority{
		Name:       name,
		Identity:   sha1.Sum([]byte("authority:" + name)),
		Address:    netip.AddrFrom4([4]byte{10, 0, 0, byte(idx + 1)}),
		DirPort:    80,
		ORPort:     443,
		SigningKey: key,
	}
	a.CertRaw = CertificateText(a.Identity, &key.PublicKey, expires.Add(-365*24*time.Hour), expires)
	a.Cert, err = dirdoc.ParseCertificate(a.CertRaw)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewAuthorities creates n authorities named auth0..authN-1.
func NewAuthorities(n int) ([]*Authority, error) {
	auths := make([]*Authority, n)
	for i := range n {
		a, err := NewAuthority(fmt.Sprintf("auth%d", i), i, ValidAfter.AddDate(1, 0, 0))
		if err != nil {
			return nil, err
		}
		auths[i] = a
	}
	return auths, nil
}

func Certificates(auths []*Authority) []*dirdoc.Certificate {
	certs := make([]*dirdoc.Certificate, len(auths))
	for i, a := range auths {
		certs[i] = a.Cert
	}
	return certs
}

func pemObject(label string, der []byte) string {
	b64 := base64.StdEncoding.EncodeToString(der)
	var sb strings.Builder
	sb.WriteString("-----BEGIN " + label + "-----\n")
	for len(b64) > 64 {
		sb.WriteString(b64[:64] + "\n")
		b64 = b64[64:]
	}
	sb.WriteString(b64 + "\n")
	sb.WriteString("-----END " + label + "-----\n")
	return sb.String()
}

// CertificateText renders a key certificate. The identity key and the
// certification are placeholders: only the signing key is ever verified.
func CertificateText(identity dirdoc.Fingerprint, signing *rsa.PublicKey, published, expires time.Time) []byte {
	der := x509.MarshalPKCS1PublicKey(signing)
	var sb strings.Builder
	sb.WriteString("dir-key-certificate-version 3\n")
	sb.WriteString("fingerprint " + identity.String() + "\n")
	sb.WriteString("dir-key-published " + dirdoc.FormatTime(published) + "\n")
	sb.WriteString("dir-key-expires " + dirdoc.FormatTime(expires) + "\n")
	sb.WriteString("dir-identity-key\n")
	sb.WriteString(pemObject("RSA PUBLIC KEY", der))
	sb.WriteString("dir-signing-key\n")
	sb.WriteString(pemObject("RSA PUBLIC KEY", der))
	sb.WriteString("dir-key-crosscert\n")
	sb.WriteString(pemObject("ID SIGNATURE", make([]byte, 128)))
	sb.WriteString("dir-key-certification\n")
	sb.WriteString(pemObject("SIGNATURE", make([]byte, 128)))
	return []byte(sb.String())
}

type Relay struct {
	Nickname    string
	Fingerprint dirdoc.Fingerprint
	Addresses   []netip.AddrPort
	Flags       dirdoc.Flags
	Bandwidth   uint64
	MTBF        float64
	// Policy is the vote exit policy summary, e.g. "accept 80,443".
	Policy string
	// NoStats omits the "stats" line from votes.
	NoStats bool
	MD      *dirdoc.Microdescriptor
}

// NewRelay creates a relay whose fingerprint is derived from its nickname.
func NewRelay(nickname string, addr string, flags ...dirdoc.Flag) *Relay {
	r := &Relay{
		Nickname:    nickname,
		Fingerprint: sha1.Sum([]byte("relay:" + nickname)),
		Addresses:   []netip.AddrPort{netip.MustParseAddrPort(addr)},
		Flags:       dirdoc.ParseFlags(flagStrings(flags)),
		Bandwidth:   1000,
		Policy:      "reject 1-65535",
	}
	if r.Flags.Has(dirdoc.FlagExit) {
		r.Policy = "accept 80,443"
	}
	r.MD = Microdescriptor(r)
	return r
}

func flagStrings(flags []dirdoc.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

// Microdescriptor renders a microdescriptor for r with a key derived from its fingerprint.
func Microdescriptor(r *Relay) *dirdoc.Microdescriptor {
	ntor := sha256.Sum256(r.Fingerprint[:])
	ed := sha256.Sum256(ntor[:])
	text := "onion-key\n" + pemObject("RSA PUBLIC KEY", r.Fingerprint[:]) +
		"ntor-onion-key " + base64.RawStdEncoding.EncodeToString(ntor[:]) + "\n" +
		"id ed25519 " + base64.RawStdEncoding.EncodeToString(ed[:]) + "\n"
	return &dirdoc.Microdescriptor{Raw: []byte(text)}
}

// GenerateRelays creates n relays with a deterministic mix of flags, ports,
// stability and exit policies.
func GenerateRelays(n int, seed uint64) []*Relay {
	rng := mrand.New(mrand.NewPCG(seed, seed^0x5eed))
	relays := make([]*Relay, 0, n)
	for i := range n {
		flags := []dirdoc.Flag{dirdoc.FlagRunning, dirdoc.FlagValid}
		if rng.IntN(10) < 9 {
			flags = append(flags, dirdoc.FlagFast)
		}
		if rng.IntN(10) < 7 {
			flags = append(flags, dirdoc.FlagStable)
		}
		if rng.IntN(100) < 40 {
			flags = append(flags, dirdoc.FlagGuard)
		}
		exit := rng.IntN(100) < 30
		if exit {
			flags = append(flags, dirdoc.FlagExit)
			if rng.IntN(100) < 5 {
				flags = append(flags, dirdoc.FlagBadExit)
			}
		}
		port := uint16(9001)
		if rng.IntN(2) == 0 {
			port = 443
		}
		addr := netip.AddrFrom4([4]byte{100, byte(i >> 8), byte(i), 1})
		r := NewRelay(fmt.Sprintf("relay%d", i), netip.AddrPortFrom(addr, port).String(), sortFlags(flags)...)
		if rng.IntN(4) == 0 {
			v6 := netip.AddrFrom16([16]byte{0x20, 0x01, 0x0d, 0xb8, 14: byte(i >> 8), 15: byte(i)})
			r.Addresses = append(r.Addresses, netip.AddrPortFrom(v6, port))
		}
		r.Bandwidth = uint64(rng.IntN(100000) + 1)
		r.MTBF = float64(rng.IntN(10_000_000))
		if exit && rng.IntN(5) == 0 {
			r.Policy = "accept 80"
		}
		relays = append(relays, r)
	}
	return relays
}

// sortFlags orders flags the way authorities publish them.
func sortFlags(flags []dirdoc.Flag) []dirdoc.Flag {
	order := []dirdoc.Flag{
		dirdoc.FlagAuthority, dirdoc.FlagBadExit, dirdoc.FlagExit, dirdoc.FlagFast, dirdoc.FlagGuard,
		dirdoc.FlagHSDir, dirdoc.FlagRunning, dirdoc.FlagStable, dirdoc.FlagV2Dir, dirdoc.FlagValid,
	}
	out := make([]dirdoc.Flag, 0, len(flags))
	for _, f := range order {
		if dirdoc.Flags(flags).Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func Microdescriptors(relays []*Relay) []*dirdoc.Microdescriptor {
	mds := make([]*dirdoc.Microdescriptor, len(relays))
	for i, r := range relays {
		mds[i] = r.MD
	}
	return mds
}
