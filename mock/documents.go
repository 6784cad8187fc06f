package mock

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/rawrsa"
)

const knownFlags = "known-flags Authority BadExit Exit Fast Guard HSDir Running Stable V2Dir Valid\n"

const footer = "directory-footer\n" +
	"bandwidth-weights Wbd=0 Wbe=0 Wbg=4273 Wbm=10000 Wdb=10000 Web=10000 Wed=10000 Wee=10000 Weg=10000 Wem=10000 Wgb=10000 Wgd=0 Wgg=5727 Wgm=5727 Wmb=10000 Wmd=0 Wme=0 Wmg=4273 Wmm=10000\n"

// Document describes a consensus or vote to render.
type Document struct {
	ValidAfter time.Time
	Relays     []*Relay
	// Authorities are listed as dir-source entries.
	Authorities []*Authority
	// Signers sign the document with their signing key.
	Signers []*Authority
	// Forgers emit a well-formed signature over the wrong digest.
	Forgers []*Authority
}

// Consensus renders and signs a microdesc-flavored consensus.
func (d *Document) Consensus() []byte {
	var sb strings.Builder
	sb.WriteString("network-status-version 3 microdesc\n")
	sb.WriteString("vote-status consensus\n")
	sb.WriteString("consensus-method 32\n")
	d.writeValidity(&sb)
	sb.WriteString("voting-delay 300 300\n")
	sb.WriteString(knownFlags)
	sb.WriteString("params CircuitPriorityHalflifeMsec=30000 bwweightscale=10000\n")
	for _, a := range d.Authorities {
		fmt.Fprintf(&sb, "dir-source %s %s %s %s %d %d\n", a.Name, a.Identity, a.Address, a.Address, a.DirPort, a.ORPort)
		fmt.Fprintf(&sb, "contact admin@%s\n", a.Name)
		sb.WriteString("vote-digest 0000000000000000000000000000000000000000\n")
	}
	for _, r := range sortedRelays(d.Relays) {
		writeRouterLine(&sb, r, false)
		fmt.Fprintf(&sb, "m %s\n", r.MD.Digest())
		writeStatus(&sb, r)
	}
	sb.WriteString(footer)
	return d.sign(sb.String(), "sha256")
}

// Vote renders and signs a vote from author, embedding its certificate.
func (d *Document) Vote(author *Authority) []byte {
	var sb strings.Builder
	sb.WriteString("network-status-version 3\n")
	sb.WriteString("vote-status vote\n")
	sb.WriteString("consensus-methods 28 29 30 31 32\n")
	sb.WriteString("published " + dirdoc.FormatTime(d.ValidAfter.Add(-5*time.Minute)) + "\n")
	d.writeValidity(&sb)
	sb.WriteString("voting-delay 300 300\n")
	sb.WriteString(knownFlags)
	sb.WriteString("flag-thresholds stable-uptime=1000000 stable-mtbf=2000000 fast-speed=100000\n")
	fmt.Fprintf(&sb, "dir-source %s %s %s %s %d %d\n", author.Name, author.Identity, author.Address, author.Address, author.DirPort, author.ORPort)
	fmt.Fprintf(&sb, "contact admin@%s\n", author.Name)
	sb.Write(author.CertRaw)
	for _, r := range sortedRelays(d.Relays) {
		writeRouterLine(&sb, r, true)
		writeStatus(&sb, r)
		fmt.Fprintf(&sb, "p %s\n", r.Policy)
		fmt.Fprintf(&sb, "m 28,29,30,31,32 sha256=%s\n", r.MD.Digest())
		if !r.NoStats {
			fmt.Fprintf(&sb, "stats wfu=0.990000 tk=1209600 mtbf=%.0f\n", r.MTBF)
		}
	}
	sb.WriteString("directory-footer\n")
	signers := d.Signers
	if len(signers) == 0 {
		signers = []*Authority{author}
	}
	doc := *d
	doc.Signers = signers
	return doc.sign(sb.String(), "sha1")
}

func (d *Document) writeValidity(sb *strings.Builder) {
	sb.WriteString("valid-after " + dirdoc.FormatTime(d.ValidAfter) + "\n")
	sb.WriteString("fresh-until " + dirdoc.FormatTime(d.ValidAfter.Add(time.Hour)) + "\n")
	sb.WriteString("valid-until " + dirdoc.FormatTime(d.ValidAfter.Add(3*time.Hour)) + "\n")
}

func writeRouterLine(sb *strings.Builder, r *Relay, withDigest bool) {
	primary := r.Addresses[0]
	digest := ""
	if withDigest {
		sum := sha256.Sum256([]byte(r.Nickname))
		digest = dirdoc.Fingerprint(sum[:20]).Identity() + " "
	}
	fmt.Fprintf(sb, "r %s %s %s2024-02-29 11:00:00 %s %d 0\n",
		r.Nickname, r.Fingerprint.Identity(), digest, primary.Addr(), primary.Port())
	for _, ap := range r.Addresses[1:] {
		fmt.Fprintf(sb, "a %s\n", ap)
	}
}

func writeStatus(sb *strings.Builder, r *Relay) {
	fmt.Fprintf(sb, "s %s\n", r.Flags)
	sb.WriteString("v Tor 0.4.8.12\n")
	sb.WriteString("pr Conflux=1 Cons=1-2 Desc=1-2 DirCache=2 FlowCtrl=1-2 HSDir=2 HSIntro=4-5 HSRend=1-2 Link=1-5 LinkAuth=1,3 Microdesc=1-2 Padding=2 Relay=1-4\n")
	fmt.Fprintf(sb, "w Bandwidth=%d\n", r.Bandwidth)
}

func sortedRelays(relays []*Relay) []*Relay {
	out := slices.Clone(relays)
	slices.SortFunc(out, func(a, b *Relay) int {
		return a.Fingerprint.Compare(b.Fingerprint)
	})
	return out
}

// sign appends one signature per signer over the digest of unsigned plus the
// first signature keyword. sha1 signatures are written without an algorithm
// field, as authorities do in votes.
func (d *Document) sign(unsigned, algorithm string) []byte {
	signed := []byte(unsigned + "directory-signature ")
	wrong := []byte("not the document")
	digest := func(b []byte) []byte {
		if algorithm == "sha1" {
			sum := sha1.Sum(b)
			return sum[:]
		}
		sum := sha256.Sum256(b)
		return sum[:]
	}
	var sb strings.Builder
	sb.WriteString(unsigned)
	write := func(a *Authority, dg []byte) {
		sig, err := rawrsa.Sign(a.SigningKey, dg)
		if err != nil {
			panic(err)
		}
		if algorithm == "sha1" {
			fmt.Fprintf(&sb, "directory-signature %s %s\n", a.Identity, a.Cert.SigningKeyDigest())
		} else {
			fmt.Fprintf(&sb, "directory-signature %s %s %s\n", algorithm, a.Identity, a.Cert.SigningKeyDigest())
		}
		sb.WriteString(dirdoc.EncodeSignature(sig))
	}
	for _, a := range d.Signers {
		write(a, digest(signed))
	}
	for _, a := range d.Forgers {
		write(a, digest(wrong))
	}
	return []byte(sb.String())
}
