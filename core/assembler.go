package core

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"net/netip"
	"time"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/perf"
	"github.com/encodeous/dirgen/rawrsa"
)

// DefaultBandwidthWeights is the fixed "bandwidth-weights" line argument.
const DefaultBandwidthWeights = "Wbd=0 Wbe=0 Wbg=4273 Wbm=10000 Wdb=10000 Web=10000 Wed=10000 Wee=10000 Weg=10000 Wem=10000 Wgb=10000 Wgd=0 Wgg=5727 Wgm=5727 Wmb=10000 Wmd=0 Wme=0 Wmg=4273 Wmm=10000"

const consensusHeader = `network-status-version 3 microdesc
vote-status consensus
consensus-method 30
valid-after %s
fresh-until %s
valid-until %s
voting-delay 300 300
client-versions 0.3.5.10,0.3.5.11,0.3.5.12,0.3.5.13,0.3.5.14,0.3.5.15,0.4.4.1-alpha,0.4.4.2-alpha,0.4.4.3-alpha,0.4.4.4-rc,0.4.4.5,0.4.4.6,0.4.4.7,0.4.4.8,0.4.4.9,0.4.5.1-alpha,0.4.5.2-alpha,0.4.5.3-rc,0.4.5.4-rc,0.4.5.5-rc,0.4.5.6,0.4.5.7,0.4.5.8,0.4.5.9,0.4.6.1-alpha,0.4.6.2-alpha,0.4.6.3-rc,0.4.6.4-rc,0.4.6.5
server-versions 0.3.5.10,0.3.5.11,0.3.5.12,0.3.5.13,0.3.5.14,0.3.5.15,0.4.4.1-alpha,0.4.4.2-alpha,0.4.4.3-alpha,0.4.4.4-rc,0.4.4.5,0.4.4.6,0.4.4.7,0.4.4.8,0.4.4.9,0.4.5.1-alpha,0.4.5.2-alpha,0.4.5.3-rc,0.4.5.4-rc,0.4.5.5-rc,0.4.5.6,0.4.5.7,0.4.5.8,0.4.5.9,0.4.6.1-alpha,0.4.6.2-alpha,0.4.6.3-rc,0.4.6.4-rc,0.4.6.5
known-flags Authority BadExit Exit Fast Guard HSDir NoEdConsensus Running Stable StaleDesc Sybil V2Dir Valid
recommended-client-protocols Cons=2 Desc=2 DirCache=2 HSDir=2 HSIntro=4 HSRend=2 Link=4-5 Microdesc=2 Relay=2
recommended-relay-protocols Cons=2 Desc=2 DirCache=2 HSDir=2 HSIntro=4 HSRend=2 Link=4-5 LinkAuth=3 Microdesc=2 Relay=2
required-client-protocols Cons=2 Desc=2 Link=4 Microdesc=2 Relay=2
required-relay-protocols Cons=2 Desc=2 DirCache=2 HSDir=2 HSIntro=4 HSRend=2 Link=4-5 LinkAuth=3 Microdesc=2 Relay=2
params CircuitPriorityHalflifeMsec=30000 DoSCircuitCreationEnabled=1 DoSConnectionEnabled=1 DoSConnectionMaxConcurrentCount=50 DoSRefuseSingleHopClientRendezvous=1 ExtendByEd25519ID=1 KISTSchedRunInterval=2 NumDirectoryGuards=3 NumEntryGuards=1 NumNTorsPerTAP=100 UseOptimisticData=1 bwauthpid=1 cbttestfreq=10 hs_service_max_rdv_failures=1 hsdir_spread_store=4 pb_disablepct=0 sendme_emit_min_version=1 usecreatefast=0
shared-rand-previous-value 1 AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=
shared-rand-current-value 1 AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=
`

const authorityBlock = `dir-source %s %s %s %s %d %d
contact %s
vote-digest 0000000000000000000000000000000000000000
`

// AuthorityInfo describes the private authority that signs generated documents.
type AuthorityInfo struct {
	Name     string
	Hostname string
	Address  netip.Addr
	DirPort  uint16
	ORPort   uint16
	Contact  string
}

// Assembler renders and signs consensus documents.
type Assembler struct {
	Codec rawrsa.Codec
	// BandwidthWeights replaces DefaultBandwidthWeights when set.
	BandwidthWeights string
}

// Assemble builds a consensus listing relays, in the given order, signed by
// key. The validity window starts at the original consensus' valid-after and
// spans validityDays until fresh-until, then validityDays more until valid-until.
func (a *Assembler) Assemble(original *dirdoc.Consensus, relays []*dirdoc.RelayEntry, auth AuthorityInfo,
	key *rsa.PrivateKey, cert *dirdoc.Certificate, validityDays int) ([]byte, error) {
	if validityDays <= 0 {
		return nil, fmt.Errorf("validity must be at least one day, got %d", validityDays)
	}
	codec := a.Codec
	if codec == nil {
		codec = rawrsa.Legacy{}
	}
	weights := a.BandwidthWeights
	if weights == "" {
		weights = DefaultBandwidthWeights
	}

	validAfter := original.ValidAfter
	freshUntil := validAfter.Add(time.Duration(validityDays) * 24 * time.Hour)
	validUntil := freshUntil.Add(time.Duration(validityDays) * 24 * time.Hour)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, consensusHeader,
		dirdoc.FormatTime(validAfter), dirdoc.FormatTime(freshUntil), dirdoc.FormatTime(validUntil))
	fmt.Fprintf(&buf, authorityBlock,
		auth.Name, cert.Fingerprint, auth.Hostname, auth.Address, auth.DirPort, auth.ORPort, auth.Contact)
	for _, r := range relays {
		buf.Write(r.Bytes())
	}
	buf.WriteString("directory-footer\n")
	buf.WriteString("bandwidth-weights " + weights + "\n")
	buf.WriteString("directory-signature ")

	digest := sha256.Sum256(buf.Bytes())
	start := time.Now()
	sig, err := codec.Sign(key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing consensus: %w", err)
	}
	perf.SignLatency.Add(float64(time.Since(start).Microseconds()))
	fmt.Fprintf(&buf, "sha256 %s %s\n", cert.Fingerprint, cert.SigningKeyDigest())
	buf.WriteString(dirdoc.EncodeSignature(sig))
	return buf.Bytes(), nil
}
