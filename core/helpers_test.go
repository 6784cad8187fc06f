package core

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/mock"
	"github.com/stretchr/testify/require"
)

var (
	authOnce    sync.Once
	sharedAuths []*mock.Authority
	authErr     error
)

// authorities returns four authorities shared by the tests of this package;
// key generation dominates test time otherwise.
func authorities(t *testing.T) []*mock.Authority {
	t.Helper()
	authOnce.Do(func() {
		sharedAuths, authErr = mock.NewAuthorities(4)
	})
	require.NoError(t, authErr)
	return sharedAuths
}

func parse(t *testing.T, raw []byte) *dirdoc.Consensus {
	t.Helper()
	c, err := dirdoc.ParseConsensus(raw)
	require.NoError(t, err)
	return c
}

// network renders relays into a consensus signed by every authority and a
// vote from the first one.
func network(t *testing.T, relays []*mock.Relay) (*dirdoc.Consensus, *dirdoc.Consensus) {
	t.Helper()
	auths := authorities(t)
	doc := &mock.Document{
		ValidAfter:  mock.ValidAfter,
		Relays:      relays,
		Authorities: auths,
		Signers:     auths,
	}
	return parse(t, doc.Consensus()), parse(t, doc.Vote(auths[0]))
}

var relayCount atomic.Uint32

func relay(nick string, port uint16, mtbf float64, flags ...dirdoc.Flag) *mock.Relay {
	n := relayCount.Add(1)
	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 1, byte(n >> 8), byte(n)}), port)
	r := mock.NewRelay(nick, addr.String(), flags...)
	r.MTBF = mtbf
	return r
}

var stableFast = []dirdoc.Flag{dirdoc.FlagFast, dirdoc.FlagRunning, dirdoc.FlagStable, dirdoc.FlagValid}

func with(flags ...dirdoc.Flag) []dirdoc.Flag {
	return append(append([]dirdoc.Flag{}, stableFast...), flags...)
}

// fakeFetcher serves documents rendered from a mock network.
type fakeFetcher struct {
	consensus []byte
	votes     map[string][]byte
	certs     []*mock.Authority
	relays    []*mock.Relay
	mdCalls   [][]string
}

func newFakeFetcher(t *testing.T, relays []*mock.Relay) *fakeFetcher {
	auths := authorities(t)
	doc := &mock.Document{
		ValidAfter:  mock.ValidAfter,
		Relays:      relays,
		Authorities: auths,
		Signers:     auths,
	}
	return &fakeFetcher{
		consensus: doc.Consensus(),
		votes:     map[string][]byte{auths[0].Name: doc.Vote(auths[0])},
		certs:     auths,
		relays:    relays,
	}
}

func (f *fakeFetcher) FetchConsensus(ctx context.Context) (*dirdoc.Consensus, error) {
	return dirdoc.ParseConsensus(f.consensus)
}

func (f *fakeFetcher) FetchCertificates(ctx context.Context, ids []dirdoc.Fingerprint) ([]*dirdoc.Certificate, error) {
	var certs []*dirdoc.Certificate
	for _, a := range f.certs {
		for _, id := range ids {
			if a.Identity == id {
				certs = append(certs, a.Cert)
			}
		}
	}
	return certs, nil
}

func (f *fakeFetcher) FetchVote(ctx context.Context, authority string) (*dirdoc.Consensus, error) {
	raw, ok := f.votes[authority]
	if !ok {
		return nil, fmt.Errorf("no vote from %s", authority)
	}
	return dirdoc.ParseConsensus(raw)
}

func (f *fakeFetcher) FetchMicrodescriptors(ctx context.Context, digests []string) ([]*dirdoc.Microdescriptor, error) {
	f.mdCalls = append(f.mdCalls, digests)
	byDigest := make(map[string]*dirdoc.Microdescriptor)
	for _, r := range f.relays {
		byDigest[r.MD.Digest()] = r.MD
	}
	mds := make([]*dirdoc.Microdescriptor, 0, len(digests))
	for _, d := range digests {
		md, ok := byDigest[d]
		if !ok {
			return nil, fmt.Errorf("unknown microdescriptor %s", d)
		}
		mds = append(mds, md)
	}
	return mds, nil
}
