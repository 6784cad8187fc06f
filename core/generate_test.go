package core

import (
	"context"
	"testing"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerator(f Fetcher) *Generator {
	return &Generator{
		Fetcher:   f,
		Validator: NewValidator(nil),
		Selector:  &Selector{},
		Assembler: &Assembler{},
	}
}

func TestGenerate(t *testing.T) {
	relays := mock.GenerateRelays(80, 21)
	f := newFakeFetcher(t, relays)
	s := privateAuthority(t)

	out, err := newGenerator(f).Generate(context.Background(), s, GenerateParams{
		Relays:        20,
		ValidityDays:  14,
		MTBFAuthority: authorities(t)[0].Name,
	})
	require.NoError(t, err)

	assert.Len(t, out.Consensus.Relays, 20)
	assert.True(t, NewValidator(nil).Validate(out.Consensus, []*dirdoc.Certificate{s.Cert}))
	assert.Equal(t, out.ConsensusRaw, out.Consensus.Raw)

	mds := dirdoc.ParseMicrodescriptors(out.Microdescriptors)
	require.Len(t, mds, 20)
	for i, md := range mds {
		assert.Equal(t, out.Consensus.Relays[i].MicrodescDigest, md.Digest())
	}
	require.Len(t, f.mdCalls, 1)
}

func TestGenerateInvalidSource(t *testing.T) {
	a := authorities(t)
	relays := mock.GenerateRelays(30, 2)
	f := newFakeFetcher(t, relays)
	doc := &mock.Document{
		ValidAfter:  mock.ValidAfter,
		Relays:      relays,
		Authorities: a,
		Signers:     a[:2],
		Forgers:     a[2:],
	}
	f.consensus = doc.Consensus()

	_, err := newGenerator(f).Generate(context.Background(), privateAuthority(t), GenerateParams{
		Relays: 10, ValidityDays: 14, MTBFAuthority: a[0].Name,
	})
	assert.ErrorIs(t, err, ErrInvalidConsensus)
	assert.Empty(t, f.mdCalls)
}

func TestGenerateInvalidVote(t *testing.T) {
	a := authorities(t)
	relays := mock.GenerateRelays(30, 2)
	f := newFakeFetcher(t, relays)
	doc := &mock.Document{ValidAfter: mock.ValidAfter, Relays: relays, Signers: a[1:2], Forgers: a[:1]}
	f.votes[a[0].Name] = doc.Vote(a[0])

	_, err := newGenerator(f).Generate(context.Background(), privateAuthority(t), GenerateParams{
		Relays: 10, ValidityDays: 14, MTBFAuthority: a[0].Name,
	})
	assert.ErrorIs(t, err, ErrInvalidVote)
}

func TestGenerateTooManyRelays(t *testing.T) {
	a := authorities(t)
	f := newFakeFetcher(t, mock.GenerateRelays(5, 2))
	_, err := newGenerator(f).Generate(context.Background(), privateAuthority(t), GenerateParams{
		Relays: 6, ValidityDays: 14, MTBFAuthority: a[0].Name,
	})
	assert.ErrorIs(t, err, ErrSelection)
}

func TestFetchValidConsensus(t *testing.T) {
	f := newFakeFetcher(t, mock.GenerateRelays(10, 2))
	c, certs, err := FetchValidConsensus(context.Background(), f, NewValidator(nil))
	require.NoError(t, err)
	assert.Len(t, c.Relays, 10)
	assert.Len(t, certs, len(authorities(t)))
}
