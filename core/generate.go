package core

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"github.com/encodeous/dirgen/dirdoc"
)

// Fetcher retrieves documents from the public Tor directory.
type Fetcher interface {
	FetchConsensus(ctx context.Context) (*dirdoc.Consensus, error)
	FetchCertificates(ctx context.Context, identities []dirdoc.Fingerprint) ([]*dirdoc.Certificate, error)
	FetchVote(ctx context.Context, authority string) (*dirdoc.Consensus, error)
	FetchMicrodescriptors(ctx context.Context, digests []string) ([]*dirdoc.Microdescriptor, error)
}

// Signer is the private authority's signing material.
type Signer struct {
	Info AuthorityInfo
	Key  *rsa.PrivateKey
	Cert *dirdoc.Certificate
}

type GenerateParams struct {
	Relays       int
	ValidityDays int
	// MTBFAuthority is the authority whose vote ranks relay stability.
	MTBFAuthority string
}

// Generated holds the outputs of a generation run.
type Generated struct {
	Source           *dirdoc.Consensus
	Consensus        *dirdoc.Consensus
	ConsensusRaw     []byte
	Microdescriptors []byte
}

// Generator runs the full pipeline: fetch and validate the live consensus,
// select relays, assemble and sign, then check the result.
type Generator struct {
	Fetcher   Fetcher
	Validator *Validator
	Selector  *Selector
	Assembler *Assembler
	Log       *slog.Logger
}

// FetchValidConsensus fetches the current consensus and the certificates of
// its authorities and fails with ErrInvalidConsensus unless it validates.
func FetchValidConsensus(ctx context.Context, f Fetcher, v *Validator) (*dirdoc.Consensus, []*dirdoc.Certificate, error) {
	c, err := f.FetchConsensus(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching consensus: %w", err)
	}
	certs, err := f.FetchCertificates(ctx, c.AuthorityIdentities())
	if err != nil {
		return nil, nil, fmt.Errorf("fetching certificates: %w", err)
	}
	if err := v.RequireValid(c, certs); err != nil {
		return nil, nil, err
	}
	return c, certs, nil
}

func (g *Generator) Generate(ctx context.Context, signer Signer, p GenerateParams) (*Generated, error) {
	log := orDiscard(g.Log)

	source, certs, err := FetchValidConsensus(ctx, g.Fetcher, g.Validator)
	if err != nil {
		return nil, err
	}
	log.Info("fetched consensus", "valid-after", dirdoc.FormatTime(source.ValidAfter), "relays", len(source.Relays))

	vote, err := g.Fetcher.FetchVote(ctx, p.MTBFAuthority)
	if err != nil {
		return nil, fmt.Errorf("fetching vote from %s: %w", p.MTBFAuthority, err)
	}
	if err := g.Validator.RequireValid(vote, certs); err != nil {
		return nil, fmt.Errorf("vote from %s: %w", p.MTBFAuthority, err)
	}
	log.Debug("fetched vote", "authority", p.MTBFAuthority, "relays", len(vote.Relays))

	relays, err := g.Selector.Select(source, vote, p.Relays)
	if err != nil {
		return nil, err
	}

	raw, err := g.Assembler.Assemble(source, relays, signer.Info, signer.Key, signer.Cert, p.ValidityDays)
	if err != nil {
		return nil, err
	}
	out, err := dirdoc.ParseConsensus(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: generated document does not parse: %v", ErrInvalidConsensus, err)
	}
	if err := g.Validator.RequireValid(out, []*dirdoc.Certificate{signer.Cert}); err != nil {
		return nil, fmt.Errorf("generated consensus: %w", err)
	}

	digests := make([]string, len(relays))
	for i, r := range relays {
		digests[i] = r.MicrodescDigest
	}
	mds, err := g.Fetcher.FetchMicrodescriptors(ctx, digests)
	if err != nil {
		return nil, fmt.Errorf("fetching microdescriptors: %w", err)
	}
	log.Info("generated consensus", "relays", len(out.Relays), "valid-until", dirdoc.FormatTime(out.ValidUntil))

	return &Generated{
		Source:           source,
		Consensus:        out,
		ConsensusRaw:     raw,
		Microdescriptors: dirdoc.BundleMicrodescriptors(mds),
	}, nil
}

// CheckChurn compares a stored synthesized consensus with fresh. The churned
// fingerprints are returned even when the threshold error is.
func CheckChurn(synth, fresh *dirdoc.Consensus, log *slog.Logger) ([]dirdoc.Fingerprint, error) {
	log = orDiscard(log)
	churned := Diff(synth, fresh)
	log.Info("churn", "churned", len(churned), "total", len(synth.Relays))
	err := ValidateChurnThreshold(len(synth.Relays), len(churned))
	if err != nil {
		log.Warn("churn above threshold", "churned", len(churned), "total", len(synth.Relays))
	}
	return churned, err
}
