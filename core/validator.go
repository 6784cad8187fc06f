package core

import (
	"fmt"
	"log/slog"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/rawrsa"
)

// Validator decides whether a consensus or vote is trusted under a set of
// authority certificates.
type Validator struct {
	Codec rawrsa.Codec
	Log   *slog.Logger
}

func NewValidator(log *slog.Logger) *Validator {
	return &Validator{Codec: rawrsa.Legacy{}, Log: log}
}

// Validate reports whether strictly more than half of the signatures on doc
// verify under certs. For each certificate only the first signature by its
// identity is considered; certificates with no signature are skipped.
func (v *Validator) Validate(doc *dirdoc.Consensus, certs []*dirdoc.Certificate) bool {
	log := orDiscard(v.Log)
	codec := v.Codec
	if codec == nil {
		codec = rawrsa.Legacy{}
	}
	if len(doc.Signatures) == 0 {
		log.Debug("document carries no signatures")
		return false
	}
	valid := 0
	for _, cert := range certs {
		sig, ok := doc.SignatureFor(cert.Fingerprint)
		if !ok {
			log.Debug("no signature for certificate", "identity", cert.Fingerprint)
			continue
		}
		digest, ok := doc.SignedDigestFor(sig.Algorithm)
		if !ok {
			log.Debug("unsupported signature algorithm", "identity", cert.Fingerprint, "algorithm", sig.Algorithm)
			continue
		}
		raw, err := sig.Decode()
		if err != nil {
			log.Debug("skipping undecodable signature", "identity", cert.Fingerprint, "error", err)
			continue
		}
		if codec.Verify(cert.SigningKey, digest, raw) {
			valid++
		} else {
			log.Debug("signature does not verify", "identity", cert.Fingerprint, "algorithm", sig.Algorithm)
		}
	}
	log.Debug("signature check", "valid", valid, "signatures", len(doc.Signatures))
	return valid*2 > len(doc.Signatures)
}

// RequireValid is Validate as an error: ErrInvalidVote for votes and
// ErrInvalidConsensus otherwise.
func (v *Validator) RequireValid(doc *dirdoc.Consensus, certs []*dirdoc.Certificate) error {
	if v.Validate(doc, certs) {
		return nil
	}
	sentinel := ErrInvalidConsensus
	if doc.IsVote() {
		sentinel = ErrInvalidVote
	}
	return fmt.Errorf("%w: not enough valid signatures (%d offered, %d certificates)",
		sentinel, len(doc.Signatures), len(certs))
}
