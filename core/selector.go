package core

import (
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"slices"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/gaissmai/bart"
)

const (
	// GuardRatio is the share of the target count drawn from guard candidates.
	// The same number of exits is drawn.
	GuardRatio = 0.33
	// RequiredPort is the port guards must listen on and exits must allow.
	RequiredPort = 443
)

// Selector draws a small, stable subset of relays from a consensus.
type Selector struct {
	Log *slog.Logger
	// Exclude drops relays with an address inside any of its prefixes.
	Exclude *bart.Table[netip.Prefix]
}

// NewExcludeTable builds a prefix table for Selector.Exclude.
func NewExcludeTable(prefixes []netip.Prefix) *bart.Table[netip.Prefix] {
	t := new(bart.Table[netip.Prefix])
	for _, p := range prefixes {
		t.Insert(p.Masked(), p)
	}
	return t
}

type scoredRelay struct {
	entry *dirdoc.RelayEntry
	score float64
}

// Select picks n relays from consensus. vote supplies the stability
// statistic and exit policies; relays missing from it score 0 and cannot exit.
//
// Exits are drawn first, then guards, then middles, each ranked by MTBF with
// already selected relays scored 0. Relays lose the Exit and BadExit flags
// unless drawn as exits, and Guard unless drawn as guards. The result is
// sorted by fingerprint and made of clones; consensus is not modified.
func (s *Selector) Select(consensus, vote *dirdoc.Consensus, n int) ([]*dirdoc.RelayEntry, error) {
	log := orDiscard(s.Log)
	if n < 0 || n > len(consensus.Relays) {
		return nil, fmt.Errorf("%w: requested %d relays, consensus lists %d", ErrSelection, n, len(consensus.Relays))
	}

	mtbf := func(r *dirdoc.RelayEntry) float64 {
		if vote == nil {
			return 0
		}
		if v, ok := vote.Relay(r.Fingerprint); ok {
			return v.MTBF()
		}
		return 0
	}
	allowsExit := func(r *dirdoc.RelayEntry) bool {
		if vote == nil {
			return false
		}
		v, ok := vote.Relay(r.Fingerprint)
		return ok && v.Policy.Allows(RequiredPort)
	}

	var guardPool, exitPool, middlePool []*dirdoc.RelayEntry
	for _, r := range consensus.Relays {
		if s.excluded(r) {
			log.Debug("relay excluded by prefix", "relay", r.Fingerprint, "nickname", r.Nickname)
			continue
		}
		if !r.Flags.HasAll(dirdoc.FlagStable, dirdoc.FlagFast) {
			continue
		}
		middlePool = append(middlePool, r)
		if r.Flags.Has(dirdoc.FlagGuard) && r.HasORPort(RequiredPort) {
			guardPool = append(guardPool, r)
		}
		if r.Flags.Has(dirdoc.FlagExit) && !r.Flags.Has(dirdoc.FlagBadExit) && allowsExit(r) {
			exitPool = append(exitPool, r)
		}
	}

	nGuards := int(math.Ceil(GuardRatio * float64(n)))
	nExits := nGuards
	if len(exitPool) < nExits {
		log.Warn("not enough exit candidates", "want", nExits, "have", len(exitPool))
	}
	if len(guardPool) < nGuards {
		log.Warn("not enough guard candidates", "want", nGuards, "have", len(guardPool))
	}

	selected := make(map[dirdoc.Fingerprint]*dirdoc.RelayEntry)
	score := func(r *dirdoc.RelayEntry) float64 {
		if _, ok := selected[r.Fingerprint]; ok {
			return 0
		}
		return mtbf(r)
	}

	exits := topK(exitPool, nExits, score)
	for _, r := range exits {
		selected[r.Fingerprint] = r
	}
	guards := topK(guardPool, nGuards, score)
	for _, r := range guards {
		selected[r.Fingerprint] = r
	}
	nMiddles := max(n-len(selected), 0)
	if len(middlePool) < nMiddles {
		log.Warn("not enough middle candidates", "want", nMiddles, "have", len(middlePool))
	}
	for _, r := range topK(middlePool, nMiddles, score) {
		selected[r.Fingerprint] = r
	}

	isExit := fingerprintSet(exits)
	isGuard := fingerprintSet(guards)
	out := make([]*dirdoc.RelayEntry, 0, len(selected))
	for fp, r := range selected {
		c := r.Clone()
		if !isExit[fp] {
			c.Flags = c.Flags.Without(dirdoc.FlagExit, dirdoc.FlagBadExit)
		}
		if !isGuard[fp] {
			c.Flags = c.Flags.Without(dirdoc.FlagGuard)
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *dirdoc.RelayEntry) int {
		return a.Fingerprint.Compare(b.Fingerprint)
	})
	log.Info("selected relays", "total", len(out), "exits", len(exits), "guards", len(guards))
	return out, nil
}

func (s *Selector) excluded(r *dirdoc.RelayEntry) bool {
	if s.Exclude == nil {
		return false
	}
	for _, ap := range r.Addresses {
		if _, ok := s.Exclude.Lookup(ap.Addr()); ok {
			return true
		}
	}
	return false
}

// topK returns the k highest scoring relays. Ties keep pool order.
func topK(pool []*dirdoc.RelayEntry, k int, score func(*dirdoc.RelayEntry) float64) []*dirdoc.RelayEntry {
	if k <= 0 {
		return nil
	}
	ranked := make([]scoredRelay, len(pool))
	for i, r := range pool {
		ranked[i] = scoredRelay{entry: r, score: score(r)}
	}
	slices.SortStableFunc(ranked, func(a, b scoredRelay) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	k = min(k, len(ranked))
	out := make([]*dirdoc.RelayEntry, k)
	for i := range k {
		out[i] = ranked[i].entry
	}
	return out
}

func fingerprintSet(relays []*dirdoc.RelayEntry) map[dirdoc.Fingerprint]bool {
	set := make(map[dirdoc.Fingerprint]bool, len(relays))
	for _, r := range relays {
		set[r.Fingerprint] = true
	}
	return set
}
