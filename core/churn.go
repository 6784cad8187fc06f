package core

import (
	"fmt"
	"slices"
	"strings"

	"github.com/encodeous/dirgen/dirdoc"
)

// ChurnDivisor bounds churn: more than total/ChurnDivisor churned relays is too many.
const ChurnDivisor = 6

// Diff lists, in synth order, the relays of synth that a client can no longer
// use according to fresh: relays that disappeared, that no longer listen on
// any of their old addresses, or that lost their ability to exit.
func Diff(synth, fresh *dirdoc.Consensus) []dirdoc.Fingerprint {
	var churned []dirdoc.Fingerprint
	for _, old := range synth.Relays {
		cur, ok := fresh.Relay(old.Fingerprint)
		if !ok || moved(old, cur) || lostExit(old, cur) {
			churned = append(churned, old.Fingerprint)
		}
	}
	return churned
}

// moved compares whole (address, port) pairs: the same address on a new
// port is a move, as is the old port on a new address.
func moved(old, cur *dirdoc.RelayEntry) bool {
	for _, ap := range old.Addresses {
		if slices.Contains(cur.Addresses, ap) {
			return false
		}
	}
	return true
}

func lostExit(old, cur *dirdoc.RelayEntry) bool {
	if !old.Flags.Has(dirdoc.FlagExit) {
		return false
	}
	return !cur.Flags.Has(dirdoc.FlagExit) || cur.Flags.Has(dirdoc.FlagBadExit)
}

// ValidateChurnThreshold returns ErrChurnAboveThreshold when churned exceeds
// total/ChurnDivisor, rounded down.
func ValidateChurnThreshold(total, churned int) error {
	limit := total / ChurnDivisor
	if churned > limit {
		return fmt.Errorf("%w: %d of %d relays churned, limit is %d", ErrChurnAboveThreshold, churned, total, limit)
	}
	return nil
}

// ChurnReport renders one fingerprint per line. No churn gives an empty report.
func ChurnReport(fps []dirdoc.Fingerprint) []byte {
	var sb strings.Builder
	for _, fp := range fps {
		sb.WriteString(fp.String())
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// ParseChurnReport reads a report written by ChurnReport.
func ParseChurnReport(raw []byte) ([]dirdoc.Fingerprint, error) {
	var fps []dirdoc.Fingerprint
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fp, err := dirdoc.ParseFingerprint(line)
		if err != nil {
			return nil, fmt.Errorf("churn report: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, nil
}
