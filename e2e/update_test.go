//go:build e2e

package e2e

import (
	"net/netip"
	"path/filepath"
	"strings"
	"testing"

	"github.com/encodeous/dirgen/certgen"
	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/mock"
	"github.com/encodeous/dirgen/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateBuildsDirectoryStructure(t *testing.T) {
	h := NewHarness(t)
	_, _, err := h.Run("update")
	require.NoError(t, err)

	a := h.Cfg.Authority
	assert.Equal(t, "C4DT "+h.Identity.String(), h.ReadFile(a.AuthorityIdentityPath()))
	assert.Equal(t, Password, h.ReadFile(filepath.Join(h.Dir, "gencert", "passphrase")))

	cons, err := dirdoc.ParseConsensus([]byte(h.ReadFile(filepath.Join(h.Today(), state.ConsensusFile))))
	require.NoError(t, err)
	assert.Len(t, cons.Relays, 12)
	mds := dirdoc.ParseMicrodescriptors([]byte(h.ReadFile(filepath.Join(h.Today(), state.MicrodescriptorsFile))))
	assert.Len(t, mds, 12)
	assert.Empty(t, h.ReadFile(filepath.Join(h.Today(), state.ChurnFile)))

	stdout, _, err := h.Run("verify", "--consensus", filepath.Join(h.Today(), state.ConsensusFile))
	require.NoError(t, err)
	assert.Contains(t, stdout, "is valid: 12 relays")
}

func TestSecondUpdateWritesChurn(t *testing.T) {
	h := NewHarness(t)
	_, _, err := h.Run("update")
	require.NoError(t, err)

	cons, err := dirdoc.ParseConsensus([]byte(h.ReadFile(filepath.Join(h.Today(), state.ConsensusFile))))
	require.NoError(t, err)
	gone := cons.Relays[0].Fingerprint
	moved := cons.Relays[1].Fingerprint
	var remaining []*mock.Relay
	for _, r := range h.Relays {
		switch r.Fingerprint {
		case gone:
			continue
		case moved:
			r.Addresses = []netip.AddrPort{netip.MustParseAddrPort("198.51.100.9:443")}
		}
		remaining = append(remaining, r)
	}
	h.Mirror.SetRelays(remaining)

	_, _, err = h.Run("update")
	require.NoError(t, err)
	churn := strings.Fields(h.ReadFile(filepath.Join(h.Today(), state.ChurnFile)))
	assert.ElementsMatch(t, []string{gone.String(), moved.String()}, churn)

	stdout, _, err := h.Run("history", "--limit", "0")
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(stdout, "\n"), "header, authority, generate and churn runs")
	assert.Contains(t, stdout, "churn")
}

func TestUpdateWithoutPasswordFails(t *testing.T) {
	h := NewHarness(t)
	_, stderr, err := h.RunEnv([]string{certgen.DefaultPasswordEnv + "="}, "update")
	require.Error(t, err)
	assert.Len(t, ErrorLines(stderr), 1)
	assert.Contains(t, StripAnsi(stderr), "DIRGEN_CERT_PASSWORD")
	assert.NotContains(t, stderr, Password)
}

func TestVerifyRejectsForeignCertificate(t *testing.T) {
	h := NewHarness(t)
	_, _, err := h.Run("update")
	require.NoError(t, err)

	other := NewHarness(t)
	_, _, err = other.Run("authority")
	require.NoError(t, err)

	_, _, err = h.Run("verify",
		"--consensus", filepath.Join(h.Today(), state.ConsensusFile),
		"--certificate", other.Cfg.Authority.CertificatePath())
	assert.Error(t, err)
}
