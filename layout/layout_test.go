package layout

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/dirgen/certgen"
	"github.com/encodeous/dirgen/core"
	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/history"
	"github.com/encodeous/dirgen/mock"
	"github.com/encodeous/dirgen/state"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	authOnce sync.Once
	auths    []*mock.Authority
	authErr  error
)

func authorities(t *testing.T) []*mock.Authority {
	t.Helper()
	authOnce.Do(func() {
		auths, authErr = mock.NewAuthorities(3)
	})
	require.NoError(t, authErr)
	return auths
}

// fakeFetcher serves a mock network whose relays can change between runs.
type fakeFetcher struct {
	t               *testing.T
	relays          []*mock.Relay
	consensusCalls  int
	certificateCall int
}

func (f *fakeFetcher) document() *mock.Document {
	a := authorities(f.t)
	return &mock.Document{ValidAfter: mock.ValidAfter, Relays: f.relays, Authorities: a, Signers: a}
}

func (f *fakeFetcher) FetchConsensus(ctx context.Context) (*dirdoc.Consensus, error) {
	f.consensusCalls++
	return dirdoc.ParseConsensus(f.document().Consensus())
}

func (f *fakeFetcher) FetchCertificates(ctx context.Context, ids []dirdoc.Fingerprint) ([]*dirdoc.Certificate, error) {
	f.certificateCall++
	return mock.Certificates(authorities(f.t)), nil
}

func (f *fakeFetcher) FetchVote(ctx context.Context, authority string) (*dirdoc.Consensus, error) {
	for _, a := range authorities(f.t) {
		if a.Name == authority {
			return dirdoc.ParseConsensus(f.document().Vote(a))
		}
	}
	return nil, fmt.Errorf("no vote from %s", authority)
}

func (f *fakeFetcher) FetchMicrodescriptors(ctx context.Context, digests []string) ([]*dirdoc.Microdescriptor, error) {
	byDigest := make(map[string]*dirdoc.Microdescriptor)
	for _, r := range f.relays {
		byDigest[r.MD.Digest()] = r.MD
	}
	mds := make([]*dirdoc.Microdescriptor, len(digests))
	for i, d := range digests {
		md, ok := byDigest[d]
		if !ok {
			return nil, fmt.Errorf("unknown microdescriptor %s", d)
		}
		mds[i] = md
	}
	return mds, nil
}

// fakeCertGen writes the files tor-gencert would.
type fakeCertGen struct {
	requests  []certgen.Request
	passwords []string
	now       func() time.Time
	lifetime  time.Duration
}

var authorityIdentity = dirdoc.Fingerprint(sha1.Sum([]byte("identity:C4DT")))

func (g *fakeCertGen) Generate(ctx context.Context, password string, req certgen.Request) error {
	g.requests = append(g.requests, req)
	g.passwords = append(g.passwords, password)
	if req.CreateIdentity {
		if err := os.WriteFile(req.IdentityKeyPath, []byte("identity"), 0600); err != nil {
			return err
		}
	} else if _, err := os.Stat(req.IdentityKeyPath); err != nil {
		return fmt.Errorf("%w: %v", certgen.ErrCertGenFailed, err)
	}
	key, err := rsa.GenerateKey(rand.Reader, mock.KeyBits)
	if err != nil {
		return err
	}
	pem, err := state.EncodeSigningKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(req.SigningKeyPath, pem, 0600); err != nil {
		return err
	}
	published := g.now()
	cert := mock.CertificateText(authorityIdentity, &key.PublicKey, published, published.Add(g.lifetime))
	return os.WriteFile(req.CertificatePath, cert, 0644)
}

type memoryHistory struct {
	runs []history.Run
}

func (h *memoryHistory) Record(run history.Run) (history.Run, error) {
	h.runs = append(h.runs, run)
	return run, nil
}

func (h *memoryHistory) kinds() []history.Kind {
	var out []history.Kind
	for _, r := range h.runs {
		out = append(out, r.Kind)
	}
	return out
}

type harness struct {
	*Updater
	dir     string
	clock   time.Time
	fetcher *fakeFetcher
	certGen *fakeCertGen
	history *memoryHistory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := state.DefaultCfg()
	cfg.Authority.Directory = filepath.Join(dir, "authority")
	cfg.Directory.Root = filepath.Join(dir, "documents-public")
	cfg.Consensus.Relays = 12
	cfg.Consensus.ValidityDays = 3
	cfg.Consensus.MTBFAuthority = authorities(t)[0].Name

	h := &harness{
		dir:     dir,
		clock:   mock.ValidAfter.Add(time.Hour),
		fetcher: &fakeFetcher{t: t, relays: mock.GenerateRelays(60, 7)},
		history: &memoryHistory{},
	}
	h.certGen = &fakeCertGen{now: func() time.Time { return h.clock }, lifetime: 365 * 24 * time.Hour}
	h.Updater = NewUpdater(&cfg, h.fetcher, h.certGen, nil)
	h.Updater.Password = func() (string, error) { return "hunter2", nil }
	h.Updater.History = h.history
	h.Updater.Now = func() time.Time { return h.clock }
	return h
}

// rerun starts a new run, which fetches a fresh consensus again.
func (h *harness) rerun(ctx context.Context) error {
	h.Updater.fresh = nil
	return h.Update(ctx)
}

func (h *harness) dayDir(t time.Time) string {
	return filepath.Join(h.Cfg.Directory.Root, t.Format(state.DateLayout))
}

func (h *harness) read(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

func TestUpdateCreatesStructure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Update(context.Background()))

	require.Len(t, h.certGen.requests, 1)
	assert.True(t, h.certGen.requests[0].CreateIdentity)
	assert.Equal(t, 12, h.certGen.requests[0].ValidityMonths)
	assert.Equal(t, []string{"hunter2"}, h.certGen.passwords)

	a := h.Cfg.Authority
	for _, p := range []string{a.IdentityKeyPath(), a.SigningKeyPath(), a.CertificatePath()} {
		assert.FileExists(t, p)
	}
	assert.Equal(t, "C4DT "+authorityIdentity.String(), h.read(t, a.AuthorityIdentityPath()))
	info, err := os.Stat(filepath.Join(a.Directory, state.PrivateDir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	today := h.dayDir(h.clock)
	raw := h.read(t, filepath.Join(today, state.ConsensusFile))
	cons, err := dirdoc.ParseConsensus([]byte(raw))
	require.NoError(t, err)
	assert.Len(t, cons.Relays, 12)
	cert, err := state.LoadCertificate(a.CertificatePath())
	require.NoError(t, err)
	assert.True(t, core.NewValidator(nil).Validate(cons, []*dirdoc.Certificate{cert}))

	mds := dirdoc.ParseMicrodescriptors([]byte(h.read(t, filepath.Join(today, state.MicrodescriptorsFile))))
	assert.Len(t, mds, 12)
	assert.Empty(t, h.read(t, filepath.Join(today, state.ChurnFile)))
	assert.NoFileExists(t, filepath.Join(today, state.ConsensusFile+state.CompressedSuffix))

	assert.Equal(t, []history.Kind{history.KindAuthority, history.KindGenerate}, h.history.kinds())
	assert.Equal(t, 1, h.fetcher.consensusCalls)
}

func TestUpdateRefreshesChurnOfToday(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.Update(ctx))
	today := h.dayDir(h.clock)
	consensusBefore := h.read(t, filepath.Join(today, state.ConsensusFile))

	cons, err := dirdoc.ParseConsensus([]byte(consensusBefore))
	require.NoError(t, err)
	movedFP := cons.Relays[0].Fingerprint
	for _, r := range h.fetcher.relays {
		if r.Fingerprint == movedFP {
			r.Addresses = []netip.AddrPort{netip.MustParseAddrPort("198.51.100.7:443")}
		}
	}

	require.NoError(t, h.rerun(ctx))
	assert.Equal(t, movedFP.String()+"\n", h.read(t, filepath.Join(today, state.ChurnFile)))
	assert.Equal(t, consensusBefore, h.read(t, filepath.Join(today, state.ConsensusFile)), "existing consensus is kept")
	assert.Len(t, h.certGen.requests, 1, "a valid authority is not regenerated")
	assert.Equal(t, 2, h.fetcher.consensusCalls)

	last := h.history.runs[len(h.history.runs)-1]
	assert.Equal(t, history.KindChurn, last.Kind)
	assert.Equal(t, 1, last.Churned)
}

func TestUpdateRefreshesPreviousDaysWithinValidity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.Update(ctx))
	first := h.dayDir(h.clock)

	// outside the validity window, so never read
	stale := h.dayDir(h.clock.AddDate(0, 0, 1-h.Cfg.Consensus.ValidityDays))
	require.NoError(t, os.Mkdir(stale, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, state.ConsensusFile), []byte("garbage"), 0644))
	// a plain file named like a day is not a document directory
	require.NoError(t, os.WriteFile(h.dayDir(h.clock.AddDate(0, 0, -1)), nil, 0644))

	h.clock = h.clock.AddDate(0, 0, 1)
	require.NoError(t, h.rerun(ctx))

	assert.DirExists(t, h.dayDir(h.clock))
	assert.FileExists(t, filepath.Join(first, state.ChurnFile))
	assert.Equal(t, 2, h.fetcher.consensusCalls, "the consensus fetched for generation is reused for churn")
	assert.Equal(t, []history.Kind{history.KindAuthority, history.KindGenerate, history.KindGenerate, history.KindChurn}, h.history.kinds())
	assert.Equal(t, filepath.Base(first), h.history.runs[3].Directory)
}

func TestUpdateRenewsExpiredCertificate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.certGen.lifetime = time.Hour
	require.NoError(t, h.Update(ctx))
	before, err := state.LoadCertificate(h.Cfg.Authority.CertificatePath())
	require.NoError(t, err)

	h.clock = h.clock.Add(2 * time.Hour)
	h.certGen.lifetime = 365 * 24 * time.Hour
	require.NoError(t, h.rerun(ctx))

	require.Len(t, h.certGen.requests, 2)
	assert.False(t, h.certGen.requests[1].CreateIdentity)
	after, err := state.LoadCertificate(h.Cfg.Authority.CertificatePath())
	require.NoError(t, err)
	assert.True(t, after.Expires.After(before.Expires))
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
}

func TestUpdateInconsistentAuthority(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(filepath.Join(h.Cfg.Authority.Directory, state.PrivateDir), 0700))

	err := h.Update(context.Background())
	assert.ErrorIs(t, err, ErrInconsistentDirectory)
	assert.Empty(t, h.certGen.requests)
}

func TestUpdateRootMustBeDirectory(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.Cfg.Directory.Root, []byte("file"), 0644))
	err := h.Update(context.Background())
	assert.ErrorIs(t, err, ErrInconsistentDirectory)
}

func TestUpdateUnwritablePreviousDay(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.Update(ctx))
	first := h.dayDir(h.clock)
	require.NoError(t, os.Chmod(first, 0500))
	t.Cleanup(func() { _ = os.Chmod(first, 0755) })

	h.clock = h.clock.AddDate(0, 0, 1)
	err := h.rerun(ctx)
	assert.ErrorIs(t, err, ErrInconsistentDirectory)
}

func TestUpdateWithoutPassword(t *testing.T) {
	h := newHarness(t)
	h.Password = func() (string, error) {
		return "", fmt.Errorf("%w: environment variable is not set", certgen.ErrCertGenFailed)
	}
	err := h.Update(context.Background())
	assert.ErrorIs(t, err, core.ErrCertGenFailed)
	assert.Empty(t, h.certGen.requests)
}

func TestUpdateRejectsInvalidSource(t *testing.T) {
	h := newHarness(t)
	h.Fetcher = &forgedFetcher{fakeFetcher: h.fetcher}
	h.Generator.Fetcher = h.Fetcher
	err := h.Update(context.Background())
	assert.ErrorIs(t, err, core.ErrInvalidConsensus)
	assert.NoDirExists(t, h.dayDir(h.clock))
}

// forgedFetcher serves a consensus with a majority of forged signatures.
type forgedFetcher struct {
	*fakeFetcher
}

func (f *forgedFetcher) FetchConsensus(ctx context.Context) (*dirdoc.Consensus, error) {
	a := authorities(f.t)
	doc := &mock.Document{ValidAfter: mock.ValidAfter, Relays: f.relays, Authorities: a, Signers: a[:1], Forgers: a[1:]}
	return dirdoc.ParseConsensus(doc.Consensus())
}

func TestCompressedCopies(t *testing.T) {
	h := newHarness(t)
	h.Cfg.Compress = true
	require.NoError(t, h.Update(context.Background()))

	path := filepath.Join(h.dayDir(h.clock), state.ConsensusFile)
	compressed, err := os.ReadFile(path + state.CompressedSuffix)
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)
	assert.Equal(t, h.read(t, path), string(plain))
	assert.True(t, strings.HasPrefix(string(plain), "network-status-version 3 microdesc\n"))
}

func TestLoadSignerMismatch(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.EnsureAuthority(context.Background()))
	other, err := rsa.GenerateKey(rand.Reader, mock.KeyBits)
	require.NoError(t, err)
	pem, err := state.EncodeSigningKey(other)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(h.Cfg.Authority.SigningKeyPath(), pem, 0600))

	_, err = h.LoadSigner()
	assert.True(t, errors.Is(err, ErrInconsistentDirectory))
}
