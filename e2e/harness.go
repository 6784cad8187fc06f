//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/dirgen/certgen"
	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/fetch"
	"github.com/encodeous/dirgen/mock"
	"github.com/encodeous/dirgen/state"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/require"
)

const (
	Password    = "correct horse battery staple"
	WaitTimeout = 2 * time.Minute
)

// fakeGencert stands in for tor-gencert: it consumes the passphrase and
// installs a prepared signing key and certificate.
const fakeGencert = `#!/bin/sh
cat > "$SRC/passphrase"
while [ $# -gt 0 ]; do
  case "$1" in
    -i) id="$2"; shift;;
    -s) sk="$2"; shift;;
    -c) cert="$2"; shift;;
  esac
  shift
done
[ -f "$id" ] || echo identity > "$id"
cp "$SRC/signing_key" "$sk"
cp "$SRC/certificate.txt" "$cert"
echo "certificate written to $cert"
`

type Harness struct {
	t       *testing.T
	ctx     context.Context
	Dir     string
	Config  string
	Cfg     state.Cfg
	Server  *httptest.Server
	Mirror  *mock.DirectoryServer
	Relays  []*mock.Relay
	Gencert string
	// Identity is the fingerprint in the prepared certificate.
	Identity dirdoc.Fingerprint
}

// NewHarness serves a mock network, prepares the authority material and
// writes a config pointing dirgen at both.
func NewHarness(t *testing.T) *Harness {
	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	t.Cleanup(cancel)
	dir := t.TempDir()

	auths, err := mock.NewAuthorities(3)
	require.NoError(t, err)
	relays := mock.GenerateRelays(60, 11)
	mirror := &mock.DirectoryServer{
		Doc:   &mock.Document{ValidAfter: mock.ValidAfter, Relays: relays, Authorities: auths, Signers: auths},
		Voter: auths[0],
	}
	server := httptest.NewServer(mirror)
	t.Cleanup(server.Close)

	h := &Harness{
		t:        t,
		ctx:      ctx,
		Dir:      dir,
		Server:   server,
		Mirror:   mirror,
		Relays:   relays,
		Identity: sha1.Sum([]byte("identity:e2e")),
	}
	h.prepareAuthority(time.Now().UTC().AddDate(1, 0, 0))

	cfg := state.DefaultCfg()
	cfg.Authority.Directory = filepath.Join(dir, "authority")
	cfg.Directory.Root = filepath.Join(dir, "documents-public")
	cfg.Directory.Authorities = []fetch.DirectoryAuthority{{
		Name:     auths[0].Name,
		Address:  strings.TrimPrefix(server.URL, "http://"),
		Identity: auths[0].Identity,
	}}
	cfg.Directory.Timeout = 10 * time.Second
	cfg.Consensus.Relays = 12
	cfg.Consensus.ValidityDays = 3
	cfg.Consensus.MTBFAuthority = auths[0].Name
	cfg.CertGen.Binary = h.Gencert
	cfg.CertGen.Timeout = 30 * time.Second
	cfg.History.Path = filepath.Join(dir, "history")
	h.WriteConfig(cfg)
	return h
}

// prepareAuthority writes the key, the certificate and the fake tor-gencert
// that installs them.
func (h *Harness) prepareAuthority(expires time.Time) {
	src := filepath.Join(h.Dir, "gencert")
	require.NoError(h.t, os.MkdirAll(src, 0700))
	key, err := rsa.GenerateKey(rand.Reader, mock.KeyBits)
	require.NoError(h.t, err)
	pem, err := state.EncodeSigningKey(key)
	require.NoError(h.t, err)
	require.NoError(h.t, os.WriteFile(filepath.Join(src, "signing_key"), pem, 0600))
	cert := mock.CertificateText(h.Identity, &key.PublicKey, time.Now().UTC().Add(-time.Hour), expires)
	require.NoError(h.t, os.WriteFile(filepath.Join(src, "certificate.txt"), cert, 0644))

	h.Gencert = filepath.Join(src, "tor-gencert")
	script := strings.ReplaceAll(fakeGencert, "$SRC", src)
	require.NoError(h.t, os.WriteFile(h.Gencert, []byte(script), 0700))
}

func (h *Harness) WriteConfig(cfg state.Cfg) {
	data, err := yaml.Marshal(cfg)
	require.NoError(h.t, err)
	h.Config = filepath.Join(h.Dir, "dirgen.yaml")
	require.NoError(h.t, os.WriteFile(h.Config, data, 0600))
	h.Cfg = cfg
}

// Run executes dirgen with the harness config and the key password in the
// environment.
func (h *Harness) Run(args ...string) (stdout, stderr string, err error) {
	return h.RunEnv([]string{certgen.DefaultPasswordEnv + "=" + Password}, args...)
}

func (h *Harness) RunEnv(env []string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(h.ctx, binary, append([]string{"--config", h.Config}, args...)...)
	cmd.Env = append(os.Environ(), env...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err = cmd.Run()
	h.t.Logf("dirgen %s\n%s", strings.Join(args, " "), StripAnsi(errOut.String()))
	return out.String(), errOut.String(), err
}

func (h *Harness) Today() string {
	return filepath.Join(h.Cfg.Directory.Root, time.Now().UTC().Format(state.DateLayout))
}

func (h *Harness) ReadFile(path string) string {
	raw, err := os.ReadFile(path)
	require.NoError(h.t, err)
	return string(raw)
}
