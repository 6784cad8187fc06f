// Package layout maintains the on-disk authority and dated document
// directories.
package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/encodeous/dirgen/certgen"
	"github.com/encodeous/dirgen/core"
	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/history"
	"github.com/encodeous/dirgen/state"
	"github.com/google/renameio/v2"
)

var ErrInconsistentDirectory = errors.New("inconsistent directory structure")

type CertGenerator interface {
	Generate(ctx context.Context, password string, req certgen.Request) error
}

type Recorder interface {
	Record(run history.Run) (history.Run, error)
}

// Updater creates the authority on first use, generates one consensus per
// day and keeps the churn reports of the documents still in use current.
type Updater struct {
	Cfg       *state.Cfg
	Fetcher   core.Fetcher
	Generator *core.Generator
	CertGen   CertGenerator
	// Password returns the authority key password. It is only called when
	// tor-gencert has to run.
	Password func() (string, error)
	History  Recorder
	Log      *slog.Logger
	Now      func() time.Time

	fresh *dirdoc.Consensus
}

// NewUpdater wires the generation pipeline from cfg.
func NewUpdater(cfg *state.Cfg, fetcher core.Fetcher, certGen CertGenerator, log *slog.Logger) *Updater {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	validator := core.NewValidator(log)
	return &Updater{
		Cfg:     cfg,
		Fetcher: fetcher,
		Generator: &core.Generator{
			Fetcher:   fetcher,
			Validator: validator,
			Selector:  &core.Selector{Log: log, Exclude: core.NewExcludeTable(cfg.Consensus.ExcludePrefixes)},
			Assembler: &core.Assembler{BandwidthWeights: cfg.Consensus.BandwidthWeights},
			Log:       log,
		},
		CertGen: certGen,
		Password: func() (string, error) {
			return certgen.PasswordFromEnv(cfg.CertGen.PasswordEnv)
		},
		Log: log,
		Now: time.Now,
	}
}

func (u *Updater) now() time.Time {
	if u.Now == nil {
		return time.Now().UTC()
	}
	return u.Now().UTC()
}

func (u *Updater) logger() *slog.Logger {
	if u.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return u.Log
}

func (u *Updater) record(run history.Run) {
	if u.History == nil {
		return
	}
	run, err := u.History.Record(run)
	if err != nil {
		u.logger().Warn("failed to record run", "kind", run.Kind, "error", err)
		return
	}
	u.logger().Debug("recorded run", "id", run.ID, "kind", run.Kind)
}

// Update brings the directory structure up to date for today: the authority
// is created or renewed, today's documents are generated if missing, and the
// churn reports of today and the previous validity days are refreshed.
func (u *Updater) Update(ctx context.Context) error {
	now := u.now()
	root := u.Cfg.Directory.Root
	if err := ensureDir(root, 0755); err != nil {
		return err
	}
	if err := u.EnsureAuthority(ctx); err != nil {
		return err
	}

	today := filepath.Join(root, now.Format(state.DateLayout))
	if _, err := os.Stat(today); os.IsNotExist(err) {
		if err := u.CreateDocuments(ctx, today); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else if err := u.RefreshChurn(ctx, today); err != nil {
		return err
	}

	for days := 1; days < u.Cfg.Consensus.ValidityDays; days++ {
		dir := filepath.Join(root, now.AddDate(0, 0, -days).Format(state.DateLayout))
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if !canReadWrite(dir) {
			return fmt.Errorf("%w: directory %s is not readable and writable", ErrInconsistentDirectory, dir)
		}
		if err := u.RefreshChurn(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

// FreshConsensus fetches and validates the live consensus once per Updater.
func (u *Updater) FreshConsensus(ctx context.Context) (*dirdoc.Consensus, error) {
	if u.fresh != nil {
		return u.fresh, nil
	}
	c, _, err := core.FetchValidConsensus(ctx, u.Fetcher, u.Generator.Validator)
	if err != nil {
		return nil, err
	}
	u.fresh = c
	return c, nil
}

// CreateDocuments generates a consensus and its microdescriptors into dir,
// which must not exist yet.
func (u *Updater) CreateDocuments(ctx context.Context, dir string) error {
	u.logger().Info("creating custom consensus", "directory", dir)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%s already exists", dir)
	}
	signer, err := u.LoadSigner()
	if err != nil {
		return err
	}
	gen, err := u.Generator.Generate(ctx, *signer, core.GenerateParams{
		Relays:        u.Cfg.Consensus.Relays,
		ValidityDays:  u.Cfg.Consensus.ValidityDays,
		MTBFAuthority: u.Cfg.Consensus.MTBFAuthority,
	})
	if err != nil {
		return err
	}
	if u.fresh == nil {
		u.fresh = gen.Source
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := u.WriteDocuments(dir, gen); err != nil {
		return err
	}
	u.record(history.Run{
		Kind:       history.KindGenerate,
		Directory:  filepath.Base(dir),
		ValidAfter: gen.Consensus.ValidAfter,
		Relays:     len(gen.Consensus.Relays),
	})
	return nil
}

// WriteDocuments writes the consensus, the microdescriptors and an empty
// churn report into dir.
func (u *Updater) WriteDocuments(dir string, gen *core.Generated) error {
	compress := u.Cfg.Compress
	if err := writeDocument(filepath.Join(dir, state.ConsensusFile), gen.ConsensusRaw, compress); err != nil {
		return err
	}
	if err := writeDocument(filepath.Join(dir, state.MicrodescriptorsFile), gen.Microdescriptors, compress); err != nil {
		return err
	}
	return writeDocument(filepath.Join(dir, state.ChurnFile), core.ChurnReport(nil), compress)
}

// RefreshChurn rewrites the churn report of the consensus stored in dir
// against the fresh consensus. A churn above threshold is logged, not
// returned.
func (u *Updater) RefreshChurn(ctx context.Context, dir string) error {
	u.logger().Info("updating churn", "directory", dir)
	path := filepath.Join(dir, state.ConsensusFile)
	if !canRead(path) {
		return fmt.Errorf("%w: %s is missing or unreadable", ErrInconsistentDirectory, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	synth, err := dirdoc.ParseConsensus(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fresh, err := u.FreshConsensus(ctx)
	if err != nil {
		return err
	}
	churned, err := core.CheckChurn(synth, fresh, u.logger())
	if err != nil && !errors.Is(err, core.ErrChurnAboveThreshold) {
		return err
	}
	if err := writeDocument(filepath.Join(dir, state.ChurnFile), core.ChurnReport(churned), u.Cfg.Compress); err != nil {
		return err
	}
	u.record(history.Run{
		Kind:       history.KindChurn,
		Directory:  filepath.Base(dir),
		ValidAfter: synth.ValidAfter,
		Relays:     len(synth.Relays),
		Churned:    len(churned),
	})
	return nil
}

// LoadSigner reads the authority's signing key and certificate.
func (u *Updater) LoadSigner() (*core.Signer, error) {
	a := u.Cfg.Authority
	key, err := state.LoadSigningKey(a.SigningKeyPath())
	if err != nil {
		return nil, err
	}
	cert, err := state.LoadCertificate(a.CertificatePath())
	if err != nil {
		return nil, fmt.Errorf("authority certificate: %w", err)
	}
	if !cert.SigningKey.Equal(&key.PublicKey) {
		return nil, fmt.Errorf("%w: signing key does not match the certificate", ErrInconsistentDirectory)
	}
	return &core.Signer{
		Info: core.AuthorityInfo{
			Name:     a.Name,
			Hostname: a.Hostname,
			Address:  a.Address,
			DirPort:  a.DirPort,
			ORPort:   a.ORPort,
			Contact:  a.Contact,
		},
		Key:  key,
		Cert: cert,
	}, nil
}

// EnsureAuthority creates the authority directory if missing, checks that
// every authority file is present and renews the certificate once it has
// expired.
func (u *Updater) EnsureAuthority(ctx context.Context) error {
	a := u.Cfg.Authority
	if _, err := os.Stat(a.Directory); os.IsNotExist(err) {
		u.logger().Info("creating new authority", "directory", a.Directory)
		if err := os.Mkdir(a.Directory, 0755); err != nil {
			return err
		}
		if err := u.runCertGen(ctx, true); err != nil {
			return err
		}
	}
	info, err := os.Stat(a.Directory)
	if err != nil {
		return err
	}
	if !info.IsDir() || !canRead(a.Directory) {
		return fmt.Errorf("%w: %s should be a readable directory", ErrInconsistentDirectory, a.Directory)
	}
	for _, p := range []string{a.IdentityKeyPath(), a.SigningKeyPath(), a.CertificatePath(), a.AuthorityIdentityPath()} {
		if !canRead(p) {
			return fmt.Errorf("%w: %s is missing or unreadable", ErrInconsistentDirectory, p)
		}
	}

	cert, err := state.LoadCertificate(a.CertificatePath())
	if err != nil {
		return fmt.Errorf("authority certificate: %w", err)
	}
	if cert.ExpiredAt(u.now()) {
		u.logger().Info("renewing authority certificate", "directory", a.Directory, "expired", dirdoc.FormatTime(cert.Expires))
		if !canReadWrite(a.CertificatePath()) {
			return fmt.Errorf("%w: %s is not writable", ErrInconsistentDirectory, a.CertificatePath())
		}
		return u.runCertGen(ctx, false)
	}
	return nil
}

// runCertGen issues a new certificate and signing key, with a new identity
// key when create is set, then rewrites the authority identity file.
func (u *Updater) runCertGen(ctx context.Context, create bool) error {
	a := u.Cfg.Authority
	if err := ensureDir(filepath.Join(a.Directory, state.PrivateDir), 0700); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(a.Directory, state.PublicDir), 0755); err != nil {
		return err
	}
	if u.CertGen == nil {
		return fmt.Errorf("%w: no certificate generator configured", core.ErrCertGenFailed)
	}
	password, err := u.Password()
	if err != nil {
		return err
	}
	err = u.CertGen.Generate(ctx, password, certgen.Request{
		CreateIdentity:  create,
		IdentityKeyPath: a.IdentityKeyPath(),
		SigningKeyPath:  a.SigningKeyPath(),
		CertificatePath: a.CertificatePath(),
		ValidityMonths:  a.CertificateValidityMonths,
	})
	if err != nil {
		return err
	}

	cert, err := state.LoadCertificate(a.CertificatePath())
	if err != nil {
		return fmt.Errorf("%w: generated certificate: %v", core.ErrCertGenFailed, err)
	}
	identity := fmt.Sprintf("%s %s", a.Name, cert.Fingerprint)
	if err := renameio.WriteFile(a.AuthorityIdentityPath(), []byte(identity), 0644); err != nil {
		return err
	}
	u.logger().Info("authority certificate issued", "fingerprint", cert.Fingerprint, "expires", dirdoc.FormatTime(cert.Expires))
	u.record(history.Run{Kind: history.KindAuthority, Directory: a.Directory})
	return nil
}

// ensureDir creates dir if missing and checks it is a read-write directory.
func ensureDir(dir string, perm os.FileMode) error {
	err := os.Mkdir(dir, perm)
	if err != nil && !os.IsExist(err) {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s should be a directory", ErrInconsistentDirectory, dir)
	}
	if !canReadWrite(dir) {
		return fmt.Errorf("%w: %s does not have enough permission", ErrInconsistentDirectory, dir)
	}
	return nil
}
