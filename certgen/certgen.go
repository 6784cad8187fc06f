// Package certgen runs tor-gencert to create and renew directory authority
// keys and certificates.
package certgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var ErrCertGenFailed = errors.New("certificate generation failed")

const (
	DefaultBinary      = "tor-gencert"
	DefaultPasswordEnv = "DIRGEN_CERT_PASSWORD"
	DefaultTimeout     = 10 * time.Second
	DefaultKillGrace   = 5 * time.Second
)

// Request describes one tor-gencert invocation.
type Request struct {
	// CreateIdentity generates a new identity key instead of reading IdentityKeyPath.
	CreateIdentity bool
	// ReuseSigningKey keeps the existing signing key and only issues a new certificate.
	ReuseSigningKey bool
	IdentityKeyPath string
	SigningKeyPath  string
	CertificatePath string
	ValidityMonths  int
}

// Args renders the tor-gencert command line for req. The passphrase is read from stdin.
func (req Request) Args() []string {
	var args []string
	if req.CreateIdentity {
		args = append(args, "--create-identity-key")
	}
	if req.ReuseSigningKey {
		args = append(args, "--reuse")
	}
	return append(args,
		"-i", req.IdentityKeyPath,
		"-s", req.SigningKeyPath,
		"-c", req.CertificatePath,
		"-m", strconv.Itoa(req.ValidityMonths),
		"--passphrase-fd", "0",
	)
}

// Runner executes tor-gencert with a bounded run time. When Timeout expires
// the process receives SIGTERM, and is killed if still running KillGrace later.
type Runner struct {
	Binary    string
	Timeout   time.Duration
	KillGrace time.Duration
	Log       *slog.Logger
}

func (r *Runner) Generate(ctx context.Context, password string, req Request) error {
	log := r.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	bin := r.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if req.ValidityMonths <= 0 {
		return fmt.Errorf("%w: validity must be at least one month, got %d", ErrCertGenFailed, req.ValidityMonths)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, req.Args()...)
	cmd.Stdin = strings.NewReader(password)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.KillGrace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultKillGrace
	}

	log.Info("running certificate generator", "binary", bin, "args", strings.Join(req.Args(), " "))
	start := time.Now()
	err := cmd.Run()
	log.Debug("certificate generator output", "output", strings.TrimSpace(output.String()), "elapsed", time.Since(start))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s timed out after %s", ErrCertGenFailed, bin, timeout)
		}
		return fmt.Errorf("%w: %s: %v", ErrCertGenFailed, bin, err)
	}
	return nil
}

// PasswordFromEnv reads the certificate password from the named environment variable.
func PasswordFromEnv(name string) (string, error) {
	if name == "" {
		name = DefaultPasswordEnv
	}
	pw, ok := os.LookupEnv(name)
	if !ok || pw == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrCertGenFailed, name)
	}
	return pw, nil
}
