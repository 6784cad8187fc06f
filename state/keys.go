package state

import (
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/encodeous/dirgen/dirdoc"
	"go.step.sm/crypto/pemutil"
)

func (a AuthorityCfg) IdentityKeyPath() string {
	return filepath.Join(a.Directory, PrivateDir, IdentityKeyFile)
}

func (a AuthorityCfg) SigningKeyPath() string {
	return filepath.Join(a.Directory, PrivateDir, SigningKeyFile)
}

func (a AuthorityCfg) CertificatePath() string {
	return filepath.Join(a.Directory, PublicDir, CertificateFile)
}

func (a AuthorityCfg) AuthorityIdentityPath() string {
	return filepath.Join(a.Directory, PublicDir, AuthorityIdentityFile)
}

// LoadSigningKey reads the PEM encoded RSA signing key written by tor-gencert.
func LoadSigningKey(path string) (*rsa.PrivateKey, error) {
	key, err := pemutil.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	rk, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key %s is a %T, expected an RSA key", path, key)
	}
	return rk, nil
}

// EncodeSigningKey renders key in the PKCS#1 PEM form tor-gencert uses.
func EncodeSigningKey(key *rsa.PrivateKey) ([]byte, error) {
	block, err := pemutil.Serialize(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}

func LoadCertificate(path string) (*dirdoc.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dirdoc.ParseCertificate(raw)
}

// LoadCertificates reads every certificate in each of paths.
func LoadCertificates(paths []string) ([]*dirdoc.Certificate, error) {
	var certs []*dirdoc.Certificate
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		c, err := dirdoc.ParseCertificates(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		certs = append(certs, c...)
	}
	return certs, nil
}
