package state

import "time"

// defaults of the C4DT private authority
const (
	DefaultAuthorityName             = "C4DT"
	DefaultHostname                  = "c4dt.org"
	DefaultAddress                   = "128.178.32.16"
	DefaultDirPort                   = 80
	DefaultORPort                    = 443
	DefaultContact                   = "https://www.c4dt.org"
	DefaultCertificateValidityMonths = 12

	DefaultRelays        = 120
	DefaultValidityDays  = 14
	DefaultMTBFAuthority = "moria1"

	DefaultAuthorityDirectory = "authority"
	DefaultRootDirectory      = "documents-public"
	DefaultConfigPath         = "dirgen.yaml"

	DefaultFetchTimeout = 30 * time.Second
	DefaultCacheTTL     = 10 * time.Minute
)

// layout of the authority directory
const (
	PrivateDir            = "private"
	PublicDir             = "public"
	IdentityKeyFile       = "authority_identity_key"
	SigningKeyFile        = "authority_signing_key"
	CertificateFile       = "certificate.txt"
	AuthorityIdentityFile = "authority.txt"
)

// files of a dated document directory
const (
	ConsensusFile        = "consensus.txt"
	MicrodescriptorsFile = "microdescriptors.txt"
	ChurnFile            = "churn.txt"
	DateLayout           = "20060102"
	CompressedSuffix     = ".zst"
)
