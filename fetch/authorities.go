package fetch

import (
	"fmt"

	"github.com/encodeous/dirgen/dirdoc"
)

// DirectoryAuthority is a public authority queried for documents.
type DirectoryAuthority struct {
	Name string `yaml:"name"`
	// Address is the host:port of the directory port.
	Address  string             `yaml:"address"`
	Identity dirdoc.Fingerprint `yaml:"identity,omitempty"`
}

func (d DirectoryAuthority) URL(path string) string {
	return "http://" + d.Address + path
}

// DefaultAuthorities are the Tor network's directory authorities.
var DefaultAuthorities = []DirectoryAuthority{
	{"moria1", "128.31.0.39:9231", dirdoc.MustParseFingerprint("F533C81CEF0BC0267857C99B2F471ADF249FA232")},
	{"tor26", "217.196.147.77:80", dirdoc.MustParseFingerprint("2F3DF9CA0E5D36F2685A2DA67184EB8DCB8CBA8C")},
	{"dizum", "45.66.35.11:80", dirdoc.MustParseFingerprint("E8A9C45EDE6D711294FADF8E7951F4DE6CA56B58")},
	{"gabelmoo", "131.188.40.189:80", dirdoc.MustParseFingerprint("ED03BB616EB2F60BEC80151114BB25CEF515B226")},
	{"dannenberg", "193.23.244.244:80", dirdoc.MustParseFingerprint("0232AF901C31A04EE9848595AF9BB7620D4C5B2E")},
	{"maatuska", "171.25.193.9:443", dirdoc.MustParseFingerprint("49015F787433103580E3B66A1707A00E60F2D15B")},
	{"longclaw", "199.58.81.140:80", dirdoc.MustParseFingerprint("23D15D965BC35114467363C165C4F724B64B4F66")},
	{"bastet", "204.13.164.118:80", dirdoc.MustParseFingerprint("27102BC123E7AF1D4741AE047E160C91ADC76B21")},
	{"faravahar", "216.218.219.41:80", dirdoc.MustParseFingerprint("70849B868D606BAECFB6128C5E3D782029AA394F")},
}

func findAuthority(auths []DirectoryAuthority, name string) (DirectoryAuthority, error) {
	for _, a := range auths {
		if a.Name == name {
			return a, nil
		}
	}
	return DirectoryAuthority{}, fmt.Errorf("%w: %q", ErrUnknownAuthority, name)
}
