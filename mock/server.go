package mock

import (
	"net/http"
	"strings"
	"sync"
)

// DirectoryServer answers directory protocol requests for a Document: the
// microdesc consensus, the vote of Voter, key certificates of the
// document's authorities and microdescriptors of its relays.
type DirectoryServer struct {
	mu    sync.Mutex
	Doc   *Document
	Voter *Authority
}

// SetRelays replaces the relays served from now on.
func (s *DirectoryServer) SetRelays(relays []*Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := *s.Doc
	doc.Relays = relays
	s.Doc = &doc
}

func (s *DirectoryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	doc := s.Doc
	s.mu.Unlock()

	var body []byte
	switch p := r.URL.Path; {
	case p == "/tor/status-vote/current/consensus-microdesc":
		body = doc.Consensus()
	case p == "/tor/status-vote/current/authority":
		body = doc.Vote(s.Voter)
	case strings.HasPrefix(p, "/tor/keys/fp/"):
		for _, id := range strings.Split(strings.TrimPrefix(p, "/tor/keys/fp/"), "+") {
			for _, a := range doc.Authorities {
				if a.Identity.String() == id {
					body = append(body, a.CertRaw...)
				}
			}
		}
	case strings.HasPrefix(p, "/tor/micro/d/"):
		wanted := make(map[string]bool)
		for _, d := range strings.Split(strings.TrimPrefix(p, "/tor/micro/d/"), "-") {
			wanted[d] = true
		}
		for _, relay := range doc.Relays {
			if wanted[relay.MD.Digest()] {
				body = append(body, relay.MD.Raw...)
			}
		}
	default:
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write(body)
}
