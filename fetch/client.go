// Package fetch downloads documents from Tor directory authorities over the
// directory protocol.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/encodeous/dirgen/dirdoc"
	"github.com/encodeous/dirgen/perf"
	"github.com/jellydator/ttlcache/v3"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

const (
	ConsensusPath = "/tor/status-vote/current/consensus-microdesc"
	VotePath      = "/tor/status-vote/current/authority"
	KeysPath      = "/tor/keys/fp/"
	MicrodescPath = "/tor/micro/d/"

	// MaxMicrodescriptorsPerRequest is the bucket size for microdescriptor downloads.
	MaxMicrodescriptorsPerRequest = 90
)

var (
	ErrUnknownAuthority   = errors.New("unknown directory authority")
	ErrUnexpectedDocument = errors.New("unexpected document")
	ErrDigestMismatch     = errors.New("microdescriptor digests do not match request")
	ErrNoMirror           = errors.New("no directory mirror answered")
)

// Client fetches documents, trying Authorities in order until one answers.
// Responses are cached for the client's TTL so repeated fetches within a
// run hit the network once.
type Client struct {
	Authorities []DirectoryAuthority
	HTTP        *http.Client
	Log         *slog.Logger
	// Parallelism bounds concurrent microdescriptor requests.
	Parallelism int

	cache *ttlcache.Cache[string, []byte]
}

func NewClient(auths []DirectoryAuthority, timeout, cacheTTL time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		Authorities: auths,
		HTTP:        &http.Client{Timeout: timeout},
		Log:         log,
		Parallelism: 4,
		cache: ttlcache.New[string, []byte](
			ttlcache.WithTTL[string, []byte](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, []byte](),
		),
	}
}

// get fetches path from the first mirror that answers.
func (c *Client) get(ctx context.Context, mirrors []DirectoryAuthority, path string) ([]byte, error) {
	key := path
	if len(mirrors) == 1 {
		key = mirrors[0].Name + path
	}
	if item := c.cache.Get(key); item != nil {
		c.Log.Debug("cache hit", "path", path)
		return item.Value(), nil
	}
	var errs []error
	for _, m := range mirrors {
		body, err := c.download(ctx, m.URL(path))
		if err != nil {
			perf.FetchFailures.Add(1)
			c.Log.Warn("directory request failed", "authority", m.Name, "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.cache.Set(key, body, ttlcache.DefaultTTL)
		return body, nil
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrNoMirror, path, errors.Join(errs...))
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "x-zstd, deflate, identity")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", url, res.Status)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}
	body, err := decode(res.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	perf.FetchLatency.Add(float64(time.Since(start).Milliseconds()))
	perf.FetchedBytes.Add(float64(len(raw)))
	perf.FetchesPerSecond.Add(1)
	c.Log.Debug("fetched", "url", url, "bytes", len(raw), "decoded", len(body))
	return body, nil
}

func decode(encoding string, raw []byte) ([]byte, error) {
	switch strings.TrimSpace(encoding) {
	case "", "identity":
		return raw, nil
	case "x-zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	case "deflate":
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// FetchConsensus fetches the current microdesc consensus.
func (c *Client) FetchConsensus(ctx context.Context) (*dirdoc.Consensus, error) {
	raw, err := c.get(ctx, c.Authorities, ConsensusPath)
	if err != nil {
		return nil, err
	}
	cons, err := dirdoc.ParseConsensus(raw)
	if err != nil {
		return nil, err
	}
	if cons.IsVote() || cons.Flavor != dirdoc.FlavorMicrodesc {
		return nil, fmt.Errorf("%w: expected a microdesc consensus, got %s %s", ErrUnexpectedDocument, cons.Flavor, cons.VoteStatus)
	}
	return cons, nil
}

// FetchCertificates fetches the key certificates of identities. Certificates
// the directory does not return are left out; unrequested ones are an error.
func (c *Client) FetchCertificates(ctx context.Context, identities []dirdoc.Fingerprint) ([]*dirdoc.Certificate, error) {
	if len(identities) == 0 {
		return nil, nil
	}
	ids := make([]string, len(identities))
	for i, id := range identities {
		ids[i] = id.String()
	}
	raw, err := c.get(ctx, c.Authorities, KeysPath+strings.Join(ids, "+"))
	if err != nil {
		return nil, err
	}
	certs, err := dirdoc.ParseCertificates(raw)
	if err != nil {
		return nil, err
	}
	for _, cert := range certs {
		if !slices.Contains(identities, cert.Fingerprint) {
			return nil, fmt.Errorf("%w: certificate for unrequested identity %s", ErrUnexpectedDocument, cert.Fingerprint)
		}
	}
	if len(certs) < len(identities) {
		c.Log.Warn("missing authority certificates", "requested", len(identities), "received", len(certs))
	}
	return certs, nil
}

// FetchVote fetches the current vote of the named authority, from that authority.
func (c *Client) FetchVote(ctx context.Context, authority string) (*dirdoc.Consensus, error) {
	auth, err := findAuthority(c.Authorities, authority)
	if err != nil {
		return nil, err
	}
	raw, err := c.get(ctx, []DirectoryAuthority{auth}, VotePath)
	if err != nil {
		return nil, err
	}
	vote, err := dirdoc.ParseConsensus(raw)
	if err != nil {
		return nil, err
	}
	if !vote.IsVote() {
		return nil, fmt.Errorf("%w: expected a vote from %s, got %q", ErrUnexpectedDocument, authority, vote.VoteStatus)
	}
	if auth.Identity != (dirdoc.Fingerprint{}) && !slices.Contains(vote.AuthorityIdentities(), auth.Identity) {
		return nil, fmt.Errorf("%w: vote from %s is not signed off by %s", ErrUnexpectedDocument, authority, auth.Identity)
	}
	return vote, nil
}

// FetchMicrodescriptors downloads the microdescriptors for digests in
// parallel buckets and returns them in request order. The returned set must
// match the requested set exactly.
func (c *Client) FetchMicrodescriptors(ctx context.Context, digests []string) ([]*dirdoc.Microdescriptor, error) {
	buckets := slices.Collect(slices.Chunk(digests, MaxMicrodescriptorsPerRequest))
	results := make([][]*dirdoc.Microdescriptor, len(buckets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Parallelism, 1))
	for i, bucket := range buckets {
		g.Go(func() error {
			raw, err := c.get(ctx, c.Authorities, MicrodescPath+strings.Join(bucket, "-"))
			if err != nil {
				return err
			}
			results[i] = dirdoc.ParseMicrodescriptors(raw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byDigest := make(map[string]*dirdoc.Microdescriptor, len(digests))
	for _, mds := range results {
		for _, md := range mds {
			byDigest[md.Digest()] = md
		}
	}
	if len(byDigest) != len(digests) {
		return nil, fmt.Errorf("%w: requested %d, received %d", ErrDigestMismatch, len(digests), len(byDigest))
	}
	out := make([]*dirdoc.Microdescriptor, len(digests))
	for i, d := range digests {
		md, ok := byDigest[d]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrDigestMismatch, d)
		}
		out[i] = md
	}
	c.Log.Info("fetched microdescriptors", "count", len(out), "requests", len(buckets))
	return out, nil
}
