// Package httpcache provides a filesystem-backed response cache for
// extractor HTTP clients. Responses are stored under a configurable
// root with a bounded lifetime, and sensitive query parameters are
// excluded from cache keys so credentials never end up on disk.
package httpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultTTL is how long cached responses stay valid.
const DefaultTTL = 24 * time.Hour

// Transport is an http.RoundTripper that serves GET responses from a
// disk cache before hitting the network.
type Transport struct {
	// Base performs the actual request on a miss. nil means
	// http.DefaultTransport.
	Base http.RoundTripper

	// Root is the cache directory.
	Root string

	// TTL bounds entry lifetime; zero means DefaultTTL.
	TTL time.Duration

	// IgnoredParams are query parameter names stripped from cache keys
	// and from the persisted request URL, for API keys passed as query
	// parameters.
	IgnoredParams []string

	now func() time.Time
}

// New returns a caching transport rooted at dir.
func New(dir string, ignoredParams ...string) *Transport {
	return &Transport{Root: dir, IgnoredParams: ignoredParams}
}

type entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) ttl() time.Duration {
	if t.TTL > 0 {
		return t.TTL
	}
	return DefaultTTL
}

func (t *Transport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// cacheKey builds a stable key from the request URL with ignored
// parameters removed and the rest sorted.
func (t *Transport) cacheKey(u *url.URL) (string, string) {
	clean := *u
	params := clean.Query()
	for _, name := range t.IgnoredParams {
		params.Del(name)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(clean.Scheme)
	b.WriteString("://")
	b.WriteString(clean.Host)
	b.WriteString(clean.Path)
	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(strings.Join(params[k], ","))
	}

	normalized := b.String()
	sum := sha256.Sum256([]byte(normalized))
	return normalized, hex.EncodeToString(sum[:])
}

func (t *Transport) entryPath(key string) string {
	return filepath.Join(t.Root, key[:2], key+".json")
}

// RoundTrip implements http.RoundTripper. Only GET requests are cached;
// everything else passes straight through.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.base().RoundTrip(req)
	}

	normalized, key := t.cacheKey(req.URL)
	path := t.entryPath(key)

	if e, ok := t.read(path); ok {
		return &http.Response{
			StatusCode: e.Status,
			Status:     http.StatusText(e.Status),
			Header:     e.Header.Clone(),
			Body:       io.NopCloser(bytes.NewReader(e.Body)),
			Request:    req,
		}, nil
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Only successful responses are worth replaying.
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	t.write(path, entry{
		URL:      normalized,
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: t.clock(),
	})
	return resp, nil
}

func (t *Transport) read(path string) (entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, false
	}
	if t.clock().Sub(e.StoredAt) > t.ttl() {
		os.Remove(path)
		return entry{}, false
	}
	return e, true
}

func (t *Transport) write(path string, e entry) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	// Cache writes are best-effort; a failed write just means a miss
	// next time.
	_ = os.WriteFile(path, data, 0o600)
}
