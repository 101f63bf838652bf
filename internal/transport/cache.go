package transport

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"schedsync/internal/fsutil"
	appLog "schedsync/internal/log"
)

// entry is one cached GET response.
type entry struct {
	URL          string      `json:"url"`
	StatusCode   int         `json:"status"`
	Header       http.Header `json:"header"`
	ETag         string      `json:"etag,omitempty"`
	LastModified string      `json:"last_modified,omitempty"`
	MaxAge       int         `json:"max_age_seconds"`
	StoredAt     time.Time   `json:"stored_at"`
	Body         []byte      `json:"-"`
}

func (e entry) fresh(now time.Time) bool {
	return e.MaxAge > 0 && now.Sub(e.StoredAt) < time.Duration(e.MaxAge)*time.Second
}

func (e entry) hasValidators() bool {
	return e.ETag != "" || e.LastModified != ""
}

func (e entry) response(req *http.Request) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(cacheHeader, "hit")
	return &http.Response{
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

type cacheStore interface {
	Get(key string) (entry, bool)
	Set(key string, e entry)
}

// cacheTransport serves fresh entries locally, revalidates stale ones with
// the stored validators and stores responses that carry a positive max-age.
type cacheTransport struct {
	next  http.RoundTripper
	store cacheStore
	now   func() time.Time
}

func (t *cacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || req.Header.Get("Range") != "" {
		return t.next.RoundTrip(req)
	}

	key := req.URL.String()
	cached, ok := t.store.Get(key)
	if ok && cached.fresh(t.now()) {
		appLog.Debug("http cache hit", "url", appLog.RedactURL(key))
		return cached.response(req), nil
	}

	out := req
	if ok && cached.hasValidators() {
		out = req.Clone(req.Context())
		if cached.ETag != "" {
			out.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			out.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && ok {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		cached.StoredAt = t.now()
		if ma := parseCacheControl(resp.Header).maxAge(); ma > 0 {
			cached.MaxAge = int(ma.Seconds())
		}
		t.store.Set(key, cached)
		appLog.Debug("http cache revalidated", "url", appLog.RedactURL(key))
		return cached.response(req), nil
	}

	cc := parseCacheControl(resp.Header)
	if resp.StatusCode != http.StatusOK || cc.has("no-store") || cc.maxAge() <= 0 {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	t.store.Set(key, entry{
		URL:          key,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header.Clone(),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		MaxAge:       int(cc.maxAge().Seconds()),
		StoredAt:     t.now(),
		Body:         body,
	})
	return resp, nil
}

// memoryStore keeps entries in process. Entries outlive their freshness so
// they can still be revalidated.
type memoryStore struct {
	c *gocache.Cache
}

func newMemoryStore() *memoryStore {
	return &memoryStore{c: gocache.New(24*time.Hour, time.Hour)}
}

func (s *memoryStore) Get(key string) (entry, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	return e, ok
}

func (s *memoryStore) Set(key string, e entry) {
	s.c.Set(key, e, gocache.DefaultExpiration)
}

// diskStore keeps one directory per URL (sha256-keyed) holding meta.json
// and the raw body.
type diskStore struct {
	dir string
	mu  sync.Mutex
}

func newDiskStore(dir string) *diskStore {
	return &diskStore{dir: dir}
}

func (s *diskStore) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8]))
}

func (s *diskStore) Get(key string) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pathFor(key)
	data, err := os.ReadFile(filepath.Join(p, "meta.json"))
	if err != nil {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.URL != key {
		return entry{}, false
	}
	body, err := os.ReadFile(filepath.Join(p, "body"))
	if err != nil {
		return entry{}, false
	}
	e.Body = body
	return e, true
}

func (s *diskStore) Set(key string, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pathFor(key)
	if err := os.MkdirAll(p, 0o700); err != nil {
		appLog.Error("http cache mkdir failed", err, "url", appLog.RedactURL(key))
		return
	}

	meta, err := json.MarshalIndent(&e, "", "  ")
	if err != nil {
		appLog.Error("http cache encode failed", err, "url", appLog.RedactURL(key))
		return
	}

	// Body first so meta never points at a missing body.
	if err := fsutil.WriteFile(filepath.Join(p, "body"), e.Body, 0o600); err != nil {
		appLog.Error("http cache save failed", err, "url", appLog.RedactURL(key))
		return
	}
	if err := fsutil.WriteFile(filepath.Join(p, "meta.json"), meta, 0o600); err != nil {
		appLog.Error("http cache save failed", err, "url", appLog.RedactURL(key))
	}
}
