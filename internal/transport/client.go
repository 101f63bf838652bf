// Package transport is the leaf networking layer: an HTTP client whose
// round-tripper chain applies the schedule site's caching policy and keeps
// responses in a disk or in-memory cache.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	appLog "schedsync/internal/log"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "schedsync/1.0"

	// cacheHeader marks responses that were served from the local cache.
	cacheHeader = "X-Schedsync-Cache"
)

// Options configures a Client. They are read once in New; toggling caching
// requires building a new Client.
type Options struct {
	// CachingEnabled turns on the caching policy and response cache.
	CachingEnabled bool
	// CacheDir selects the disk-backed cache. Empty means in-memory.
	CacheDir string
	// Timeout bounds a single request. Zero means defaultTimeout.
	Timeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// Base is the underlying round-tripper; nil uses a clone of
	// http.DefaultTransport.
	Base http.RoundTripper
	// Now overrides the clock used for cache freshness.
	Now func() time.Time
}

// Client fetches remote resources. It knows nothing about lessons.
type Client struct {
	http      *http.Client
	userAgent string
}

// Result is the outcome of a successful fetch.
type Result struct {
	URL       string
	Body      []byte
	FromCache bool
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rt := opts.Base
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}

	if opts.CachingEnabled {
		var store cacheStore
		if opts.CacheDir != "" {
			store = newDiskStore(opts.CacheDir)
		} else {
			store = newMemoryStore()
		}
		rt = &cacheTransport{
			next:  &policyTransport{next: rt},
			store: store,
			now:   opts.Now,
		}
		appLog.Info("http caching enabled", "dir", opts.CacheDir, "max_age", policyMaxAge)
	}

	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: rt,
		},
		userAgent: opts.UserAgent,
	}
}

// Get fetches url and returns the body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	res, err := c.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// Fetch performs a GET. Every failure is returned as *FetchError.
func (c *Client) Fetch(ctx context.Context, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, &FetchError{URL: url, Kind: KindInvalid, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	appLog.Debug("fetch start", "url", appLog.RedactURL(url))

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &FetchError{URL: url, Kind: classify(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Result{}, &FetchError{
			URL:        url,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &FetchError{URL: url, Kind: classify(ctx, err), Err: err}
	}

	fromCache := resp.Header.Get(cacheHeader) != ""
	appLog.Debug("fetch success", "url", appLog.RedactURL(url), "status", resp.StatusCode, "bytes", len(body), "from_cache", fromCache)

	return Result{URL: url, Body: body, FromCache: fromCache}, nil
}

// Kind classifies a fetch failure.
type Kind string

const (
	KindInvalid     Kind = "invalid"
	KindUnreachable Kind = "unreachable"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindStatus      Kind = "status"
)

// FetchError is the typed failure returned by Client.
type FetchError struct {
	URL        string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: status %d", appLog.RedactURL(e.URL), e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", appLog.RedactURL(e.URL), e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func classify(ctx context.Context, err error) Kind {
	if errors.Is(ctx.Err(), context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
