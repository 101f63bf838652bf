package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// policyMaxAge is the freshness forced onto cacheable responses so repeated
// syncs within the hour reuse unchanged schedule files.
const policyMaxAge = time.Hour

// policyTransport rewrites successful responses to carry a fixed freshness
// directive before they reach the cache layer.
type policyTransport struct {
	next http.RoundTripper
}

func (t *policyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	applyCachePolicy(resp)
	return resp, nil
}

// applyCachePolicy sets "max-age=3600" on a 2xx response unless the origin
// marked it no-cache, no-store or must-revalidate. It reports whether the
// header was rewritten.
func applyCachePolicy(resp *http.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	cc := parseCacheControl(resp.Header)
	if cc.has("no-cache") || cc.has("no-store") || cc.has("must-revalidate") {
		return false
	}
	resp.Header.Set("Cache-Control", "max-age="+strconv.Itoa(int(policyMaxAge.Seconds())))
	return true
}

type cacheControl map[string]string

func parseCacheControl(h http.Header) cacheControl {
	cc := cacheControl{}
	for _, line := range h.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			cc[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return cc
}

func (cc cacheControl) has(directive string) bool {
	_, ok := cc[directive]
	return ok
}

// maxAge returns the max-age directive, or zero when absent or invalid.
func (cc cacheControl) maxAge() time.Duration {
	v, ok := cc["max-age"]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
