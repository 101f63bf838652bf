// Package update checks a release feed for a newer version.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	appLog "schedsync/internal/log"
)

// Fetcher downloads a URL body.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Release is the part of the release JSON that is read.
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Result reports a check.
type Result struct {
	Current   string  `json:"current"`
	Latest    Release `json:"latest"`
	Available bool    `json:"available"`
}

// Checker compares the running version with the latest release.
type Checker struct {
	url     string
	current string
	fetcher Fetcher
}

func NewChecker(f Fetcher, url, current string) *Checker {
	return &Checker{url: url, current: current, fetcher: f}
}

// Check fetches the release feed. A newer release is one whose tag sorts
// after the running version; a leading "v" is ignored on both sides.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	res := Result{Current: c.current}

	body, err := c.fetcher.Get(ctx, c.url)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(body, &res.Latest); err != nil {
		return res, fmt.Errorf("decode release: %w", err)
	}
	if res.Latest.TagName == "" {
		return res, errors.New("release has no tag_name")
	}

	res.Available = normalize(res.Latest.TagName) > normalize(c.current)
	appLog.Info("update check", "current", c.current, "latest", res.Latest.TagName, "available", res.Available)
	return res, nil
}

func normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
