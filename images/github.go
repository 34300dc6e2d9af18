package images

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

const (
	defaultAPIBase  = "https://api.github.com"
	releasePageSize = 100
)

// ReleaseClient lists the releases of one GitHub repository.
type ReleaseClient struct {
	owner string
	repo  string
	base  string // API base URL, overridden in tests
	hc    *http.Client
}

// NewReleaseClient creates a client for github.com/{owner}/{repo}.
func NewReleaseClient(owner, repo string) *ReleaseClient {
	return &ReleaseClient{
		owner: owner,
		repo:  repo,
		base:  defaultAPIBase,
		hc:    &http.Client{Timeout: utils.HTTPTimeout},
	}
}

// ListReleases returns every release of the repository, walking pages until
// a short page marks the end. Transient failures (5xx, 429, connection
// errors) are retried with backoff.
func (c *ReleaseClient) ListReleases(ctx context.Context) ([]types.Release, error) {
	var all []types.Release
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=%d",
			c.base, c.owner, c.repo, releasePageSize, page)
		body, err := utils.GetWithRetry(ctx, c.hc, url)
		if err != nil {
			return nil, fmt.Errorf("list releases %s/%s: %w", c.owner, c.repo, err)
		}
		var releases []types.Release
		if err := json.Unmarshal(body, &releases); err != nil {
			return nil, fmt.Errorf("parse releases page %d: %w", page, err)
		}
		all = append(all, releases...)
		if len(releases) < releasePageSize {
			return all, nil
		}
	}
}

// LatestImageRelease returns the most recently published release whose tag
// carries the image prefix. Image releases share the repository's release
// list with application releases; the prefix is what separates the two
// namespaces, so "latest" alone is never trusted.
func (c *ReleaseClient) LatestImageRelease(ctx context.Context, prefix string) (*types.Release, error) {
	releases, err := c.ListReleases(ctx)
	if err != nil {
		return nil, err
	}
	var best *types.Release
	for i := range releases {
		r := &releases[i]
		if !strings.HasPrefix(r.TagName, prefix) {
			continue
		}
		if best == nil || r.PublishedAt.After(best.PublishedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s/%s tag prefix %q: %w", c.owner, c.repo, prefix, ErrNoImageRelease)
	}
	return best, nil
}
