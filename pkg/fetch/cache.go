package fetch

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/models"
)

// CachedFetcher remembers successful results for a TTL so validation reuses
// the pages the crawl just fetched.
type CachedFetcher struct {
	next  Fetcher
	cache *gocache.Cache
}

// NewCachedFetcher wraps next with a TTL cache keyed by requested and final URL.
func NewCachedFetcher(next Fetcher, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Fetch serves from cache when possible. Cached results report mode "cache".
func (c *CachedFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if v, found := c.cache.Get(rawURL); found {
		metrics.CacheHits.Inc()
		hit := *v.(*Result)
		hit.Mode = models.FetchModeCache
		hit.ElapsedMS = 0
		return &hit, nil
	}

	res, err := c.next.Fetch(ctx, rawURL)
	if err != nil || res == nil || !res.OK {
		return res, err
	}
	c.cache.SetDefault(rawURL, res)
	if res.FinalURL != "" && res.FinalURL != rawURL {
		c.cache.SetDefault(res.FinalURL, res)
	}
	return res, nil
}

// Sitemaps delegates to the wrapped fetcher when it can list sitemaps.
func (c *CachedFetcher) Sitemaps(ctx context.Context, siteURL string) []string {
	if l, ok := c.next.(SitemapLister); ok {
		return l.Sitemaps(ctx, siteURL)
	}
	return nil
}

// Len returns the number of cached entries, expired ones included until cleanup.
func (c *CachedFetcher) Len() int {
	return c.cache.ItemCount()
}
