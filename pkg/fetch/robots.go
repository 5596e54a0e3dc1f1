package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// Robots fetches, parses and caches robots.txt per scheme and host.
// Hosts whose robots.txt cannot be fetched or parsed allow everything.
type Robots struct {
	fetcher Fetcher
	cache   map[string]*robotstxt.RobotsData // scheme://host -> parsed data (or nil)
	mu      sync.Mutex
	group   singleflight.Group
	log     *logrus.Entry
}

// NewRobots creates a robots.txt cache that fetches through fetcher.
func NewRobots(fetcher Fetcher, log *logrus.Entry) *Robots {
	return &Robots{
		fetcher: fetcher,
		cache:   make(map[string]*robotstxt.RobotsData),
		log:     log.WithField("component", "robots"),
	}
}

// Data returns the parsed robots.txt for u's host, or nil.
func (r *Robots) Data(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	key := scheme + "://" + strings.ToLower(u.Host)

	r.mu.Lock()
	data, found := r.cache[key]
	r.mu.Unlock()
	if found {
		return data
	}

	v, _, _ := r.group.Do(key, func() (any, error) {
		robotsURL := key + "/robots.txt"
		robotsLog := r.log.WithField("robots_url", robotsURL)
		robotsLog.Debug("Fetching robots.txt...")

		var parsed *robotstxt.RobotsData
		res, err := r.fetcher.Fetch(ctx, robotsURL)
		switch {
		case err != nil:
			robotsLog.Debugf("Fetching robots.txt failed, allowing all: %v", err)
		case !res.OK:
			robotsLog.Debugf("robots.txt status %d, allowing all", res.Status)
		default:
			parsed, err = robotstxt.FromBytes(res.Content)
			if err != nil {
				robotsLog.Warnf("Error parsing robots.txt, allowing all: %v", err)
				parsed = nil
			}
		}

		if ctx.Err() == nil {
			r.mu.Lock()
			r.cache[key] = parsed
			r.mu.Unlock()
		}
		return parsed, nil
	})
	data, _ = v.(*robotstxt.RobotsData)
	return data
}

// Allowed reports whether userAgent may fetch u.
func (r *Robots) Allowed(ctx context.Context, u *url.URL, userAgent string) bool {
	data := r.Data(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), userAgent)
}

// Sitemaps returns the Sitemap directives of u's host.
func (r *Robots) Sitemaps(ctx context.Context, u *url.URL) []string {
	data := r.Data(ctx, u)
	if data == nil {
		return nil
	}
	return append([]string(nil), data.Sitemaps...)
}
