package crawler

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/fetch"
	"github.com/piratf/kampus-crawler/pkg/parse"
	"github.com/piratf/kampus-crawler/pkg/process"
)

// Nested sitemap indexes are followed at most this many documents deep.
const maxSitemapDocs = 10

// discoverRoots picks the crawl roots: a guessed admissions subdomain, else
// entry links from the homepage menu, else entry links anywhere on the
// homepage, else the homepage itself. homepageOnly is true for the last case.
func (c *Crawler) discoverRoots(ctx context.Context) (roots []string, homepageOnly bool) {
	if r := c.guessSubdomain(ctx); r != "" {
		return []string{r}, false
	}
	if ctx.Err() != nil {
		return []string{c.start}, true
	}

	res, doc, err := c.fetchPage(ctx, c.start)
	if err != nil || doc == nil {
		c.log.Warnf("Homepage unavailable for root discovery: %v", err)
		return []string{c.start}, true
	}
	home := c.start
	if res.FinalURL != "" {
		if cu, cerr := c.canon.Canonicalize(res.FinalURL); cerr == nil {
			home = cu
		}
	}

	if roots = c.topEntries(process.MenuLinks(doc, home, c.canon), home); len(roots) > 0 {
		return roots, false
	}
	c.log.Info("No entry links in menus, scanning all homepage links")
	var pages []process.Link
	for _, l := range process.ExtractLinksFromDoc(doc, home, c.kw, c.opts) {
		if !l.Kind.IsAsset() {
			pages = append(pages, l)
		}
	}
	if roots = c.topEntries(pages, home); len(roots) > 0 {
		return roots, false
	}
	return []string{c.start}, true
}

// guessSubdomain tries the configured subdomains of the registrable domain
// and returns the first that answers with an HTML page.
func (c *Crawler) guessSubdomain(ctx context.Context) string {
	u, err := url.Parse(c.start)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	domain := parse.RegistrableDomain(host)
	for _, sub := range c.cfg.SubdomainGuesses {
		if ctx.Err() != nil {
			return ""
		}
		candidate := sub + "." + domain
		if candidate == host {
			continue
		}
		guess, err := c.canon.Canonicalize(u.Scheme + "://" + candidate + "/")
		if err != nil {
			continue
		}
		res, doc, err := c.fetchPage(ctx, guess)
		if err != nil || doc == nil {
			c.log.WithField("guess", guess).Debugf("Subdomain guess failed: %v", err)
			continue
		}
		final := guess
		if cu, cerr := c.canon.Canonicalize(res.FinalURL); cerr == nil && res.FinalURL != "" {
			final = cu
		}
		if !c.related(final) {
			continue
		}
		c.log.WithField("root", final).Info("Admissions subdomain found")
		return final
	}
	return ""
}

// topEntries keeps same-site links with an entry keyword and returns the best MaxRoots.
func (c *Crawler) topEntries(links []process.Link, home string) []string {
	type scored struct {
		url   string
		score float64
	}
	var picks []scored
	seen := make(map[string]bool)
	for _, l := range links {
		if l.URL == home || seen[l.URL] || !c.related(l.URL) || c.kw.HardRejected(l.URL) {
			continue
		}
		s := c.kw.EntryScore(l.URL + " " + l.Hint)
		if s <= 0 {
			continue
		}
		seen[l.URL] = true
		picks = append(picks, scored{l.URL, s + c.kw.ScoreHint(l.URL+" "+l.Hint)})
	}
	sort.SliceStable(picks, func(i, j int) bool { return picks[i].score > picks[j].score })

	var out []string
	for _, p := range picks {
		if len(out) == c.cfg.MaxRoots {
			break
		}
		out = append(out, p.url)
	}
	return out
}

// seedFromSitemaps enqueues sitemap URLs with a positive lexical score at depth 1.
func (c *Crawler) seedFromSitemaps(ctx context.Context) {
	lister, ok := c.fetcher.(fetch.SitemapLister)
	if !ok {
		return
	}
	pending := lister.Sitemaps(ctx, c.start)
	seeded, docs := 0, 0
	seen := make(map[string]bool)

	for len(pending) > 0 && docs < maxSitemapDocs && seeded < c.cfg.SitemapSeedLimit {
		if ctx.Err() != nil {
			return
		}
		smURL := pending[0]
		pending = pending[1:]
		if seen[smURL] {
			continue
		}
		seen[smURL] = true
		docs++

		smLog := c.log.WithField("sitemap", smURL)
		res, err := c.fetcher.Fetch(ctx, smURL)
		c.pagesFetched.Add(1)
		if err != nil || res == nil || !res.OK {
			smLog.Debugf("Sitemap fetch failed: %v", err)
			continue
		}
		pages, children, err := parse.ParseSitemap(res.Content)
		if err != nil {
			smLog.Warnf("Sitemap parse failed: %v", err)
			continue
		}
		pending = append(pending, children...)

		for _, raw := range pages {
			if seeded >= c.cfg.SitemapSeedLimit {
				break
			}
			u, err := c.canon.Canonicalize(raw)
			if err != nil || !c.related(u) || c.kw.HardRejected(u) {
				continue
			}
			lex := c.kw.ScoreHint(u)
			if lex <= 0 || (c.lock != nil && !c.lock.contains(u)) {
				continue
			}
			c.enqueue(u, 1, lex-c.cfg.DepthPenalty, "sitemap", smURL)
			seeded++
		}
	}
	c.log.WithFields(logrus.Fields{"seeded": seeded, "sitemaps": docs}).Info("Sitemap seeding done")
}

// subtreeLock bounds the crawl to the hosts and path prefixes of its roots.
type subtreeLock struct {
	scopes []scope
}

type scope struct {
	host   string
	prefix string // "" admits the whole host
}

func newSubtreeLock(roots []string) *subtreeLock {
	l := &subtreeLock{}
	for _, r := range roots {
		h := parse.Hostname(r)
		if h == "" {
			continue
		}
		l.scopes = append(l.scopes, scope{host: h, prefix: parse.PathPrefix(r)})
	}
	return l
}

// contains reports whether u is on a root host and under that root's path.
func (l *subtreeLock) contains(u string) bool {
	h := parse.Hostname(u)
	p := parse.PathPrefix(u)
	for _, s := range l.scopes {
		if h != s.host {
			continue
		}
		if s.prefix == "" || strings.HasPrefix(p, s.prefix) {
			return true
		}
	}
	return false
}
