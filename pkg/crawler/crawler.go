package crawler

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/fetch"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/parse"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/queue"
	"github.com/piratf/kampus-crawler/pkg/score"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

const maxHintChars = 300

// State is the lifecycle stage of one entity crawl.
type State int32

const (
	StateIdle State = iota
	StateDiscoveringRoot
	StateCrawling
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscoveringRoot:
		return "discovering-root"
	case StateCrawling:
		return "crawling"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// CrawlerProgress is a snapshot of a running crawl.
type CrawlerProgress struct {
	State        string         `json:"state"`
	PagesFetched int64          `json:"pages_fetched"`
	Candidates   int64          `json:"candidates"`
	Frontier     int            `json:"frontier"`
	Roots        []string       `json:"roots"`
	Rejected     map[string]int `json:"rejected"` // Links not followed, by error category
}

// Crawler runs the best-first crawl of one entity's site and collects candidate links.
// A Crawler is single use: call Run once.
type Crawler struct {
	// OnCandidate, when set, receives each candidate as it is found, before
	// deduplication. It runs on the crawl goroutine. Set before Run.
	OnCandidate func(models.CandidateLink)
	// Stop, when closed, ends the crawl after the page in flight. Set before Run.
	Stop <-chan struct{}

	log      *logrus.Entry
	cfg      config.CrawlConfig
	entity   models.Entity
	entityID string

	fetcher fetch.Fetcher
	kw      *score.Keywords
	canon   *parse.Canonicalizer
	assets  []string // Off-site hosts assets may live on
	opts    process.LinkOptions

	state        atomic.Int32
	pagesFetched atomic.Int64
	numFound     atomic.Int64

	frontier *queue.Frontier
	visited  map[string]bool // Canonical URLs fetched, requested and final forms
	queued   map[string]bool // Canonical URLs pushed to the frontier
	found    []models.CandidateLink

	start string // Canonical homepage
	lock  *subtreeLock

	mu       sync.Mutex // Guards roots and rejected
	roots    []string
	rejected map[string]int
}

// NewCrawler creates a crawler for one entity. The fetcher may be shared across entities.
func NewCrawler(
	entity models.Entity,
	entityID string,
	appCfg *config.AppConfig,
	fetcher fetch.Fetcher,
	kw *score.Keywords,
	log *logrus.Entry,
) *Crawler {
	canon := parse.NewCanonicalizer(appCfg.Keywords.ExtraTrackingParams)
	c := &Crawler{
		log: log.WithFields(logrus.Fields{
			"component": "crawler",
			"entity":    entity.Name,
		}),
		cfg:      appCfg.Crawl,
		entity:   entity,
		entityID: entityID,
		fetcher:  fetcher,
		kw:       kw,
		canon:    canon,
		assets:   appCfg.Keywords.AllowedAssetHosts,
		opts: process.LinkOptions{
			Canonicalizer:  canon,
			SrcsetMaxWidth: appCfg.Crawl.SrcsetMaxWidth,
		},
		frontier: queue.NewFrontier(log),
		visited:  make(map[string]bool),
		queued:   make(map[string]bool),
		rejected: make(map[string]int),
	}
	return c
}

// State returns the current lifecycle stage.
func (c *Crawler) State() State {
	return State(c.state.Load())
}

func (c *Crawler) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Info("Crawler state change")
	}
}

// GetProgress returns a snapshot of the crawl. Safe to call from another goroutine.
func (c *Crawler) GetProgress() CrawlerProgress {
	c.mu.Lock()
	roots := append([]string(nil), c.roots...)
	rejected := make(map[string]int, len(c.rejected))
	for k, n := range c.rejected {
		rejected[k] = n
	}
	c.mu.Unlock()
	return CrawlerProgress{
		State:        c.State().String(),
		PagesFetched: c.pagesFetched.Load(),
		Candidates:   c.numFound.Load(),
		Frontier:     c.frontier.Len(),
		Roots:        roots,
		Rejected:     rejected,
	}
}

// PagesFetched returns how many fetches the crawl issued, discovery included.
func (c *Crawler) PagesFetched() int {
	return int(c.pagesFetched.Load())
}

// Run discovers roots, crawls until the page budget is spent or the frontier
// is empty, and returns the deduplicated candidates. A cancelled context ends
// the crawl early; what was found so far is still returned.
func (c *Crawler) Run(ctx context.Context) ([]models.CandidateLink, error) {
	if c.State() != StateIdle {
		return nil, fmt.Errorf("crawler for '%s' already ran", c.entity.Name)
	}
	startTime := time.Now()

	start, err := c.canon.Canonicalize(c.entity.SiteURL)
	if err != nil {
		c.setState(StateExhausted)
		return nil, fmt.Errorf("entity '%s' site url: %w", c.entity.Name, err)
	}
	c.start = start

	c.setState(StateDiscoveringRoot)
	roots, homepageOnly := c.discoverRoots(ctx)
	c.mu.Lock()
	c.roots = roots
	c.mu.Unlock()

	if c.cfg.GetEffectiveLockToSubtree() && !homepageOnly {
		c.lock = newSubtreeLock(roots)
	}
	c.log.WithFields(logrus.Fields{
		"roots":  roots,
		"locked": c.lock != nil,
	}).Info("Crawl roots selected")

	for _, r := range roots {
		c.enqueue(r, 0, c.kw.ScoreHint(r)+c.kw.EntryScore(r), "root", "")
	}
	if c.cfg.UseSitemaps {
		c.seedFromSitemaps(ctx)
	}

	c.setState(StateCrawling)
	crawled := 0
	for crawled < c.cfg.MaxPages {
		if err := c.halted(ctx); err != nil {
			c.log.Warnf("Crawl ended early: %v", err)
			break
		}
		item, ok := c.frontier.Pop()
		if !ok {
			break
		}
		if c.visited[item.URL] {
			continue
		}
		c.visited[item.URL] = true
		c.processPage(ctx, item)
		crawled++
	}
	c.frontier.Close()
	c.setState(StateExhausted)

	out := Dedupe(c.found)
	c.log.WithFields(logrus.Fields{
		"crawled":    crawled,
		"fetches":    c.pagesFetched.Load(),
		"raw":        len(c.found),
		"candidates": len(out),
		"rejected":   c.GetProgress().Rejected,
		"duration":   time.Since(startTime).Round(time.Millisecond),
	}).Info("Crawl finished")
	return out, nil
}

// enqueue pushes a page URL unless it was already queued or visited.
func (c *Crawler) enqueue(u string, depth int, priority float64, hint, parent string) {
	if c.queued[u] || c.visited[u] {
		return
	}
	c.queued[u] = true
	c.frontier.Push(&queue.WorkItem{
		URL:       u,
		Depth:     depth,
		Priority:  priority,
		Hint:      hint,
		ParentURL: parent,
	})
}

func (c *Crawler) emit(cand models.CandidateLink) {
	cand.EntityID = c.entityID
	cand.ContextHint = utils.Truncate(cand.ContextHint, maxHintChars)
	c.found = append(c.found, cand)
	c.numFound.Add(1)
	if c.OnCandidate != nil {
		c.OnCandidate(cand)
	}
}

// halted returns why the crawl must stop before the next page, or nil.
func (c *Crawler) halted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.Stop:
		return utils.ErrRunStopped
	default:
		return nil
	}
}

// reject counts a link that was not admitted or not followed.
func (c *Crawler) reject(err error) {
	key := utils.CategorizeError(err)
	c.mu.Lock()
	c.rejected[key]++
	c.mu.Unlock()
	c.log.WithField("error_type", key).Tracef("Link rejected: %v", err)
}

// fetchPage fetches u and parses it when it is an OK HTML page.
func (c *Crawler) fetchPage(ctx context.Context, u string) (*fetch.Result, *goquery.Document, error) {
	c.pagesFetched.Add(1)
	res, err := c.fetcher.Fetch(ctx, u)
	if err != nil {
		return res, nil, err
	}
	if res == nil || !res.OK {
		return res, nil, fmt.Errorf("%w: %s not OK", utils.ErrFetchFailure, u)
	}
	if !res.IsHTML() {
		return res, nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Content))
	if err != nil {
		return res, nil, fmt.Errorf("%w: HTML %s: %w", utils.ErrParsing, u, err)
	}
	return res, doc, nil
}

func (c *Crawler) processPage(ctx context.Context, item *queue.WorkItem) {
	pageLog := c.log.WithFields(logrus.Fields{"url": item.URL, "depth": item.Depth})
	pageLog.Debug("Crawling page")

	res, doc, err := c.fetchPage(ctx, item.URL)
	if err != nil {
		pageLog.WithField("error_type", utils.CategorizeError(err)).Debugf("Page skipped: %v", err)
		return
	}

	final := item.URL
	if res.FinalURL != "" {
		if cu, cerr := c.canon.Canonicalize(res.FinalURL); cerr == nil {
			final = cu
		}
	}
	if final != item.URL {
		if c.visited[final] {
			pageLog.Debugf("Redirect target %s already visited", final)
			return
		}
		c.visited[final] = true
	}
	if doc == nil {
		pageLog.Debugf("Skipping non-HTML content (%s)", res.ContentType)
		return
	}

	html := string(res.Content)
	pageScore := c.kw.ScorePage(doc, html)
	source := item.ParentURL
	if source == "" {
		source = final
	}
	if pageScore >= c.cfg.PageFloor {
		c.emit(models.CandidateLink{
			URL:         final,
			Kind:        models.KindPage,
			SourcePage:  source,
			ContextHint: pageHint(doc, item.Hint),
			Score:       pageScore,
		})
	}
	if c.cfg.GetEffectiveSectionCandidates() {
		c.emitSections(html, final, source, pageScore)
	}

	bonus := c.cfg.PageBonusFactor * max(0, pageScore)
	for _, l := range process.ExtractLinksFromDoc(doc, final, c.kw, c.opts) {
		if err := c.admit(l); err != nil {
			c.reject(err)
			continue
		}
		blob := l.URL + " " + l.Hint
		if c.kw.HasTopic(blob) || l.Score >= c.cfg.MinCandidateScore {
			c.emit(models.CandidateLink{
				URL:         l.URL,
				Kind:        l.Kind,
				SourcePage:  final,
				ContextHint: l.Hint,
				Score:       l.Score,
			})
		}
		if l.Kind != models.KindPage {
			continue
		}
		if err := c.follow(l.URL, item.Depth+1); err != nil {
			c.reject(err)
			continue
		}
		priority := c.kw.ScoreHint(l.URL) + l.Score - c.cfg.DepthPenalty*float64(item.Depth+1) + bonus
		c.enqueue(l.URL, item.Depth+1, priority, l.Hint, final)
	}
}

// admit applies the scope and noise filters to an extracted link.
func (c *Crawler) admit(l process.Link) error {
	if !c.related(l.URL) && (l.Kind == models.KindPage || !parse.AssetAllowed(l.URL, c.start, c.assets)) {
		return fmt.Errorf("%w: %s is off-site", utils.ErrScopeViolation, l.URL)
	}
	if c.kw.HardRejected(l.URL) {
		return fmt.Errorf("%w: %s matches a hard-reject keyword", utils.ErrFilteredLink, l.URL)
	}
	blob := l.URL + " " + l.Hint
	if c.kw.HasNoise(blob) && !c.kw.HasTopic(blob) && l.Score < c.cfg.StrongSignal {
		return fmt.Errorf("%w: %s is noise", utils.ErrFilteredLink, l.URL)
	}
	return nil
}

// follow reports whether an admitted page link at the given depth may be crawled.
func (c *Crawler) follow(u string, depth int) error {
	if depth > c.cfg.MaxDepth {
		return fmt.Errorf("%w: %s at depth %d", utils.ErrMaxDepthExceeded, u, depth)
	}
	if c.lock != nil && !c.lock.contains(u) {
		return fmt.Errorf("%w: %s is outside the crawl roots", utils.ErrScopeViolation, u)
	}
	return nil
}

// related reports whether u belongs to the entity: same site, or another
// subdomain of the same registrable domain.
func (c *Crawler) related(u string) bool {
	return parse.SameDomain(u, c.start)
}

// emitSections adds a page candidate per heading section that carries topic
// signal next to an amount or a date.
func (c *Crawler) emitSections(html, final, source string, pageScore float64) {
	md, err := process.PageText(html)
	if err != nil {
		return
	}
	for _, s := range process.Sections(md) {
		if s.Heading == "" {
			continue
		}
		blob := s.Heading + "\n" + s.Body
		if !c.kw.HasTopic(blob) || !(c.kw.HasMoney(s.Body) || c.kw.HasDate(s.Body)) {
			continue
		}
		c.emit(models.CandidateLink{
			URL:         final,
			Kind:        models.KindPage,
			SourcePage:  source,
			ContextHint: "section: " + s.Heading,
			Score:       max(pageScore, c.cfg.PageFloor) + c.kw.ScoreHint(s.Heading),
		})
	}
}

// pageHint is the page title, or the anchor text that led to the page.
func pageHint(doc *goquery.Document, fallback string) string {
	if t := collapse(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return collapse(fallback)
}

func collapse(s string) string {
	return string(bytes.Join(bytes.Fields([]byte(s)), []byte(" ")))
}
