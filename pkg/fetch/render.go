package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

const scrollPasses = 3

// expandScript clicks collapsed accordions, tabs and toggles whose label holds
// one of the given words. Returns the number of clicks.
const expandScript = `(function(words, max) {
  var sel = 'button, summary, [aria-expanded="false"], .accordion-button, .accordion-toggle, .collapsed,' +
    ' [data-toggle="collapse"], [data-bs-toggle="collapse"], .elementor-tab-title, .vc_tta-tab a, .nav-tabs a';
  var n = 0;
  document.querySelectorAll(sel).forEach(function(el) {
    if (n >= max) return;
    var t = (el.innerText || el.textContent || '').toLowerCase();
    for (var i = 0; i < words.length; i++) {
      if (t.indexOf(words[i]) >= 0) {
        try { el.click(); n++; } catch (e) {}
        return;
      }
    }
  });
  return n;
})(%s, %d)`

const scrollScript = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`

// RenderFetcher loads pages in headless Chrome, scrolls to trigger lazy
// loading and expands topic accordions before snapshotting the DOM.
type RenderFetcher struct {
	cfg        config.RenderConfig
	userAgent  string
	expandArgs string // JSON array of topic words
	sem        *semaphore.Weighted
	log        *logrus.Entry

	startOnce     sync.Once
	startErr      error
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewRenderFetcher creates a renderer. Chrome is started on first use.
func NewRenderFetcher(cfg config.RenderConfig, userAgent string, expandWords []string, log *logrus.Entry) *RenderFetcher {
	words, _ := json.Marshal(expandWords)
	return &RenderFetcher{
		cfg:        cfg,
		userAgent:  userAgent,
		expandArgs: string(words),
		sem:        semaphore.NewWeighted(int64(max(cfg.MaxConcurrency, 1))),
		log:        log.WithField("component", "render_fetcher"),
	}
}

func (r *RenderFetcher) start() error {
	r.startOnce.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.UserAgent(r.userAgent),
		)
		if r.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			r.startErr = fmt.Errorf("%w: chromedp warmup: %w", utils.ErrFetchFailure, err)
			return
		}
		r.browserCtx, r.browserCancel, r.allocCancel = browserCtx, browserCancel, allocCancel
		r.log.Info("Headless browser started")
	})
	return r.startErr
}

// Close stops the browser if it was started.
func (r *RenderFetcher) Close() {
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

// Fetch renders rawURL and returns the DOM as HTML.
func (r *RenderFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire render slot: %w", err)
	}
	defer r.sem.Release(1)

	if err := r.start(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := &documentMeta{}
	chromedp.ListenTarget(tabCtx, meta.capture)

	start := time.Now()
	var (
		html     string
		finalURL string
		clicked  int
	)
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.SettleDelay),
	}
	for i := 0; i < scrollPasses; i++ {
		tasks = append(tasks, chromedp.Evaluate(scrollScript, nil), chromedp.Sleep(r.cfg.SettleDelay/scrollPasses))
	}
	tasks = append(tasks,
		chromedp.Evaluate(fmt.Sprintf(expandScript, r.expandArgs, r.cfg.MaxExpandClicks), &clicked),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		err = fmt.Errorf("%w: render %s: %w", utils.ErrFetchFailure, rawURL, err)
		metrics.FetchErrors.WithLabelValues(utils.CategorizeError(err)).Inc()
		return nil, err
	}

	status, contentType, docURL := meta.snapshot()
	if status == 0 {
		status = http.StatusOK
	}
	if finalURL == "" {
		finalURL = docURL
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	if contentType == "" {
		contentType = "text/html"
	}

	r.log.WithFields(logrus.Fields{"url": rawURL, "status": status, "expanded": clicked}).Debug("Rendered page")
	metrics.PagesFetched.WithLabelValues(string(models.FetchModeRender)).Inc()

	return &Result{
		URL:         rawURL,
		FinalURL:    finalURL,
		OK:          status >= 200 && status < 300,
		Status:      status,
		ContentType: contentType,
		Content:     []byte(html),
		Mode:        models.FetchModeRender,
		ElapsedMS:   time.Since(start).Milliseconds(),
	}, nil
}

// documentMeta records the main document response seen by the tab.
type documentMeta struct {
	once        sync.Once
	mu          sync.Mutex
	status      int
	contentType string
	url         string
}

func (m *documentMeta) capture(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.status = int(resp.Response.Status)
		m.contentType = resp.Response.MimeType
		m.url = resp.Response.URL
	})
}

func (m *documentMeta) snapshot() (int, string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.contentType, m.url
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
