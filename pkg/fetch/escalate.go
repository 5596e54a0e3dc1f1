package fetch

import (
	"bytes"
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/detect"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/score"
)

// EscalatingFetcher fetches light first and re-fetches with the renderer when
// the light page looks client-rendered or starved of content.
type EscalatingFetcher struct {
	light        Fetcher
	render       Fetcher
	kw           *score.Keywords
	detector     *detect.Detector
	minTextChars int
	preferLonger float64
	log          *logrus.Entry
}

// NewEscalatingFetcher wraps light and render. A nil render disables escalation.
func NewEscalatingFetcher(light, render Fetcher, kw *score.Keywords, cfg config.RenderConfig, log *logrus.Entry) *EscalatingFetcher {
	log = log.WithField("component", "escalating_fetcher")
	return &EscalatingFetcher{
		light:        light,
		render:       render,
		kw:           kw,
		detector:     detect.NewDetector(log),
		minTextChars: cfg.MinTextChars,
		preferLonger: cfg.PreferLonger,
		log:          log,
	}
}

// Fetch returns the light result unless escalation produced a better page.
func (e *EscalatingFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	res, err := e.light.Fetch(ctx, rawURL)
	if err != nil || e.render == nil || !res.OK || !res.IsHTML() {
		return res, err
	}

	doc, perr := goquery.NewDocumentFromReader(bytes.NewReader(res.Content))
	if perr != nil {
		return res, nil
	}
	pageURL, _ := url.Parse(res.FinalURL)
	lightText := process.DocumentText(doc)
	in := detect.EscalationInput{
		Text:         lightText,
		Detection:    e.detector.Detect(doc, string(res.Content), pageURL),
		TopicalURL:   e.kw.HasTopic(rawURL),
		PassesGate:   e.kw.LocalGate(lightText),
		MinTextChars: e.minTextChars,
	}
	need, reason := detect.NeedsRender(in)
	if !need {
		return res, nil
	}

	escLog := e.log.WithFields(logrus.Fields{"url": rawURL, "reason": reason})
	escLog.Debug("Escalating to headless render")

	rendered, rerr := e.render.Fetch(ctx, rawURL)
	if rerr != nil || rendered == nil || !rendered.OK {
		escLog.Warnf("Render failed, keeping light result: %v", rerr)
		metrics.Escalations.WithLabelValues(reason, "false").Inc()
		return res, nil
	}

	renderedText, terr := process.PageText(string(rendered.Content))
	if terr != nil {
		metrics.Escalations.WithLabelValues(reason, "false").Inc()
		return res, nil
	}
	if detect.PreferRendered(lightText, renderedText, e.kw.LocalGate(renderedText), e.preferLonger) {
		escLog.WithFields(logrus.Fields{"light_chars": len(lightText), "rendered_chars": len(renderedText)}).
			Info("Using rendered page")
		metrics.Escalations.WithLabelValues(reason, "true").Inc()
		return rendered, nil
	}
	metrics.Escalations.WithLabelValues(reason, "false").Inc()
	return res, nil
}

// Sitemaps delegates to the light fetcher when it can list sitemaps.
func (e *EscalatingFetcher) Sitemaps(ctx context.Context, siteURL string) []string {
	if l, ok := e.light.(SitemapLister); ok {
		return l.Sitemaps(ctx, siteURL)
	}
	return nil
}
