package detect

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

var jsNoticeRe = regexp.MustCompile(`(?i)(enable|requires?|turn on|aktifkan)\s+javascript`)

// DetectionResult describes the client-side rendering signals of one page
type DetectionResult struct {
	Widgets     []Widget // Every matched widget, table plugins first
	TableWidget bool     // A table plugin is present
	JSNotice    bool     // Page asks the visitor to enable JavaScript
}

// HasWidgets reports whether any widget marker was found.
func (r DetectionResult) HasWidgets() bool { return len(r.Widgets) > 0 }

// WaitSelector returns the selector the renderer should wait for, or "".
func (r DetectionResult) WaitSelector() string {
	for _, w := range r.Widgets {
		if sig := Signature(w); sig != nil && sig.WaitSelector != "" {
			return sig.WaitSelector
		}
	}
	return ""
}

// Detector finds widget markers in pages. Site-wide frameworks are cached per host.
type Detector struct {
	cache *HostCache
	log   *logrus.Entry
}

// NewDetector creates a detector with an empty host cache
func NewDetector(log *logrus.Entry) *Detector {
	return &Detector{
		cache: NewHostCache(),
		log:   log,
	}
}

// Detect inspects a parsed page. pageURL may be nil, which disables caching.
func (d *Detector) Detect(doc *goquery.Document, html string, pageURL *url.URL) DetectionResult {
	htmlLower := strings.ToLower(html)
	res := DetectionResult{JSNotice: jsNoticeRe.MatchString(html)}

	host := ""
	if pageURL != nil {
		host = strings.ToLower(pageURL.Hostname())
	}

	for _, sig := range widgetSignatures {
		if sig.SiteWide {
			continue
		}
		if sig.Matches(doc, htmlLower) {
			res.Widgets = append(res.Widgets, sig.Widget)
			res.TableWidget = true
		}
	}

	if cached, ok := d.cache.Get(host); ok && host != "" {
		res.Widgets = append(res.Widgets, cached...)
		return res
	}

	var siteWide []Widget
	for _, sig := range widgetSignatures {
		if sig.SiteWide && sig.Matches(doc, htmlLower) {
			siteWide = append(siteWide, sig.Widget)
		}
	}
	if host != "" {
		d.cache.Set(host, siteWide)
		if len(siteWide) > 0 && d.log != nil {
			d.log.Debugf("Detected client-side frameworks %v for host %s", siteWide, host)
		}
	}
	res.Widgets = append(res.Widgets, siteWide...)
	return res
}

// DetectHTML parses html and runs Detect. Unparsable HTML yields an empty result.
func (d *Detector) DetectHTML(html string, pageURL *url.URL) DetectionResult {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return DetectionResult{JSNotice: jsNoticeRe.MatchString(html)}
	}
	return d.Detect(doc, html, pageURL)
}
