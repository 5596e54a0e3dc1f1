package fetch

import (
	"context"
	"strings"

	"github.com/piratf/kampus-crawler/pkg/models"
)

// Result is one fetched page or asset.
type Result struct {
	URL         string // Requested URL
	FinalURL    string // URL after redirects
	OK          bool   // 2xx with a readable body
	Status      int
	ContentType string
	Content     []byte
	Mode        models.FetchMode
	ElapsedMS   int64
}

// IsHTML reports whether the content is an HTML document. A missing
// Content-Type falls back to sniffing the body.
func (r *Result) IsHTML() bool {
	if r == nil {
		return false
	}
	ct := strings.ToLower(r.ContentType)
	if ct != "" {
		return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
	}
	head := strings.ToLower(string(r.Content[:min(len(r.Content), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// Fetcher retrieves one URL. Implementations return a non-nil Result with
// OK=false alongside the error when the server answered with a failure status.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// SitemapLister reports the sitemap URLs a site advertises in robots.txt.
type SitemapLister interface {
	Sitemaps(ctx context.Context, siteURL string) []string
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (*Result, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Result, error) { return f(ctx, url) }
