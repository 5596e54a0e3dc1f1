package process

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/parse"
)

// Navigation containers that hold the site menu on most CMS themes.
var menuSelectors = []string{
	"nav a", "header a", "[role='navigation'] a", ".menu a", ".navbar a", "ul.menu a", "ul.nav a",
	".main-menu a", ".primary-menu a", ".top-menu a", "header nav a", ".site-header a", ".header-menu a",
	".navbar-nav a", ".nav-item a", ".nav-link", ".dropdown-menu a", ".dropdown a", ".has-submenu a",
	".submenu a", "#site-navigation a", "#main-menu a", "#primary-menu a", ".menu-item a",
}

// MenuLinks returns the page links found in navigation menus, in document
// order and without duplicates. Hint is the anchor text.
func MenuLinks(doc *goquery.Document, pageURL string, canon *parse.Canonicalizer) []Link {
	if canon == nil {
		canon = parse.NewCanonicalizer(nil)
	}
	seen := make(map[string]bool)
	var out []Link
	doc.Find(strings.Join(menuSelectors, ", ")).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		u, err := canon.Resolve(pageURL, href)
		if err != nil || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, Link{URL: u, Kind: models.KindPage, Hint: collapseSpace(a.Text())})
	})
	return out
}
