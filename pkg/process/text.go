package process

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"github.com/piratf/kampus-crawler/pkg/utils"
)

// Chrome that never carries page facts.
const strippedSelectors = "script, style, noscript, template, svg, nav, footer, form, iframe"

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// PageText converts an HTML page to Markdown text for the gate and the oracle.
// Tables survive as pipe rows.
func PageText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: HTML: %w", utils.ErrParsing, err)
	}
	return DocumentText(doc), nil
}

// DocumentText is PageText on a parsed document. The document is not modified.
func DocumentText(doc *goquery.Document) string {
	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	content := sel.First().Clone()
	content.Find(strippedSelectors).Remove()

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.Table())
	markdown := converter.Convert(content)

	markdown = blankLinesRe.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}
