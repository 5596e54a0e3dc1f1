package process

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/parse"
	"github.com/piratf/kampus-crawler/pkg/score"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// Score bonuses per link source.
const (
	sourceBonus       = 0.5
	imgTopicalBonus   = 1.0
	imgPlainBonus     = 0.2
	styleTopicalBonus = 0.8
	stylePlainBonus   = 0.2
	dataAttrBonus     = 0.6
	onclickBonus      = 0.6
	scriptBonus       = 0.4

	maxAnchorText = 200
)

var (
	styleURLRe    = regexp.MustCompile(`url\(([^)]+)\)`)
	onclickHrefRe = regexp.MustCompile(`location\.href\s*=\s*['"]([^'"]+)['"]`)
	onclickOpenRe = regexp.MustCompile(`window\.open\(\s*['"]([^'"]+)['"]`)
	scriptURLRe   = regexp.MustCompile(`https?://[^\s'"<>()\\]+`)
)

var imgAttrs = []string{"src", "data-src", "data-original", "data-lazy-src", "data-srcset", "srcset"}

var dataAttrs = []string{"data-href", "data-url", "data-link", "data-src", "data-file"}

// Link is one outbound reference found on a page.
type Link struct {
	URL   string      // Canonical absolute URL
	Kind  models.Kind // page, document or image
	Hint  string      // Anchor text, alt text or source tag, for scoring and logs
	Score float64     // Lexical score plus source bonus
}

// LinkOptions tunes extraction.
type LinkOptions struct {
	Canonicalizer  *parse.Canonicalizer // nil uses the default tracking parameter set
	SrcsetMaxWidth int                  // Largest srcset width to prefer, 2200 when zero
}

// ExtractLinks parses html and returns every page, document and image link on it,
// deduplicated by (URL, kind) with the first occurrence kept.
func ExtractLinks(pageURL string, html []byte, kw *score.Keywords, opts LinkOptions) []Link {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	return ExtractLinksFromDoc(doc, pageURL, kw, opts)
}

// linkCollector resolves, scores and deduplicates links for one page.
type linkCollector struct {
	base  string
	canon *parse.Canonicalizer
	kw    *score.Keywords
	seen  map[string]bool
	out   []Link
}

func (c *linkCollector) add(raw, hint string, bonus float64, filter func(u string, kind models.Kind) bool) {
	u, err := c.canon.Resolve(c.base, raw)
	if err != nil {
		return
	}
	kind := SniffKind(u)
	if filter != nil && !filter(u, kind) {
		return
	}
	key := models.CandidateKey(kind, u)
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.out = append(c.out, Link{
		URL:   u,
		Kind:  kind,
		Hint:  strings.TrimSpace(hint),
		Score: c.kw.ScoreHint(hint+" "+u) + bonus,
	})
}

// ExtractLinksFromDoc is ExtractLinks on an already parsed document.
func ExtractLinksFromDoc(doc *goquery.Document, pageURL string, kw *score.Keywords, opts LinkOptions) []Link {
	canon := opts.Canonicalizer
	if canon == nil {
		canon = parse.NewCanonicalizer(nil)
	}
	maxWidth := opts.SrcsetMaxWidth
	if maxWidth <= 0 {
		maxWidth = 2200
	}
	c := &linkCollector{base: pageURL, canon: canon, kw: kw, seen: make(map[string]bool)}

	pageText := score.PageText(doc)
	topicalPage := kw.HasTopic(pageText) || kw.HasMoney(pageText)

	// Anchors: noise hints are skipped unless they also carry topic signal.
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		text := utils.Truncate(collapseSpace(a.Text()), maxAnchorText)
		hint := text + " " + href
		if kw.HasNoise(hint) && !kw.HasTopic(hint) {
			return
		}
		c.add(href, hint, 0, nil)
	})

	// Embedded frames and objects.
	for _, sa := range [][2]string{{"iframe", "src"}, {"embed", "src"}, {"object", "data"}} {
		tag, attr := sa[0], sa[1]
		doc.Find(tag + "[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr(attr)
			c.add(src, tag+":"+attr+" "+src, 0, nil)
		})
	}

	// <source> inside picture/video: assets only.
	assetsOnly := func(_ string, kind models.Kind) bool { return kind.IsAsset() }
	doc.Find("source").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			c.add(src, "source "+src, sourceBonus, assetsOnly)
		}
		if set, ok := s.Attr("srcset"); ok {
			if pick := PickSrcset(set, maxWidth); pick != "" {
				c.add(pick, "source "+pick, sourceBonus, assetsOnly)
			}
		}
	})

	// Images, lazy-load attributes included.
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		title, _ := img.Attr("title")
		class, _ := img.Attr("class")
		hint := collapseSpace("img " + alt + " " + title + " " + class)
		if kw.HasNoise(hint) && !topicalPage {
			return
		}
		bonus := imgPlainBonus
		if topicalPage || kw.HasTopic(hint) {
			bonus = imgTopicalBonus
		}
		for _, attr := range imgAttrs {
			val, ok := img.Attr(attr)
			if !ok || strings.TrimSpace(val) == "" {
				continue
			}
			if strings.HasSuffix(attr, "srcset") {
				val = PickSrcset(val, maxWidth)
			}
			c.add(val, hint, bonus, func(u string, kind models.Kind) bool {
				return kind == models.KindImage && !kw.LooksLikeLogo(u)
			})
		}
	})

	// Inline style backgrounds.
	styleBonus := stylePlainBonus
	if topicalPage {
		styleBonus = styleTopicalBonus
	}
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		class, _ := s.Attr("class")
		for _, m := range styleURLRe.FindAllStringSubmatch(style, -1) {
			raw := strings.Trim(strings.TrimSpace(m[1]), `'"`)
			c.add(raw, "style "+class, styleBonus, func(u string, kind models.Kind) bool {
				return kind.IsAsset() && !kw.LooksLikeLogo(u)
			})
		}
	})

	// Script-driven links only count with a topic word or an asset extension.
	scripted := func(u string, kind models.Kind) bool { return kind.IsAsset() || kw.HasTopic(u) }

	doc.Find("[data-href],[data-url],[data-link],[data-src],[data-file]").Each(func(_ int, s *goquery.Selection) {
		text := utils.Truncate(collapseSpace(s.Text()), maxAnchorText)
		for _, attr := range dataAttrs {
			if val, ok := s.Attr(attr); ok {
				c.add(val, text+" "+attr, dataAttrBonus, scripted)
			}
		}
	})

	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		js, _ := s.Attr("onclick")
		text := utils.Truncate(collapseSpace(s.Text()), maxAnchorText)
		for _, re := range []*regexp.Regexp{onclickHrefRe, onclickOpenRe} {
			for _, m := range re.FindAllStringSubmatch(js, -1) {
				c.add(m[1], text+" onclick", onclickBonus, scripted)
			}
		}
	})

	doc.Find("script:not([src])").Each(func(_ int, s *goquery.Selection) {
		for _, raw := range scriptURLRe.FindAllString(s.Text(), -1) {
			raw = strings.TrimRight(raw, ".,;:!")
			c.add(raw, "script", scriptBonus, scripted)
		}
	})

	return c.out
}

// PickSrcset chooses from a srcset attribute: the largest width not above
// maxWidth, else the largest width, else the first entry.
func PickSrcset(srcset string, maxWidth int) string {
	type candidate struct {
		url   string
		width int
	}
	var all []candidate
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		c := candidate{url: fields[0]}
		if len(fields) > 1 && strings.HasSuffix(fields[1], "w") {
			if w, err := strconv.Atoi(strings.TrimSuffix(fields[1], "w")); err == nil {
				c.width = w
			}
		}
		all = append(all, c)
	}
	if len(all) == 0 {
		return ""
	}

	best, bestUnder := -1, -1
	for i, c := range all {
		if c.width <= 0 {
			continue
		}
		if best < 0 || c.width > all[best].width {
			best = i
		}
		if c.width <= maxWidth && (bestUnder < 0 || c.width > all[bestUnder].width) {
			bestUnder = i
		}
	}
	switch {
	case bestUnder >= 0:
		return all[bestUnder].url
	case best >= 0:
		return all[best].url
	}
	return all[0].url
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
