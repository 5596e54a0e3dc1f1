package score

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/piratf/kampus-crawler/pkg/detect"
)

// Page score weights.
const (
	moneyOrDatePoints = 2.0
	topicPoints       = 1.0
	topicCap          = 4
	programPoints     = 1.0
	levelPoints       = 1.0
	tableRowsLow      = 5
	tableRowsHigh     = 20
	tableLowPoints    = 1.5
	tableHighPoints   = 3.0
	widgetPoints      = 1.5
	noisePenalty      = 0.5
	noiseCap          = 3
)

var pageDetector = detect.NewDetector(nil)

// PageText returns the visible text of a parsed page, scripts and styles removed.
func PageText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	clone := body.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(clone.Text()), " ")
}

// ScorePage rates how likely a page carries the target facts.
func (k *Keywords) ScorePage(doc *goquery.Document, html string) float64 {
	return k.ScorePageWith(doc, html, pageDetector.Detect(doc, html, nil))
}

// ScorePageWith is ScorePage with widget detection already done by the caller.
func (k *Keywords) ScorePageWith(doc *goquery.Document, html string, det detect.DetectionResult) float64 {
	text := PageText(doc)
	score := 0.0

	if k.HasMoney(text) || k.HasDate(text) {
		score += moneyOrDatePoints
	}
	score += topicPoints * float64(min(k.CountTopics(text), topicCap))
	if k.HasProgram(text) {
		score += programPoints
	}
	if k.HasLevel(text) {
		score += levelPoints
	}

	rows := doc.Find("tr").Length()
	switch {
	case rows >= tableRowsHigh:
		score += tableHighPoints
	case rows >= tableRowsLow:
		score += tableLowPoints
	}

	if det.TableWidget {
		score += widgetPoints
	}

	score -= noisePenalty * float64(min(k.CountNoise(text), noiseCap))
	return score
}
