package extract

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/oracle"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/score"
)

// Extractor asks the oracle for structured items and post-processes them.
type Extractor struct {
	oracle    oracle.Oracle
	kw        *score.Keywords
	prompt    string
	maxTokens int
	maxChunks int
	narrow    config.NarrowConfig
	now       func() time.Time
	log       *logrus.Entry
}

// NewExtractor creates an extractor from the oracle and narrowing config.
func NewExtractor(o oracle.Oracle, kw *score.Keywords, ocfg config.OracleConfig, ncfg config.NarrowConfig, log *logrus.Entry) *Extractor {
	return &Extractor{
		oracle:    o,
		kw:        kw,
		prompt:    ocfg.ExtractPrompt,
		maxTokens: ocfg.MaxExtractTokens,
		maxChunks: ocfg.MaxExtractChunks,
		narrow:    ncfg,
		now:       time.Now,
		log:       log.WithField("component", "extract"),
	}
}

// FromText extracts raw items from page text. Text over the token bound is
// split on headings and sent in up to maxChunks calls; items keep chunk order.
func (x *Extractor) FromText(ctx context.Context, text string) ([]RawItem, error) {
	chunks := []string{text}
	if x.maxChunks > 1 && x.maxTokens > 0 && process.CountTokens(text) > x.maxTokens {
		if parts, err := process.SplitTokens(text, x.maxTokens); err == nil && len(parts) > 0 {
			if len(parts) > x.maxChunks {
				x.log.WithFields(logrus.Fields{"chunks": len(parts), "kept": x.maxChunks}).Debug("Dropping trailing chunks")
				parts = parts[:x.maxChunks]
			}
			chunks = parts
		}
	}

	head := oracle.RenderPrompt(x.prompt, x.now()) + "\n\nCONTENT:\n"
	var out []RawItem
	for _, chunk := range chunks {
		raw, err := x.oracle.GenerateText(ctx, head+process.BoundTokens(chunk, x.maxTokens))
		if err != nil {
			return nil, err
		}
		items, err := Coerce(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// FromBytes extracts raw items from an asset.
func (x *Extractor) FromBytes(ctx context.Context, data []byte, mime string) ([]RawItem, error) {
	raw, err := x.oracle.GenerateWithBytes(ctx, oracle.RenderPrompt(x.prompt, x.now()), data, mime)
	if err != nil {
		return nil, err
	}
	return Coerce(raw)
}

// Finish normalizes, narrows and enriches raw items from one source.
func (x *Extractor) Finish(raws []RawItem, e models.Entity, entityID, sourceURL, sourcePage string) []models.ExtractedItem {
	opts := NormalizeOptions{
		NumericFields: x.narrow.NumericFields,
		DateField:     x.narrow.DateField,
		Today:         x.now(),
	}

	items := make([]models.ExtractedItem, 0, len(raws))
	for _, r := range raws {
		if it, ok := Normalize(r, opts); ok {
			items = append(items, it)
		}
	}
	narrowed := Narrow(items, x.narrow, x.kw)

	out := make([]models.ExtractedItem, 0, len(narrowed))
	for _, it := range narrowed {
		it = Enrich(it, e, entityID)
		it.SourceURL = sourceURL
		it.SourcePage = sourcePage
		out = append(out, it)
	}

	x.log.WithFields(logrus.Fields{
		"source": sourceURL,
		"raw":    len(raws),
		"normal": len(items),
		"kept":   len(out),
	}).Debug("Extraction post-processed")
	metrics.ItemsExtracted.Add(float64(len(out)))
	return out
}
