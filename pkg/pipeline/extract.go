package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/piratf/kampus-crawler/pkg/extract"
	"github.com/piratf/kampus-crawler/pkg/fetch"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/utils"
	"github.com/piratf/kampus-crawler/pkg/validate"
)

// extractOne turns a valid source into items. Failures are recorded in the
// checkpoint and leave the entity running.
func (r *entityRun) extractOne(ctx context.Context, v models.ValidatedLink) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic: %v", rec)
			r.log.WithField("url", v.URL).Errorf("Recovered %s\n%s", msg, debug.Stack())
			r.recordFault("extract", v.URL, "Panic", msg)
		}
	}()

	res := r.contents[v.URL]
	delete(r.contents, v.URL)
	if res == nil {
		var err error
		res, err = r.p.fetcher.Fetch(ctx, v.URL)
		r.fetched++
		if err == nil && (res == nil || !res.OK) {
			err = fmt.Errorf("%w: %s not OK", utils.ErrFetchFailure, v.URL)
		}
		if err != nil {
			r.recordError("extract", v.URL, err)
			return
		}
	}

	raws, err := r.rawItems(ctx, v.Kind, res)
	if err != nil {
		r.log.WithField("url", v.URL).Warnf("Extraction failed: %v", err)
		r.recordError("extract", v.URL, err)
		return
	}

	items := r.p.extractor.Finish(raws, r.entity, r.id, v.URL, v.SourcePage)
	r.cp.Extracted = append(r.cp.Extracted, items...)
	r.log.WithField("url", v.URL).Infof("Extracted %d items", len(items))
	r.tick(ctx)
}

func (r *entityRun) rawItems(ctx context.Context, kind models.Kind, res *fetch.Result) ([]extract.RawItem, error) {
	x := r.p.extractor
	switch classify(kind, res) {
	case classHTML:
		text, err := process.PageText(string(res.Content))
		if err != nil {
			return nil, err
		}
		return x.FromText(ctx, text)
	case classPDF:
		if text, err := process.PDFText(ctx, res.Content, validate.PDFLimits(r.p.cfg.Oracle)); err == nil && r.p.kw.LocalGate(text) {
			return x.FromText(ctx, text)
		}
		return x.FromBytes(ctx, res.Content, "application/pdf")
	case classImage:
		return x.FromBytes(ctx, res.Content, imageMIME(kind, res))
	}
	return nil, fmt.Errorf("%w: unsupported content type '%s'", utils.ErrParsing, res.ContentType)
}
