package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/fetch"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/oracle"
	"github.com/piratf/kampus-crawler/pkg/parse"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

const (
	maxReasonChars = 500
	maxHintChars   = 300
)

// contentClass is how fetched content is handed to the gate and the extractor.
type contentClass int

const (
	classUnsupported contentClass = iota
	classHTML
	classPDF
	classImage
)

// classify trusts the response over the candidate kind: a document link may
// serve an HTML viewer, a page link may serve a PDF.
func classify(kind models.Kind, res *fetch.Result) contentClass {
	if res.IsHTML() {
		return classHTML
	}
	ct := strings.ToLower(res.ContentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return classPDF
	case strings.HasPrefix(ct, "image/"):
		return classImage
	}
	switch process.SniffKind(res.FinalURL) {
	case models.KindDocument:
		return classPDF
	case models.KindImage:
		return classImage
	}
	switch kind {
	case models.KindDocument:
		return classPDF
	case models.KindImage:
		return classImage
	}
	return classUnsupported
}

func imageMIME(kind models.Kind, res *fetch.Result) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(res.ContentType, ";")[0]))
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return models.KindImage.MIME(res.FinalURL)
}

// validateOne judges a candidate and, for an invalid page, its embedded
// assets. A panic becomes an uncertain verdict and a checkpoint error.
func (r *entityRun) validateOne(ctx context.Context, cand models.CandidateLink, keys map[string]bool) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic: %v", rec)
			r.log.WithField("url", cand.URL).Errorf("Recovered %s\n%s", msg, debug.Stack())
			if !keys[cand.Key()] {
				r.addVerdict(ctx, models.ValidatedLink{
					CandidateLink: cand,
					Verdict:       models.VerdictUncertain,
					Reason:        msg,
					ErrorType:     "Panic",
				}, keys)
			}
			r.recordFault("validate", cand.URL, "Panic", msg)
		}
	}()

	v, res := r.judge(ctx, cand)
	if res == nil && ctx.Err() != nil {
		return // Abandoned by cancellation; judged again on resume
	}
	r.addVerdict(ctx, v, keys)
	if v.Verdict == models.VerdictValid {
		r.contents[cand.URL] = res
		return
	}
	if v.Verdict == models.VerdictInvalid && cand.Kind == models.KindPage && res != nil && res.IsHTML() {
		r.fallbackAssets(ctx, cand, res, keys)
	}
}

// addVerdict records v, its metrics and, for faults, a checkpoint error.
func (r *entityRun) addVerdict(ctx context.Context, v models.ValidatedLink, keys map[string]bool) {
	r.cp.Validated = append(r.cp.Validated, v)
	keys[v.Key()] = true
	metrics.Verdicts.WithLabelValues(string(v.Verdict), string(v.Kind)).Inc()
	if v.ErrorType != "" && v.ErrorType != "Panic" {
		r.recordFault("validate", v.URL, v.ErrorType, v.Reason)
	}
	r.log.WithFields(logrus.Fields{
		"url":     v.URL,
		"kind":    v.Kind,
		"verdict": v.Verdict,
		"parent":  v.ParentURL,
	}).Info("Validation result")
	r.tick(ctx)
}

// judge fetches the candidate and asks the gate for a verdict. The fetch
// result is returned for reuse when the fetch succeeded.
func (r *entityRun) judge(ctx context.Context, cand models.CandidateLink) (models.ValidatedLink, *fetch.Result) {
	v := models.ValidatedLink{CandidateLink: cand}

	res, err := r.p.fetcher.Fetch(ctx, cand.URL)
	r.fetched++
	if err == nil && (res == nil || !res.OK) {
		status := 0
		if res != nil {
			status = res.Status
		}
		err = fmt.Errorf("%w: %s answered status %d", utils.ErrFetchFailure, cand.URL, status)
	}
	if err != nil {
		return fetchFailed(v, err), nil
	}
	v.FetchMode = res.Mode

	var vr oracle.VerdictResult
	switch classify(cand.Kind, res) {
	case classHTML:
		text, perr := process.PageText(string(res.Content))
		if perr != nil {
			return fault(v, perr), res
		}
		vr, err = r.p.gate.ValidateText(ctx, text)
	case classPDF:
		vr, err = r.p.gate.ValidateDocument(ctx, res.Content)
	case classImage:
		vr, err = r.p.gate.ValidateBytes(ctx, res.Content, imageMIME(cand.Kind, res))
	default:
		vr = oracle.VerdictResult{
			Verdict: models.VerdictInvalid,
			Reason:  fmt.Sprintf("unsupported content type '%s'", res.ContentType),
		}
	}

	v.Verdict = vr.Verdict
	v.Reason = utils.Truncate(vr.Reason, maxReasonChars)
	v.EvidenceSnippet = vr.EvidenceSnippet
	if err != nil {
		v.ErrorType = utils.CategorizeError(err)
	}
	return v, res
}

// fetchFailed marks a candidate that could not be fetched as invalid. ErrorType
// keeps it apart from a content judgment.
func fetchFailed(v models.ValidatedLink, err error) models.ValidatedLink {
	v.Verdict = models.VerdictInvalid
	v.Reason = utils.Truncate("fetch failed: "+err.Error(), maxReasonChars)
	v.ErrorType = utils.CategorizeError(err)
	return v
}

func fault(v models.ValidatedLink, err error) models.ValidatedLink {
	v.Verdict = models.VerdictUncertain
	v.Reason = utils.Truncate(err.Error(), maxReasonChars)
	v.ErrorType = utils.CategorizeError(err)
	return v
}

// fallbackAssets validates the best-scoring documents and images embedded in
// an invalid page. Each gets its own verdict with ParentURL set to the page.
func (r *entityRun) fallbackAssets(ctx context.Context, page models.CandidateLink, res *fetch.Result, keys map[string]bool) {
	base := res.FinalURL
	if base == "" {
		base = page.URL
	}
	var assets []process.Link
	for _, l := range process.ExtractLinks(base, res.Content, r.p.kw, r.p.linkOpts) {
		if !l.Kind.IsAsset() || r.p.kw.LooksLikeLogo(l.URL) {
			continue
		}
		if !parse.SameDomain(l.URL, r.entity.SiteURL) &&
			!parse.AssetAllowed(l.URL, r.entity.SiteURL, r.p.cfg.Keywords.AllowedAssetHosts) {
			continue
		}
		assets = append(assets, l)
	}
	if len(assets) == 0 {
		return
	}
	sort.SliceStable(assets, func(i, j int) bool { return assets[i].Score > assets[j].Score })
	if len(assets) > r.p.cfg.FallbackAssets {
		assets = assets[:r.p.cfg.FallbackAssets]
	}
	r.log.WithField("page", page.URL).Infof("Page invalid, validating %d embedded assets", len(assets))

	for _, l := range assets {
		if ctx.Err() != nil {
			return
		}
		cand := models.CandidateLink{
			EntityID:    r.id,
			URL:         l.URL,
			Kind:        l.Kind,
			SourcePage:  page.URL,
			ContextHint: utils.Truncate(l.Hint, maxHintChars),
			Score:       l.Score,
		}
		if keys[cand.Key()] {
			continue
		}
		v, ares := r.judge(ctx, cand)
		if ares == nil && ctx.Err() != nil {
			return
		}
		v.ParentURL = page.URL
		r.addVerdict(ctx, v, keys)
		if v.Verdict == models.VerdictValid {
			r.contents[cand.URL] = ares
		}
	}
}
