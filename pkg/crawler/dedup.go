package crawler

import (
	"sort"

	"github.com/piratf/kampus-crawler/pkg/models"
)

// Dedupe keeps one candidate per (URL, Kind): the highest score, ties broken
// by the smaller context hint, then the smaller source page. The output is
// sorted by URL then Kind, so it does not depend on input order.
func Dedupe(in []models.CandidateLink) []models.CandidateLink {
	best := make(map[string]models.CandidateLink, len(in))
	for _, c := range in {
		k := c.Key()
		cur, ok := best[k]
		if !ok || better(c, cur) {
			best[k] = c
		}
	}

	out := make([]models.CandidateLink, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func better(a, b models.CandidateLink) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.ContextHint != b.ContextHint {
		return a.ContextHint < b.ContextHint
	}
	return a.SourcePage < b.SourcePage
}
