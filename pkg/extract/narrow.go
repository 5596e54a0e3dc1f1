package extract

import (
	"fmt"
	"strings"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/score"
)

// IsGood reports whether an item carries a value in any good field and names
// a study program or education level.
func IsGood(it models.ExtractedItem, goodFields []string, kw *score.Keywords) bool {
	hasValue := false
	for _, f := range goodFields {
		if v, ok := it.Fields[f]; ok && !emptyValue(v) {
			hasValue = true
			break
		}
	}
	if !hasValue {
		return false
	}
	text := it.Name + " " + fmt.Sprint(it.Fields["description"])
	return kw.HasProgram(text) || kw.HasLevel(text)
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// Narrow keeps the first contiguous run of good items that reaches MinGood.
// Bad items inside a run are skipped while the bad streak stays within
// MaxBadStreak. A longer streak ends the run once it has MinGood items, and
// otherwise discards it. Without any qualifying run, every good item is kept.
func Narrow(items []models.ExtractedItem, cfg config.NarrowConfig, kw *score.Keywords) []models.ExtractedItem {
	var (
		run       []models.ExtractedItem
		allGood   []models.ExtractedItem
		badStreak int
	)
	maxBad := cfg.GetEffectiveMaxBadStreak()

	for _, it := range items {
		if IsGood(it, cfg.GoodFields, kw) {
			run = append(run, it)
			allGood = append(allGood, it)
			badStreak = 0
			continue
		}
		if len(run) == 0 {
			continue
		}
		badStreak++
		if badStreak > maxBad {
			if len(run) >= cfg.MinGood {
				return run
			}
			run = nil
			badStreak = 0
		}
	}

	if len(run) >= cfg.MinGood {
		return run
	}
	return allGood
}
