// Package score holds the deployment vocabulary and the relevance scoring built on it.
package score

import (
	"regexp"
	"strings"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

var separatorRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Keywords is the compiled vocabulary of one deployment.
type Keywords struct {
	topic            []string
	noise            []string
	entry            []string
	hardReject       []string
	hardRejectExempt []string
	logoWords        []string

	topicRe   *regexp.Regexp
	programRe *regexp.Regexp
	levelRe   *regexp.Regexp
	moneyRe   *regexp.Regexp
	dateRes   []*regexp.Regexp

	TopicWeight       float64
	NoiseWeight       float64
	AllowedAssetHosts []string
}

// New compiles a validated KeywordsConfig.
func New(cfg config.KeywordsConfig) (*Keywords, error) {
	k := &Keywords{
		topic:             normalizeList(cfg.Topic),
		noise:             normalizeList(cfg.Noise),
		entry:             normalizeList(cfg.Entry),
		hardReject:        lowerList(cfg.HardReject),
		hardRejectExempt:  lowerList(cfg.HardRejectExempt),
		logoWords:         lowerList(cfg.LogoWords),
		TopicWeight:       cfg.TopicWeight,
		NoiseWeight:       cfg.NoiseWeight,
		AllowedAssetHosts: cfg.AllowedAssetHosts,
	}
	for _, p := range []struct {
		key  string
		expr string
		dst  **regexp.Regexp
	}{
		{"keywords.topic_pattern", cfg.TopicPattern, &k.topicRe},
		{"keywords.program_pattern", cfg.ProgramPattern, &k.programRe},
		{"keywords.level_pattern", cfg.LevelPattern, &k.levelRe},
		{"keywords.money_pattern", cfg.MoneyPattern, &k.moneyRe},
	} {
		re, err := utils.CompilePattern(p.key, p.expr)
		if err != nil {
			return nil, err
		}
		*p.dst = re
	}

	dates, err := utils.CompilePatterns("keywords.date_patterns", cfg.DatePatterns...)
	if err != nil {
		return nil, err
	}
	k.dateRes = dates
	return k, nil
}

// Default returns the compiled default vocabulary. Panics only if the built-in patterns are broken.
func Default() *Keywords {
	k, err := New(config.DefaultKeywordsConfig())
	if err != nil {
		panic(err)
	}
	return k
}

// NormalizeHint lowercases text and folds separators to single spaces,
// so "biaya-kuliah" and "Biaya_Kuliah" both read "biaya kuliah".
func NormalizeHint(text string) string {
	return strings.TrimSpace(separatorRe.ReplaceAllString(strings.ToLower(text), " "))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		n := NormalizeHint(s)
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func lowerList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func countContained(norm string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(norm, w) {
			n++
		}
	}
	return n
}

// HasTopic reports topic signal: the topic pattern or any topic keyword.
func (k *Keywords) HasTopic(text string) bool {
	if k.topicRe.MatchString(text) {
		return true
	}
	return countContained(NormalizeHint(text), k.topic) > 0
}

// HasNoise reports whether any noise keyword occurs in text.
func (k *Keywords) HasNoise(text string) bool {
	return countContained(NormalizeHint(text), k.noise) > 0
}

// ScoreHint is the lexical score of a link hint (anchor text, URL, alt text):
// +TopicWeight per topic keyword, -NoiseWeight per noise keyword.
func (k *Keywords) ScoreHint(text string) float64 {
	norm := NormalizeHint(text)
	return float64(countContained(norm, k.topic))*k.TopicWeight -
		float64(countContained(norm, k.noise))*k.NoiseWeight
}

func (k *Keywords) HasMoney(text string) bool   { return k.moneyRe.MatchString(text) }
func (k *Keywords) HasProgram(text string) bool { return k.programRe.MatchString(text) }
func (k *Keywords) HasLevel(text string) bool   { return k.levelRe.MatchString(text) }

// HasDate reports whether any date or date-range pattern matches.
func (k *Keywords) HasDate(text string) bool {
	for _, re := range k.dateRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// LocalGate is the cheap pre-check run before any oracle call:
// (money or date) and topic and (program or level).
func (k *Keywords) LocalGate(text string) bool {
	if !k.HasMoney(text) && !k.HasDate(text) {
		return false
	}
	if !k.HasTopic(text) {
		return false
	}
	return k.HasProgram(text) || k.HasLevel(text)
}

// EntryScore rates a link as a crawl root: +2 per entry keyword in URL or hint.
func (k *Keywords) EntryScore(text string) float64 {
	return 2.0 * float64(countContained(NormalizeHint(text), k.entry))
}

// HardRejected reports URLs the crawler never follows. Exempt words
// (schedules, timelines) and topic words override the reject list.
func (k *Keywords) HardRejected(u string) bool {
	low := strings.ToLower(u)
	for _, ex := range k.hardRejectExempt {
		if strings.Contains(low, ex) {
			return false
		}
	}
	if k.HasTopic(u) {
		return false
	}
	for _, r := range k.hardReject {
		if strings.Contains(low, r) {
			return true
		}
	}
	return false
}

// LooksLikeLogo reports decoration images (logo, favicon, sprite...) without topic signal.
func (k *Keywords) LooksLikeLogo(u string) bool {
	low := strings.ToLower(u)
	for _, w := range k.logoWords {
		if strings.Contains(low, w) {
			return !k.HasTopic(u)
		}
	}
	return false
}

// CountTopics returns how many distinct topic keywords occur in text.
func (k *Keywords) CountTopics(text string) int {
	return countContained(NormalizeHint(text), k.topic)
}

// CountNoise returns how many distinct noise keywords occur in text.
func (k *Keywords) CountNoise(text string) int {
	return countContained(NormalizeHint(text), k.noise)
}

// TopicWords returns the normalized topic keywords.
func (k *Keywords) TopicWords() []string {
	return append([]string(nil), k.topic...)
}
