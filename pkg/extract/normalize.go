package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

var (
	nonDigitRe     = regexp.MustCompile(`\D+`)
	zeroDecimalsRe = regexp.MustCompile(`[.,]0{1,2}\s*$`)
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02-01-2006", "02/01/2006", "2 January 2006"}

// NormalizeOptions controls field typing during normalization.
type NormalizeOptions struct {
	NumericFields []string  // String values here are parsed as integers
	DateField     string    // Drives IsActive; empty disables it
	Today         time.Time // Reference date for IsActive
}

// Normalize validates and types one raw item. Items whose name is empty
// after trimming are dropped (ok=false).
func Normalize(raw RawItem, opts NormalizeOptions) (models.ExtractedItem, bool) {
	name := strings.TrimSpace(asString(raw["name"]))
	if name == "" {
		return models.ExtractedItem{}, false
	}

	slug := strings.TrimSpace(asString(raw["slug"]))
	if slug == "" {
		slug = utils.Slugify(name)
	}

	numeric := make(map[string]bool, len(opts.NumericFields))
	for _, f := range opts.NumericFields {
		numeric[f] = true
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "name" || k == "slug" || v == nil {
			continue
		}
		if numeric[k] {
			if n, ok := toInt(v); ok {
				fields[k] = n
			}
			continue
		}
		fields[k] = typed(v)
	}

	item := models.ExtractedItem{Name: name, Slug: slug, Fields: fields}
	if opts.DateField != "" {
		active := IsActive(asString(fields[opts.DateField]), opts.Today)
		item.IsActive = &active
	}
	return item, true
}

// IsActive reports whether an item ending on endDate is still current.
// Missing or unparsable dates count as active.
func IsActive(endDate string, today time.Time) bool {
	endDate = strings.TrimSpace(endDate)
	if endDate == "" {
		return true
	}
	for _, layout := range dateLayouts {
		if end, err := time.Parse(layout, endDate); err == nil {
			y, m, d := today.Date()
			return !end.Before(time.Date(y, m, d, 0, 0, 0, 0, end.Location()))
		}
	}
	return true
}

// toInt parses money-like values: "Rp 3.500.000,00" becomes 3500000.
func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(math.Round(f)), true
		}
	case float64:
		return int64(math.Round(t)), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		s := zeroDecimalsRe.ReplaceAllString(strings.TrimSpace(t), "")
		digits := nonDigitRe.ReplaceAllString(s, "")
		if digits == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// typed converts integral JSON numbers to int64 and other numbers to float64.
func typed(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return int64(f)
		}
		return f
	}
	return n.String()
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	}
	return ""
}
