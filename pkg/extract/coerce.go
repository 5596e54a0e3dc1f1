// Package extract turns oracle extraction answers into normalized, narrowed
// and entity-enriched items.
package extract

import (
	"fmt"
	"strings"

	"github.com/piratf/kampus-crawler/pkg/oracle"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// RawItem is one decoded object from the oracle, before normalization.
type RawItem map[string]any

// Wrapper keys checked, in order, when the oracle answers with an object.
var listKeys = []string{"items", "data", "results", "records", "rows", "fees", "schedules", "entries"}

// Coerce reads an extraction answer of any JSON shape into a list of items.
// It fails with utils.ErrOracleFault only when no JSON value can be found.
func Coerce(raw string) ([]RawItem, error) {
	v, err := oracle.DecodeLenient(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: extraction answer: %w", utils.ErrOracleFault, err)
	}
	return coerceValue(v, true), nil
}

func coerceValue(v any, allowNested bool) []RawItem {
	switch t := v.(type) {
	case []any:
		return fromArray(t)

	case map[string]any:
		for _, k := range listKeys {
			if arr, ok := t[k].([]any); ok {
				return fromArray(arr)
			}
		}
		if _, ok := t["name"]; ok {
			return []RawItem{RawItem(t)}
		}
		return []RawItem{}

	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return []RawItem{}
		}
		if allowNested {
			if nested, err := oracle.DecodeLenient(s); err == nil {
				switch nested.(type) {
				case []any, map[string]any:
					return coerceValue(nested, false)
				}
			}
		}
		return []RawItem{{"name": s}}
	}
	return []RawItem{}
}

func fromArray(arr []any) []RawItem {
	out := make([]RawItem, 0, len(arr))
	for _, el := range arr {
		switch t := el.(type) {
		case map[string]any:
			out = append(out, RawItem(t))
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out = append(out, RawItem{"name": s})
			}
		}
	}
	return out
}
