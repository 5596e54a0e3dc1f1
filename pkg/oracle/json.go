package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// StripFences removes a surrounding Markdown code fence and a leading
// "json" label from an oracle answer.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	for _, label := range []string{"json:", "JSON:", "json\n", "JSON\n"} {
		if strings.HasPrefix(s, label) {
			s = strings.TrimSpace(s[len(label):])
		}
	}
	return s
}

// FirstBalanced returns the first balanced {...} or [...] in s, skipping
// brackets inside JSON strings.
func FirstBalanced(s string) (string, bool) {
	var found string
	ok := eachBalanced(s, "{[", func(span string) bool {
		found = span
		return true
	})
	return found, ok
}

// eachBalanced calls fn with every balanced span of s that opens with one of
// the bytes in opens, in order of the opening bracket, until fn returns true.
func eachBalanced(s, opens string, fn func(span string) bool) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(opens, s[i]) < 0 {
			continue
		}
		if end := balancedEnd(s, i); end > 0 && fn(s[i:end]) {
			return true
		}
	}
	return false
}

// balancedEnd returns the index just past the bracket closing s[start], or -1.
func balancedEnd(s string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return -1
			}
			open := stack[len(stack)-1]
			if (open == '{' && c != '}') || (open == '[' && c != ']') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// DecodeLenient decodes the JSON value in an oracle answer: strict first,
// then the first balanced object or array that decodes. Numbers decode as
// json.Number.
func DecodeLenient(raw string) (any, error) {
	s := StripFences(raw)
	if v, err := decodeStrict(s); err == nil {
		return v, nil
	}
	var v any
	if eachBalanced(s, "{[", func(span string) bool {
		var err error
		v, err = decodeStrict(span)
		return err == nil
	}) {
		return v, nil
	}
	return nil, noJSON(raw)
}

// DecodeObject is DecodeLenient restricted to a JSON object. Bracketed prose
// before the object, such as "[ringkas]", is skipped.
func DecodeObject(raw string) (map[string]any, error) {
	s := StripFences(raw)
	if v, err := decodeStrict(s); err == nil {
		if obj, ok := v.(map[string]any); ok {
			return obj, nil
		}
	}
	var obj map[string]any
	if eachBalanced(s, "{", func(span string) bool {
		v, err := decodeStrict(span)
		obj, _ = v.(map[string]any)
		return err == nil && obj != nil
	}) {
		return obj, nil
	}
	return nil, noJSON(raw)
}

func noJSON(raw string) error {
	return fmt.Errorf("%w: no JSON value in oracle answer (%s)", utils.ErrParsing, utils.Truncate(strings.TrimSpace(raw), 80))
}

func decodeStrict(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

// VerdictResult is a parsed validation answer.
type VerdictResult struct {
	Verdict         models.Verdict
	Reason          string
	EvidenceSnippet string
}

// ParseVerdict reads {"is_valid", "reason", "evidence_snippet"} leniently.
// Anything unreadable is uncertain with the raw answer as evidence.
func ParseVerdict(raw string) VerdictResult {
	obj, err := DecodeObject(raw)
	if err != nil {
		return VerdictResult{
			Verdict:         models.VerdictUncertain,
			Reason:          "unparsable oracle answer",
			EvidenceSnippet: utils.Truncate(strings.TrimSpace(raw), 200),
		}
	}

	valid, known := truthy(obj["is_valid"])
	if !known {
		valid, known = truthy(obj["valid"])
	}
	if !known {
		return VerdictResult{
			Verdict:         models.VerdictUncertain,
			Reason:          "oracle answer has no is_valid field",
			EvidenceSnippet: utils.Truncate(strings.TrimSpace(raw), 200),
		}
	}

	res := VerdictResult{
		Verdict:         models.VerdictInvalid,
		Reason:          stringField(obj, "reason"),
		EvidenceSnippet: utils.Truncate(stringField(obj, "evidence_snippet"), 200),
	}
	if valid {
		res.Verdict = models.VerdictValid
	}
	return res
}

// truthy interprets booleans and their common string spellings.
func truthy(v any) (value, known bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "valid", "ya":
			return true, true
		case "false", "no", "invalid", "tidak":
			return false, true
		}
	case json.Number:
		return t.String() != "0", true
	}
	return false, false
}

func stringField(obj map[string]any, key string) string {
	switch t := obj[key].(type) {
	case string:
		return strings.TrimSpace(t)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
