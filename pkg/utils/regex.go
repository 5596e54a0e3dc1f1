package utils

import (
	"fmt"
	"regexp"
)

// CompilePatterns compiles the regexps configured under key, skipping empty
// entries. The error names the config key, and the index when there are
// several, e.g. "keywords.date_patterns[1]".
func CompilePatterns(key string, exprs ...string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for i, expr := range exprs {
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			where := key
			if len(exprs) > 1 {
				where = fmt.Sprintf("%s[%d]", key, i)
			}
			return nil, fmt.Errorf("%w: %s: invalid pattern %q: %v", ErrConfigValidation, where, expr, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// CompilePattern compiles one required pattern.
func CompilePattern(key, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrConfigValidation, key)
	}
	compiled, err := CompilePatterns(key, expr)
	if err != nil {
		return nil, err
	}
	return compiled[0], nil
}
