package masking

import (
	"fmt"
	"regexp"
)

// CompiledPattern is a case-insensitive column-name pattern that marks columns
// as sensitive under declared sensitivity.
type CompiledPattern struct {
	Source string
	Regex  *regexp.Regexp
}

// compilePatterns compiles all sensitive column patterns. Unlike free-text
// masking, a broken pattern here is a configuration error, not a skip.
func compilePatterns(patterns []string) ([]*CompiledPattern, error) {
	out := make([]*CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("%w: sensitive pattern %q: %v", ErrInvalidRule, p, err)
		}
		out = append(out, &CompiledPattern{Source: p, Regex: re})
	}
	return out, nil
}

// matchesAny reports whether column matches one of the compiled patterns.
func matchesAny(patterns []*CompiledPattern, column string) bool {
	for _, p := range patterns {
		if p.Regex.MatchString(column) {
			return true
		}
	}
	return false
}
