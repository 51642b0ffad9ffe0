package search

import (
	"regexp"
	"strings"

	"cortex-backend/pkg/errors"
)

// globToRegexp translates a path glob into an anchored regular expression.
// `**/` matches zero or more whole path segments, a trailing `**` matches
// any suffix, `*` matches within one segment, `?` matches one character.
// `a/b.py` therefore matches `**/*.py` but not `*.py`.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				if i+2 < len(runes) && runes[i+2] == '/' {
					b.WriteString(`(?:[^/]+/)*`)
					i += 2
				} else {
					b.WriteString(`.*`)
					i++
				}
			} else {
				b.WriteString(`[^/]*`)
			}
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.NewInvalidInput("invalid path_glob pattern: " + pattern).
			WithCause(err).WithComponent(component)
	}
	return re, nil
}
