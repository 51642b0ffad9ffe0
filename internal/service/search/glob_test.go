package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobToRegexp_Table(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		match   bool
	}{
		{"*.py", "b.py", true},
		{"*.py", "a/b.py", false},
		{"*.py", "b.pyx", false},
		{"**/*.py", "b.py", true},
		{"**/*.py", "a/b.py", true},
		{"**/*.py", "a/b/c.py", true},
		{"services/**/*.py", "services/api/auth.py", true},
		{"services/**/*.py", "services/auth.py", true},
		{"services/**/*.py", "lib/auth.py", false},
		{"services/**", "services/api/auth.py", true},
		{"services/**", "lib/auth.py", false},
		{"a?c.go", "abc.go", true},
		{"a?c.go", "abbc.go", false},
		{"a.py", "a.py", true},
		{"a.py", "axpy", false},
		{"**", "anything/at/all.txt", true},
	}

	for _, tc := range cases {
		re, err := globToRegexp(tc.pattern)
		require.NoError(t, err, "pattern %q", tc.pattern)
		assert.Equal(t, tc.match, re.MatchString(tc.path),
			"pattern %q against %q", tc.pattern, tc.path)
	}
}
