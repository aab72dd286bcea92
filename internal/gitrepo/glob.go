package gitrepo

import (
	"regexp"
	"strings"
)

// GlobSet matches paths against a set of shell-style globs. '*' crosses
// path separators, '**/' matches zero or more whole segments, and '?'
// matches a single character. Patterns that fail to compile are dropped.
type GlobSet struct {
	res []*regexp.Regexp
}

// NewGlobSet compiles patterns into a GlobSet.
func NewGlobSet(patterns []string) *GlobSet {
	g := &GlobSet{}
	for _, p := range patterns {
		re, err := regexp.Compile(globToRegex(p))
		if err != nil {
			continue
		}
		g.res = append(g.res, re)
	}
	return g
}

// Match reports whether path matches any pattern in the set.
func (g *GlobSet) Match(path string) bool {
	for _, re := range g.res {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no usable patterns.
func (g *GlobSet) Empty() bool {
	return len(g.res) == 0
}

// globToRegex converts a shell-style glob to an anchored regex string.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); {
		// "**/" may match nothing at all, so "src/**/*.ts" covers
		// files directly under src/ as well.
		if strings.HasPrefix(glob[i:], "**/") {
			b.WriteString("(?:.*/)?")
			i += 3
			continue
		}
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '[', ']', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
		i++
	}
	b.WriteString("$")
	return b.String()
}
