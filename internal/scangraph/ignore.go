package scangraph

import (
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultIgnore are excluded from every scan; user rules may negate them.
var DefaultIgnore = []string{
	".git/",
	".bdk/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"target/",
	"__pycache__/",
}

type rule struct {
	pattern  string
	re       *regexp.Regexp
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher applies gitignore-like rules with "last rule wins" behavior.
type Matcher struct {
	rules []rule
}

// NewMatcher builds a matcher from user rules; DefaultIgnore is prepended.
func NewMatcher(userRules []string) *Matcher {
	all := make([]string, 0, len(DefaultIgnore)+len(userRules))
	all = append(all, DefaultIgnore...)
	all = append(all, userRules...)

	rules := make([]rule, 0, len(all))
	for _, line := range all {
		if parsed, ok := parseRule(line); ok {
			rules = append(rules, parsed)
		}
	}
	return &Matcher{rules: rules}
}

// Rules returns the normalized rule lines, used in the cache key.
func (m *Matcher) Rules() []string {
	out := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		line := r.pattern
		if r.anchored {
			line = "/" + line
		}
		if r.dirOnly {
			line += "/"
		}
		if r.negated {
			line = "!" + line
		}
		out = append(out, line)
	}
	return out
}

// ShouldIgnore returns true when relPath should be excluded.
func (m *Matcher) ShouldIgnore(relPath string, isDir bool) bool {
	relPath = normalizePath(relPath)
	ignored := false
	for _, r := range m.rules {
		if r.matches(relPath, isDir) {
			ignored = !r.negated
		}
	}
	return ignored
}

func parseRule(line string) (rule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	parsed := rule{}
	if strings.HasPrefix(line, "!") {
		parsed.negated = true
		line = strings.TrimPrefix(line, "!")
	}
	if strings.HasPrefix(line, "/") {
		parsed.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if strings.HasSuffix(line, "/") {
		parsed.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	line = normalizePath(line)
	if line == "" {
		return rule{}, false
	}
	parsed.pattern = line
	parsed.re = regexp.MustCompile("^" + globToRegex(line) + "$")
	return parsed, true
}

func (r rule) matches(relPath string, isDir bool) bool {
	parts := strings.Split(relPath, "/")
	limit := len(parts)
	if r.dirOnly && !isDir {
		// the last element is a file; only its parent directories count
		limit--
	}
	for i := 0; i < limit; i++ {
		if r.matchAt(parts, i) {
			return true
		}
	}
	return false
}

// matchAt tests the rule against the i-th element of the path. Rules with a
// slash are anchored at the root like in gitignore.
func (r rule) matchAt(parts []string, i int) bool {
	if r.anchored || strings.Contains(r.pattern, "/") {
		return r.re.MatchString(strings.Join(parts[:i+1], "/"))
	}
	return r.re.MatchString(parts[i])
}

func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]

		if ch == '*' {
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
			continue
		}

		if ch == '?' {
			b.WriteString("[^/]")
			continue
		}

		if strings.ContainsRune(`.+()|[]{}^$\`, rune(ch)) {
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func normalizePath(path string) string {
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")
	return path
}
