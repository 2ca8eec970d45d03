package sync

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher holds compiled file-selection patterns. A path is selected when
// any pattern matches it in full; an empty pattern list selects everything.
type Matcher struct {
	patterns []*regexp.Regexp
}

// CompileFilters compiles user-supplied glob patterns into a matcher.
//
// Pattern syntax: '*' matches any run of characters except '/', '**'
// matches any run including '/', '?' matches one character except '/';
// everything else is literal. Matching is case-insensitive and anchored at
// both ends. A bare file name (no '/', no wildcards) matches at any depth.
func CompileFilters(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		norm := NormalizePath(strings.TrimSpace(p))
		if norm == "" {
			continue
		}
		if !strings.Contains(norm, "/") && !strings.ContainsAny(norm, "*?") {
			norm = "**/" + norm
		}
		re, err := regexp.Compile(globToRegexp(norm))
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Empty reports whether no patterns were compiled.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// Match reports whether the normalized relative path is selected.
func (m *Matcher) Match(rel string) bool {
	if m.Empty() {
		return true
	}
	norm := NormalizePath(rel)
	for _, re := range m.patterns {
		if re.MatchString(norm) {
			return true
		}
	}
	return false
}

// NormalizePath brings a manifest or pattern path into canonical form:
// forward slashes, no './' prefixes, no leading slash, no repeated slashes.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimPrefix(p, "/")
	return p
}

// globToRegexp translates one normalized glob into an anchored,
// case-insensitive regular expression.
func globToRegexp(glob string) string {
	var sb strings.Builder
	sb.WriteString("(?i)^")
	for i := 0; i < len(glob); i++ {
		switch glob[i] {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					// "**/" also matches zero directories.
					sb.WriteString("(?:.*/)?")
					i += 2
				} else {
					sb.WriteString(".*")
					i++
				}
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(glob[i])))
		}
	}
	sb.WriteString("$")
	return sb.String()
}
