// Package toolfilter decides which tool executions are worth capturing.
//
// Patterns are case-insensitive glob strings where `*` matches any run of
// characters and a bare `*` matches everything. Exclude patterns always win
// over include patterns, and an empty include set means "capture all".
package toolfilter

import (
	"regexp"
	"strings"
)

// matcherKind discriminates the compiled pattern variants.
type matcherKind int

const (
	matchAll matcherKind = iota
	matchExact
	matchGlob
)

// matcher is one compiled pattern. Exactly one representation is populated
// for its kind: exact holds the lowercased literal, re holds the anchored
// regex compiled from the glob.
type matcher struct {
	kind  matcherKind
	exact string
	re    *regexp.Regexp
}

func (m matcher) matches(name string) bool {
	switch m.kind {
	case matchAll:
		return true
	case matchExact:
		return name == m.exact
	case matchGlob:
		return m.re.MatchString(name)
	}
	return false
}

// Filter is a compiled include/exclude predicate over tool names.
type Filter struct {
	include []matcher
	exclude []matcher

	includePatterns []string
	excludePatterns []string
}

// New compiles the given pattern sets into a Filter.
//
// Malformed patterns (empty after trimming, or globs that fail to compile)
// are dropped silently so that one bad entry never disables filtering as a
// whole. New never fails.
func New(include, exclude []string) *Filter {
	f := &Filter{}
	f.include, f.includePatterns = compile(include)
	f.exclude, f.excludePatterns = compile(exclude)
	return f
}

// compile turns raw pattern strings into matchers, returning the patterns
// that survived compilation alongside.
func compile(patterns []string) ([]matcher, []string) {
	matchers := make([]matcher, 0, len(patterns))
	kept := make([]string, 0, len(patterns))

	for _, raw := range patterns {
		p := strings.ToLower(strings.TrimSpace(raw))
		if p == "" {
			continue
		}

		m, ok := compileOne(p)
		if !ok {
			continue
		}
		matchers = append(matchers, m)
		kept = append(kept, p)
	}
	return matchers, kept
}

func compileOne(p string) (matcher, bool) {
	if p == "*" {
		return matcher{kind: matchAll}, true
	}
	if !strings.Contains(p, "*") {
		return matcher{kind: matchExact, exact: p}, true
	}

	// Escape everything except the wildcard, then anchor.
	parts := strings.Split(p, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := "^" + strings.Join(parts, ".*") + "$"

	re, err := regexp.Compile(expr)
	if err != nil {
		return matcher{}, false
	}
	return matcher{kind: matchGlob, re: re}, true
}

// ShouldProcess reports whether a tool result with the given tool name
// should enter the capture pipeline.
func (f *Filter) ShouldProcess(toolName string) bool {
	name := strings.ToLower(strings.TrimSpace(toolName))
	if name == "" {
		return false
	}

	for _, m := range f.exclude {
		if m.matches(name) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}
	for _, m := range f.include {
		if m.matches(name) {
			return true
		}
	}
	return false
}

// Patterns returns the include and exclude patterns that survived
// compilation, for logging and introspection.
func (f *Filter) Patterns() (include, exclude []string) {
	return append([]string(nil), f.includePatterns...), append([]string(nil), f.excludePatterns...)
}
