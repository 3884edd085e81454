// Package match selects namespace entries by glob patterns over their path
// below a listing root, and by entry attributes.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude patterns against relative paths
// such as "2024/01/report.csv". It is safe for concurrent use.
type Matcher struct {
	includes      []string
	excludes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are patterns of which a path must match at least one. An
	// empty list matches every path.
	Includes []string

	// Excludes are patterns no path may match.
	Excludes []string

	// IncludeHidden matches paths with a segment starting with ".".
	IncludeHidden bool
}

// ErrInvalidPattern is returned for a pattern doublestar cannot compile.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError names the pattern that failed.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error { return e.Err }

// New compiles cfg. Leading "/" is stripped from every pattern.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	return &Matcher{includes: includes, excludes: excludes, includeHidden: cfg.IncludeHidden}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p == "" {
			continue
		}
		n := strings.TrimPrefix(p, "/")
		if !doublestar.ValidatePattern(n) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, n)
	}
	return out, nil
}

// Match reports whether rel is selected.
func (m *Matcher) Match(rel string) bool {
	if !m.includeHidden && IsHidden(rel) {
		return false
	}
	if len(m.includes) > 0 && !anyMatch(m.includes, rel) {
		return false
	}
	return !anyMatch(m.excludes, rel)
}

// Recursive reports whether any include pattern can match below the first
// level, so that a listing has to descend to find every match.
func (m *Matcher) Recursive() bool {
	for _, p := range m.includes {
		if strings.Contains(p, "/") || strings.Contains(p, "**") {
			return true
		}
	}
	return false
}

// MayContain reports whether the directory rel can hold a selected path.
// It is conservative: true means "maybe".
func (m *Matcher) MayContain(rel string) bool {
	if !m.includeHidden && IsHidden(rel) {
		return false
	}
	for _, p := range m.excludes {
		if base, ok := strings.CutSuffix(p, "/**"); ok && matches(base, rel) {
			return false
		}
	}
	if len(m.includes) == 0 {
		return true
	}
	dir := rel + "/"
	for _, p := range m.includes {
		prefix := DerivePrefix(p)
		if strings.HasPrefix(dir, prefix) || strings.HasPrefix(prefix, dir) {
			return true
		}
	}
	return false
}

// Includes returns the compiled include patterns.
func (m *Matcher) Includes() []string { return append([]string(nil), m.includes...) }

// Excludes returns the compiled exclude patterns.
func (m *Matcher) Excludes() []string { return append([]string(nil), m.excludes...) }

// IsHidden reports whether any segment of rel starts with ".".
func IsHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func anyMatch(patterns []string, rel string) bool {
	for _, p := range patterns {
		if matches(p, rel) {
			return true
		}
	}
	return false
}

func matches(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}
