package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dupi-go/internal/dupi"
)

// defaultIgnorePatterns are always applied regardless of config or .dupiignore.
var defaultIgnorePatterns = []string{IgnoreFileName}

// ignoreRule is one parsed exclude pattern.
type ignoreRule struct {
	glob     string
	anchored bool // matched against the whole relative path, not the basename
	dirOnly  bool // only matches directories
}

func parseRule(raw string) (ignoreRule, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return ignoreRule{}, false
	}
	var r ignoreRule
	if strings.HasSuffix(raw, "/") {
		r.dirOnly = true
		raw = strings.TrimRight(raw, "/")
	}
	if strings.HasPrefix(raw, "/") {
		r.anchored = true
		raw = strings.TrimLeft(raw, "/")
	}
	if strings.Contains(raw, "/") {
		r.anchored = true
	}
	if raw == "" {
		return ignoreRule{}, false
	}
	r.glob = raw
	return r, true
}

// IgnoreMatcher decides which entries below a root are excluded.
//
// Pattern syntax, one per line in .dupiignore:
//
//	*.tmp        basename glob, matches at any depth
//	build/*.o    contains '/', matched against the path relative to the root
//	/scratch     leading '/', anchored to the root
//	cache/       trailing '/', matches directories only
//
// Blank lines and lines starting with '#' are skipped. An excluded
// directory is not descended into.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var rules []ignoreRule
	for _, raw := range rawPatterns {
		if r, ok := parseRule(raw); ok {
			rules = append(rules, r)
		}
	}
	return &IgnoreMatcher{rules: rules}
}

// Match reports whether the entry at relativePath is excluded. isDir tells
// directory-only rules whether they apply.
func (m *IgnoreMatcher) Match(relativePath string, isDir bool) bool {
	if relativePath == "" || len(m.rules) == 0 {
		return false
	}
	rel := filepath.ToSlash(relativePath)
	base := rel[strings.LastIndex(rel, "/")+1:]

	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		subject := base
		if r.anchored {
			subject = rel
		}
		// A malformed glob never matches.
		if ok, _ := filepath.Match(r.glob, subject); ok {
			return true
		}
	}
	return false
}

// ValidatePatterns rejects patterns filepath.Match cannot parse. field
// names their source in the returned ConfigError.
func ValidatePatterns(field string, rawPatterns []string) error {
	var errs []error
	for _, raw := range rawPatterns {
		r, ok := parseRule(raw)
		if !ok {
			continue
		}
		if _, err := filepath.Match(r.glob, ""); err != nil {
			errs = append(errs, fmt.Errorf("bad pattern %q: %w", strings.TrimSpace(raw), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &dupi.ConfigError{Field: field, Reason: err.Error()}
	}
	return nil
}

// ParseIgnoreFile returns the lines of the ignore file at path, or nil if
// there is none.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
