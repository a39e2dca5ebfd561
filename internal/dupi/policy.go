package dupi

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SelectionPolicy chooses the canonical copy among a set of records.
// Implementations must be deterministic: ties are broken by path.
type SelectionPolicy interface {
	Name() string
	Choose(members []*FileRecord) *FileRecord
}

// chooseBy returns the member ordered first by cmp, falling back to
// lexicographic path order.
func chooseBy(members []*FileRecord, cmp func(a, b *FileRecord) int) *FileRecord {
	var best *FileRecord
	for _, m := range members {
		if best == nil {
			best = m
			continue
		}
		c := cmp(m, best)
		if c < 0 || (c == 0 && m.Path < best.Path) {
			best = m
		}
	}
	return best
}

// OldestPolicy keeps the member with the earliest modification time.
type OldestPolicy struct{}

func (OldestPolicy) Name() string { return "oldest" }

func (OldestPolicy) Choose(members []*FileRecord) *FileRecord {
	return chooseBy(members, func(a, b *FileRecord) int { return a.ModTime.Compare(b.ModTime) })
}

// NewestPolicy keeps the member with the latest modification time.
type NewestPolicy struct{}

func (NewestPolicy) Name() string { return "newest" }

func (NewestPolicy) Choose(members []*FileRecord) *FileRecord {
	return chooseBy(members, func(a, b *FileRecord) int { return b.ModTime.Compare(a.ModTime) })
}

// ShortestPathPolicy keeps the member with the shortest path.
type ShortestPathPolicy struct{}

func (ShortestPathPolicy) Name() string { return "shortest" }

func (ShortestPathPolicy) Choose(members []*FileRecord) *FileRecord {
	return chooseBy(members, func(a, b *FileRecord) int { return len(a.Path) - len(b.Path) })
}

// LongestPathPolicy keeps the member with the longest path, usually the
// copy filed deepest in an organized tree.
type LongestPathPolicy struct{}

func (LongestPathPolicy) Name() string { return "longest" }

func (LongestPathPolicy) Choose(members []*FileRecord) *FileRecord {
	return chooseBy(members, func(a, b *FileRecord) int { return len(b.Path) - len(a.Path) })
}

// PreferPrefixPolicy keeps a member under the earliest listed prefix.
// Members under the same prefix, or under none, are decided by Fallback.
type PreferPrefixPolicy struct {
	Prefixes []string
	Fallback SelectionPolicy
}

func (p PreferPrefixPolicy) Name() string { return "prefer" }

func (p PreferPrefixPolicy) Choose(members []*FileRecord) *FileRecord {
	best := len(p.Prefixes)
	var candidates []*FileRecord
	for _, m := range members {
		rank := p.rank(m.Path)
		switch {
		case rank < best:
			best = rank
			candidates = []*FileRecord{m}
		case rank == best:
			candidates = append(candidates, m)
		}
	}

	fallback := p.Fallback
	if fallback == nil {
		fallback = OldestPolicy{}
	}
	return fallback.Choose(candidates)
}

func (p PreferPrefixPolicy) rank(path string) int {
	for i, prefix := range p.Prefixes {
		prefix = filepath.Clean(prefix)
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) || prefix == string(filepath.Separator) {
			return i
		}
	}
	return len(p.Prefixes)
}

// ParsePolicy returns the policy registered under name. prefixes is only
// used by the "prefer" policy, which requires at least one.
func ParsePolicy(name string, prefixes []string) (SelectionPolicy, error) {
	switch name {
	case "", "oldest":
		return OldestPolicy{}, nil
	case "newest":
		return NewestPolicy{}, nil
	case "shortest":
		return ShortestPathPolicy{}, nil
	case "longest":
		return LongestPathPolicy{}, nil
	case "prefer":
		if len(prefixes) == 0 {
			return nil, &ConfigError{Field: "prefer", Reason: "the prefer policy needs at least one path prefix"}
		}
		for _, p := range prefixes {
			if !filepath.IsAbs(p) {
				return nil, &ConfigError{Field: "prefer", Reason: fmt.Sprintf("prefix must be absolute: %s", p)}
			}
		}
		return PreferPrefixPolicy{Prefixes: prefixes, Fallback: OldestPolicy{}}, nil
	default:
		return nil, &ConfigError{Field: "policy", Reason: fmt.Sprintf("unknown policy %q", name)}
	}
}
