package dupi

import (
	"context"
	"fmt"
	"sort"
)

// DuplicateGroup is a set of active records sharing strong hash and size.
// Groups are derived from the catalog on demand and never stored.
type DuplicateGroup struct {
	StrongHash string
	Size       int64
	Members    []*FileRecord // ordered by path

	// Canonical is the member chosen to keep. It is only set by callers
	// that applied a SelectionPolicy.
	Canonical *FileRecord
}

// DistinctFiles counts the members that are separate files on disk. Hard
// links of one inode count once.
func (g *DuplicateGroup) DistinctFiles() int {
	type key struct{ dev, ino uint64 }
	seen := make(map[key]bool, len(g.Members))
	n := 0
	for _, m := range g.Members {
		if m.Inode == 0 {
			n++
			continue
		}
		k := key{m.Device, m.Inode}
		if !seen[k] {
			seen[k] = true
			n++
		}
	}
	return n
}

// Reclaimable returns the bytes freed by keeping a single copy.
func (g *DuplicateGroup) Reclaimable() int64 {
	return g.Size * int64(g.DistinctFiles()-1)
}

// Resolver derives duplicate groups from the catalog. It only reads.
type Resolver struct {
	catalog CatalogReader
}

func NewResolver(catalog CatalogReader) *Resolver {
	return &Resolver{catalog: catalog}
}

// ComputeDuplicateGroups returns every group of two or more active,
// non-empty records with identical strong hash and size. Records with only
// a fast fingerprint are never grouped. A group whose members are all hard
// links of a single inode holds one logical file and is left out.
//
// Groups are ordered by size (largest first) then hash.
func (r *Resolver) ComputeDuplicateGroups(ctx context.Context) ([]*DuplicateGroup, error) {
	keys, err := r.catalog.DuplicateKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding duplicate keys: %w", err)
	}

	var groups []*DuplicateGroup
	for _, key := range keys {
		recs, err := r.catalog.QueryByHash(ctx, key.StrongHash)
		if err != nil {
			return nil, fmt.Errorf("querying hash %s: %w", key.StrongHash, err)
		}

		group := &DuplicateGroup{StrongHash: key.StrongHash, Size: key.Size}
		for _, rec := range recs {
			if rec.Status != StatusActive || rec.Kind != KindRegular || rec.Size != key.Size || rec.Size == 0 {
				continue
			}
			group.Members = append(group.Members, rec)
		}
		if len(group.Members) < 2 || group.DistinctFiles() < 2 {
			continue
		}
		sort.Slice(group.Members, func(i, j int) bool {
			return group.Members[i].Path < group.Members[j].Path
		})
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Size != groups[j].Size {
			return groups[i].Size > groups[j].Size
		}
		return groups[i].StrongHash < groups[j].StrongHash
	})
	return groups, nil
}

// SelectCanonical picks the member of group to keep under policy. Returns
// nil for an empty group.
func SelectCanonical(group *DuplicateGroup, policy SelectionPolicy) *FileRecord {
	if group == nil || len(group.Members) == 0 {
		return nil
	}
	return policy.Choose(group.Members)
}
