package dupi

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// ActionKind is a proposed change to a redundant copy.
type ActionKind string

const (
	ActionHardlink ActionKind = "hardlink"
	ActionSymlink  ActionKind = "symlink"
	ActionDelete   ActionKind = "delete"
	ActionMove     ActionKind = "move"
)

// Action is one proposed change. Planned actions are never executed here.
type Action struct {
	Kind ActionKind
	Path string

	// Target is the canonical path for link actions and the destination
	// for moves. Empty for deletes.
	Target string
	Size   int64
}

func (a Action) String() string {
	if a.Target == "" {
		return fmt.Sprintf("%s %s", a.Kind, a.Path)
	}
	return fmt.Sprintf("%s %s -> %s", a.Kind, a.Path, a.Target)
}

// PlanOptions selects what happens to non-canonical members.
type PlanOptions struct {
	Action ActionKind

	// MoveTo is the quarantine directory for ActionMove. Moved files keep
	// their absolute path layout below it.
	MoveTo string
}

func (o PlanOptions) Validate() error {
	switch o.Action {
	case ActionHardlink, ActionSymlink, ActionDelete:
	case ActionMove:
		if o.MoveTo == "" {
			return &ConfigError{Field: "move_to", Reason: "required for the move action"}
		}
		if !filepath.IsAbs(o.MoveTo) {
			return &ConfigError{Field: "move_to", Reason: fmt.Sprintf("must be absolute: %s", o.MoveTo)}
		}
	default:
		return &ConfigError{Field: "action", Reason: fmt.Sprintf("unknown action %q", o.Action)}
	}
	return nil
}

// PlanActions proposes an action for every member of group other than
// canonical. Members that are hard links of the canonical inode already
// share its storage and get no action. PlanActions touches neither the
// catalog nor the filesystem.
func PlanActions(group *DuplicateGroup, canonical *FileRecord, opts PlanOptions) ([]Action, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if canonical == nil {
		return nil, fmt.Errorf("no canonical copy selected for %s", group.StrongHash)
	}

	found := false
	for _, m := range group.Members {
		if m.Path == canonical.Path {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("canonical %s is not a member of group %s", canonical.Path, group.StrongHash)
	}

	var actions []Action
	for _, m := range group.Members {
		if m.Path == canonical.Path || m.SameInode(canonical) {
			continue
		}
		a := Action{Kind: opts.Action, Path: m.Path, Size: m.Size}
		switch opts.Action {
		case ActionHardlink, ActionSymlink:
			a.Target = canonical.Path
		case ActionMove:
			a.Target = filepath.Join(opts.MoveTo, strings.TrimPrefix(m.Path, string(filepath.Separator)))
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// PlannedGroup pairs a duplicate group with its proposed actions.
type PlannedGroup struct {
	Group     *DuplicateGroup
	Canonical *FileRecord
	Actions   []Action
}

// Plan is the full set of proposed actions across all groups.
type Plan struct {
	Groups           []*PlannedGroup
	ReclaimableBytes int64
}

// ListOptions narrows and tunes a duplicate listing.
type ListOptions struct {
	// MinSize drops groups whose files are smaller than MinSize bytes.
	MinSize int64

	// Verify tunes the hashing of fingerprint collisions that precedes
	// grouping.
	Verify ScanOptions
}

func (o ListOptions) Validate() error {
	if o.MinSize < 0 {
		return &ConfigError{Field: "min_size", Reason: fmt.Sprintf("must not be negative, got %d", o.MinSize)}
	}
	return o.Verify.Validate()
}

// ListDuplicates verifies fingerprint collisions, then returns every
// duplicate group of at least opts.MinSize bytes with its canonical member
// chosen by policy.
func (s *Service) ListDuplicates(ctx context.Context, policy SelectionPolicy, opts ListOptions) ([]*DuplicateGroup, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.Verify(ctx, opts.Verify); err != nil {
		return nil, fmt.Errorf("verifying fingerprint collisions: %w", err)
	}

	all, err := NewResolver(s.catalog).ComputeDuplicateGroups(ctx)
	if err != nil {
		return nil, err
	}
	groups := all[:0]
	for _, g := range all {
		if g.Size < opts.MinSize {
			continue
		}
		g.Canonical = SelectCanonical(g, policy)
		groups = append(groups, g)
	}
	return groups, nil
}

// Plan lists duplicates under policy and proposes actions for each group.
func (s *Service) Plan(ctx context.Context, policy SelectionPolicy, list ListOptions, opts PlanOptions) (*Plan, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	groups, err := s.ListDuplicates(ctx, policy, list)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for _, g := range groups {
		actions, err := PlanActions(g, g.Canonical, opts)
		if err != nil {
			return nil, fmt.Errorf("planning group %s: %w", g.StrongHash, err)
		}
		plan.Groups = append(plan.Groups, &PlannedGroup{Group: g, Canonical: g.Canonical, Actions: actions})
		plan.ReclaimableBytes += g.Reclaimable()
	}
	return plan, nil
}
