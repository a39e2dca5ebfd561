package dupi

import (
	"context"
	"fmt"
	"path/filepath"
)

// Service is the orchestration layer that coordinates the scanner, the
// hashing pipeline, the catalog and the dedup resolver.
type Service struct {
	catalog Catalog
	fsmgr   FilesystemManager
	fast    Hasher
	strong  Hasher
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewService creates a Service. A nil logger, clock or idgen falls back to
// NopLogger, RealClock and UUIDGenerator.
func NewService(catalog Catalog, fsmgr FilesystemManager, fast, strong Hasher, logger Logger, clock Clock, idgen IDGenerator) *Service {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	return &Service{
		catalog: catalog,
		fsmgr:   fsmgr,
		fast:    fast,
		strong:  strong,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// Status returns the catalog record for path, or nil if the path has never
// been indexed.
func (s *Service) Status(ctx context.Context, path string) (*FileRecord, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	rec, err := s.catalog.Lookup(ctx, abs)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", abs, err)
	}
	return rec, nil
}

// Roots returns every tracked root.
func (s *Service) Roots(ctx context.Context) ([]*Root, error) {
	roots, err := s.catalog.ListRoots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	return roots, nil
}

// Records returns every record, active or missing, under a tracked root.
func (s *Service) Records(ctx context.Context, rootPath string) ([]*FileRecord, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	root, err := s.catalog.FindRoot(ctx, abs)
	if err != nil {
		return nil, fmt.Errorf("finding root: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("root is not tracked: %s", abs)
	}
	recs, err := s.catalog.ListRecords(ctx, root.ID)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return recs, nil
}

// History returns the most recent scan runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*ScanRun, error) {
	runs, err := s.catalog.ListScanRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return runs, nil
}

// RunFailures returns the soft failures recorded for a scan run.
func (s *Service) RunFailures(ctx context.Context, runID int64) ([]*SoftFailure, error) {
	failures, err := s.catalog.ListScanFailures(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing failures for run %d: %w", runID, err)
	}
	return failures, nil
}

// resolveRoot validates rootPath and its ignore patterns and returns the
// tracked root for it, registering it if needed, along with the complete
// ignore set for the walk. Nothing is written to the catalog until the
// patterns are known to be valid. A path strictly inside a tracked root is
// rejected: generations are per root, so scanning a subtree on its own
// would mark the rest of the root missing.
func (s *Service) resolveRoot(ctx context.Context, rootPath string, exclude []string) (*Root, []string, error) {
	if rootPath == "" {
		return nil, nil, &ConfigError{Field: "root", Reason: "empty path"}
	}
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, nil, &ConfigError{Field: "root", Reason: err.Error()}
	}

	isDir, err := s.fsmgr.IsDir(abs)
	if err != nil {
		return nil, nil, &ConfigError{Field: "root", Reason: err.Error()}
	}
	if !isDir {
		return nil, nil, &ConfigError{Field: "root", Reason: fmt.Sprintf("not a directory: %s", abs)}
	}

	patterns, err := s.fsmgr.IgnorePatterns(abs, exclude)
	if err != nil {
		return nil, nil, err
	}

	root, err := s.catalog.FindRoot(ctx, abs)
	if err != nil {
		return nil, nil, &StoreError{Op: "find root", Err: err}
	}
	if root != nil {
		return root, patterns, nil
	}

	parent, err := s.catalog.FindRootContaining(ctx, abs)
	if err != nil {
		return nil, nil, &StoreError{Op: "find root", Err: err}
	}
	if parent != nil {
		return nil, nil, &ConfigError{
			Field:  "root",
			Reason: fmt.Sprintf("%s is inside tracked root %s; scan the root instead", abs, parent.Path),
		}
	}

	root, err = s.catalog.CreateRoot(ctx, abs)
	if err != nil {
		return nil, nil, &StoreError{Op: "create root", Err: err}
	}
	s.logger.Info("root tracked", "path", abs, "id", root.ID)
	return root, patterns, nil
}
