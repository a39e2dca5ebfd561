package dupi

import "context"

// CatalogReader is the read side of the catalog. Reads may run while a scan
// is writing; each read observes a record either before or after a given
// upsert, never a mix.
type CatalogReader interface {
	// Lookup returns the record for an absolute path, or nil if the path
	// has never been indexed.
	Lookup(ctx context.Context, path string) (*FileRecord, error)

	// QueryByHash returns every active record whose strong hash equals
	// strongHash, ordered by path.
	QueryByHash(ctx context.Context, strongHash string) ([]*FileRecord, error)

	// DuplicateKeys returns every (strong hash, size) pair shared by at
	// least two active records with size > 0.
	DuplicateKeys(ctx context.Context) ([]DuplicateKey, error)

	// FingerprintCollisions returns active, non-empty records that share
	// (size, fast fingerprint) with another active record but have no
	// strong hash yet.
	FingerprintCollisions(ctx context.Context) ([]*FileRecord, error)

	// ListRecords returns all records under a root, ordered by path.
	ListRecords(ctx context.Context, rootID string) ([]*FileRecord, error)
}

// Catalog is the durable record of every known file.
// A single goroutine writes during a scan pass; each method that mutates
// state is one atomic unit.
type Catalog interface {
	CatalogReader

	// Root operations

	// FindRoot returns the root with an exact path match, or nil.
	FindRoot(ctx context.Context, path string) (*Root, error)

	// FindRootContaining returns the tracked root that contains path
	// (strictly below it), or nil.
	FindRootContaining(ctx context.Context, path string) (*Root, error)

	// CreateRoot starts tracking path. Roots nested below path are
	// absorbed: their records move to the new root and they are deleted.
	CreateRoot(ctx context.Context, path string) (*Root, error)

	// ListRoots returns all tracked roots ordered by path.
	ListRoots(ctx context.Context) ([]*Root, error)

	// Generation operations

	// BeginGeneration hands out the next generation number for a root.
	BeginGeneration(ctx context.Context, rootID string) (int64, error)

	// Upsert atomically writes rec. Applying the same record twice leaves
	// the same stored state; a record from an older generation never
	// overwrites a newer one.
	Upsert(ctx context.Context, rec *FileRecord) error

	// MarkGenerationComplete flips every active record of the root whose
	// generation is older than generation to missing, and returns how many
	// changed. Re-running it for an already-completed generation is a no-op.
	MarkGenerationComplete(ctx context.Context, rootID string, generation int64) (int64, error)

	// SetStrongHash records a strong hash computed after the fact. It only
	// applies if the stored size, mtime and fast fingerprint still match
	// rec, and reports whether it did.
	SetStrongHash(ctx context.Context, rec *FileRecord, strongHash string) (bool, error)

	// Scan run history

	// CreateScanRun persists a new running scan run and assigns its ID.
	CreateScanRun(ctx context.Context, run *ScanRun) error

	// FinishScanRun stores the final status and counters of a run along
	// with its soft failures.
	FinishScanRun(ctx context.Context, run *ScanRun, failures []*SoftFailure) error

	// ListScanRuns returns the most recent runs, newest first.
	ListScanRuns(ctx context.Context, limit int) ([]*ScanRun, error)

	// ListScanFailures returns the soft failures recorded for a run.
	ListScanFailures(ctx context.Context, runID int64) ([]*SoftFailure, error)

	// MaxScanRunID returns the highest run ID, or 0 if none exist.
	MaxScanRunID(ctx context.Context) (int64, error)

	// Close closes the underlying storage.
	Close() error
}
