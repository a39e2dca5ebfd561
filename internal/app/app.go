package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dupi-go/internal/config"
	"dupi-go/internal/database"
	"dupi-go/internal/dupi"
	"dupi-go/internal/encryption"
	"dupi-go/internal/fs"
	"dupi-go/internal/hashing"
	"dupi-go/internal/watch"
)

// ErrCatalogBehind is returned when an archive holds a snapshot newer than
// the local catalog.
var ErrCatalogBehind = errors.New("local catalog is behind the archived snapshot")

// DupiApp is the application layer between the CLI and dupi.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and publishes a catalog snapshot on Close
// when the command changed the catalog.
type DupiApp struct {
	cfg       *config.Config
	catalog   *database.SQLiteCatalog
	archives  []namedArchive
	encryptor dupi.Encryptor // nil when snapshots are stored unencrypted
	service   *dupi.Service
	logger    *slog.Logger
	op        *Operation
	logFile   *os.File
}

// NewDupiApp creates a fully wired DupiApp from the given config.
// operation identifies the CLI command being run (e.g. "Scan", "Plan").
// The caller must call Close when done.
func NewDupiApp(ctx context.Context, cfg *config.Config, operation string) (*DupiApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	archives, err := newArchives(ctx, cfg.Archives)
	if err != nil {
		return nil, err
	}
	return newDupiApp(ctx, cfg, operation, archives)
}

// newDupiApp wires the app around already constructed archives.
func newDupiApp(ctx context.Context, cfg *config.Config, operation string, archives []namedArchive) (*DupiApp, error) {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	fast, err := hashing.FastByName(cfg.Scan.FastHash)
	if err != nil {
		return nil, err
	}
	strong, err := hashing.StrongByName(cfg.Scan.StrongHashAlgorithm)
	if err != nil {
		return nil, err
	}
	enc, err := newEncryptor(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	catalog, err := database.NewCatalogFromConfig(cfg.Catalog, cfg.HostID, dupi.RealClock{}, dupi.UUIDGenerator{})
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	if err := checkSnapshotVersions(ctx, catalog, archives, cfg.HostID); err != nil {
		catalog.Close()
		return nil, err
	}

	op := NewOperation(operation, time.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger.Debug("operation started", "operation", operation, "catalog", catalog.Path())

	svc := dupi.NewService(catalog, fs.NewOSFilesystemManager(), fast, strong,
		&slogAdapter{l: logger}, dupi.RealClock{}, dupi.UUIDGenerator{})

	return &DupiApp{
		cfg:       cfg,
		catalog:   catalog,
		archives:  archives,
		encryptor: enc,
		service:   svc,
		logger:    logger,
		op:        op,
		logFile:   logFile,
	}, nil
}

// newEncryptor returns nil for unencrypted snapshots.
func newEncryptor(cfg config.EncryptionConfig) (dupi.Encryptor, error) {
	if cfg.Type == "none" {
		return nil, nil
	}
	return encryption.NewEncryptorFromConfig(cfg)
}

// Service exposes the underlying service for read-only callers.
func (a *DupiApp) Service() *dupi.Service {
	return a.service
}

// ScanDefaults returns the scan options configured in the [scan] section.
func (a *DupiApp) ScanDefaults() (dupi.ScanOptions, error) {
	return a.cfg.Scan.Options()
}

// Scan indexes the tree at rawPath. Any scan that got as far as creating a
// run may have written records, so it marks the operation dirty even when
// it fails.
func (a *DupiApp) Scan(ctx context.Context, rawPath string, opts dupi.ScanOptions) (*dupi.ScanReport, error) {
	report, err := a.service.Scan(ctx, rawPath, opts)
	if report != nil {
		a.op.MarkDirty()
	}
	return report, a.op.Record(err)
}

// Policy resolves a selection policy, falling back to the [dedup] section
// when name or prefixes are empty.
func (a *DupiApp) Policy(name string, prefixes []string) (dupi.SelectionPolicy, error) {
	if name == "" {
		name = a.cfg.Dedup.Policy
	}
	if len(prefixes) == 0 {
		prefixes = a.cfg.Dedup.Prefer
	}
	abs := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		ap, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving prefix %s: %w", p, err)
		}
		abs = append(abs, ap)
	}
	return dupi.ParsePolicy(name, abs)
}

// PlanOptions resolves plan options, falling back to the [dedup] section.
func (a *DupiApp) PlanOptions(action, moveTo string) (dupi.PlanOptions, error) {
	if action == "" {
		action = a.cfg.Dedup.Action
	}
	if moveTo == "" {
		moveTo = a.cfg.Dedup.MoveTo
	}
	if moveTo != "" {
		abs, err := filepath.Abs(moveTo)
		if err != nil {
			return dupi.PlanOptions{}, fmt.Errorf("resolving move target: %w", err)
		}
		moveTo = abs
	}
	opts := dupi.PlanOptions{Action: dupi.ActionKind(action), MoveTo: moveTo}
	return opts, opts.Validate()
}

// ListOptions resolves listing options. An empty minSize falls back to the
// [dedup] section, and collisions are verified with the [scan] settings.
func (a *DupiApp) ListOptions(minSize string) (dupi.ListOptions, error) {
	verify, err := a.ScanDefaults()
	if err != nil {
		return dupi.ListOptions{}, err
	}
	field := "min-size"
	if minSize == "" {
		field, minSize = "dedup.min_size", a.cfg.Dedup.MinSize
	}
	n, err := config.ParseByteSize(field, minSize)
	if err != nil {
		return dupi.ListOptions{}, err
	}
	return dupi.ListOptions{MinSize: n, Verify: verify}, nil
}

// Duplicates lists duplicate groups. Listing verifies fingerprint
// collisions first, which can store strong hashes.
func (a *DupiApp) Duplicates(ctx context.Context, policy dupi.SelectionPolicy, list dupi.ListOptions) ([]*dupi.DuplicateGroup, error) {
	a.op.MarkDirty()
	groups, err := a.service.ListDuplicates(ctx, policy, list)
	return groups, a.op.Record(err)
}

// Plan proposes actions for every duplicate group.
func (a *DupiApp) Plan(ctx context.Context, policy dupi.SelectionPolicy, list dupi.ListOptions, opts dupi.PlanOptions) (*dupi.Plan, error) {
	a.op.MarkDirty()
	plan, err := a.service.Plan(ctx, policy, list, opts)
	return plan, a.op.Record(err)
}

// Verify computes strong hashes for records whose fingerprints collide.
func (a *DupiApp) Verify(ctx context.Context) (*dupi.VerifyReport, error) {
	opts, err := a.ScanDefaults()
	if err != nil {
		return nil, err
	}
	report, err := a.service.Verify(ctx, opts)
	if report != nil && report.Verified > 0 {
		a.op.MarkDirty()
	}
	return report, a.op.Record(err)
}

// Status returns the catalog record for rawPath, or nil if it was never
// indexed.
func (a *DupiApp) Status(ctx context.Context, rawPath string) (*dupi.FileRecord, error) {
	return a.service.Status(ctx, rawPath)
}

// Records returns every record of the root at rawPath.
func (a *DupiApp) Records(ctx context.Context, rawPath string) ([]*dupi.FileRecord, error) {
	return a.service.Records(ctx, rawPath)
}

// Roots returns every tracked root.
func (a *DupiApp) Roots(ctx context.Context) ([]*dupi.Root, error) {
	return a.service.Roots(ctx)
}

// History returns the most recent scan runs.
func (a *DupiApp) History(ctx context.Context, limit int) ([]*dupi.ScanRun, error) {
	return a.service.History(ctx, limit)
}

// RunFailures returns the soft failures of one scan run.
func (a *DupiApp) RunFailures(ctx context.Context, runID int64) ([]*dupi.SoftFailure, error) {
	return a.service.RunFailures(ctx, runID)
}

// Watch scans rawPath once, then rescans it whenever something below it
// changes, until ctx is cancelled. onScan receives the outcome of every
// pass.
func (a *DupiApp) Watch(ctx context.Context, rawPath string, opts dupi.ScanOptions, onScan func(*dupi.ScanReport, error)) error {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	debounce, err := a.cfg.Watch.DebounceInterval()
	if err != nil {
		return err
	}

	rescan := func(ctx context.Context) error {
		report, err := a.Scan(ctx, abs, opts)
		if onScan != nil {
			onScan(report, err)
		}
		return err
	}
	if err := rescan(ctx); err != nil && (dupi.IsConfigError(err) || dupi.IsStoreError(err) || ctx.Err() != nil) {
		return err
	}

	w, err := watch.New(abs, debounce, opts.Exclude, &slogAdapter{l: a.logger})
	if err != nil {
		return err
	}
	return a.op.Record(w.Run(ctx, rescan))
}

// PushSnapshot forces a snapshot upload when the app closes.
func (a *DupiApp) PushSnapshot() {
	a.op.MarkDirty()
}

// ValidateArchives checks that every configured archive is reachable.
func (a *DupiApp) ValidateArchives(ctx context.Context) error {
	var errs []error
	for _, arc := range a.archives {
		if err := arc.ValidateSetup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", arc.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all resources. For dirty operations it first copies the
// catalog and, once the catalog is closed, uploads the copy to every
// archive with the latest scan run ID as its version.
func (a *DupiApp) Close(ctx context.Context) error {
	var errs []error

	var snapshotPath string
	var version int64
	if a.op.Dirty && len(a.archives) > 0 {
		var err error
		snapshotPath, version, err = takeSnapshot(ctx, a.catalog)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.catalog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing catalog: %w", err))
	}

	if snapshotPath != "" {
		if err := a.publishSnapshot(ctx, snapshotPath, version); err != nil {
			errs = append(errs, err)
		}
		os.Remove(snapshotPath)
	}

	err := errors.Join(errs...)
	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status, "dirty", a.op.Dirty)
	if err != nil {
		a.logger.Error("closing failed", "error", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}

// InitKeys generates the snapshot encryption keys.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := newEncryptor(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return &dupi.ConfigError{Field: "encryption.type", Reason: "snapshots are not encrypted"}
	}
	return enc.Setup(passphrase)
}
