package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"dupi-go/internal/database/migrations"
	"dupi-go/internal/dupi"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements the dupi.Catalog interface using SQLite.
type SQLiteCatalog struct {
	db    *sql.DB
	path  string
	clock dupi.Clock
	idgen dupi.IDGenerator
}

// NewSQLiteCatalog opens a catalog at path, which can be a file path or
// ":memory:" for an in-memory catalog. The schema is not touched; run
// migrations.MigrateUp (or Migrate) before use.
func NewSQLiteCatalog(path string, clock dupi.Clock, idgen dupi.IDGenerator) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteCatalogFromDB(db, path, clock, idgen), nil
}

// NewSQLiteCatalogFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteCatalogFromDB(db *sql.DB, path string, clock dupi.Clock, idgen dupi.IDGenerator) *SQLiteCatalog {
	if clock == nil {
		clock = dupi.RealClock{}
	}
	if idgen == nil {
		idgen = dupi.UUIDGenerator{}
	}
	return &SQLiteCatalog{db: db, path: path, clock: clock, idgen: idgen}
}

// OpenConnection opens and configures a SQLite database connection.
// Connection settings go through the DSN so every pooled connection gets
// them. An in-memory database lives in a single connection, so the pool is
// capped at one; file databases use WAL so readers never block the writer.
func OpenConnection(path string) (*sql.DB, error) {
	memory := path == ":memory:"

	params := "_foreign_keys=on&_busy_timeout=5000"
	if !memory {
		params += "&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", path+"?"+params)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteCatalog) Migrate() error {
	return migrations.MigrateUp(s.db)
}

const recordColumns = `path, root_id, kind, link_target, size, mtime_ns, device, inode,
	fast_fingerprint, strong_hash, generation, status, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*dupi.FileRecord, error) {
	var (
		rec     dupi.FileRecord
		kind    string
		status  string
		mtimeNS int64
		device  int64
		inode   int64
	)
	err := row.Scan(&rec.Path, &rec.RootID, &kind, &rec.LinkTarget, &rec.Size, &mtimeNS, &device, &inode,
		&rec.FastFingerprint, &rec.StrongHash, &rec.Generation, &status, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = dupi.FileKind(kind)
	rec.Status = dupi.Status(status)
	rec.ModTime = fromNanos(mtimeNS)
	rec.Device = uint64(device)
	rec.Inode = uint64(inode)
	return &rec, nil
}

func (s *SQLiteCatalog) queryRecords(ctx context.Context, query string, args ...any) ([]*dupi.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*dupi.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// noMtime stands for a zero mtime, as on records of unreadable entries. The
// epoch is a real mtime and is stored as 0.
const noMtime = math.MinInt64

// toNanos stores mtimes as integer nanoseconds so equality is exact.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return noMtime
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == noMtime {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// dirPrefix returns path with exactly one trailing separator.
func dirPrefix(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// Root operations

func scanRoot(row rowScanner) (*dupi.Root, error) {
	var r dupi.Root
	if err := row.Scan(&r.ID, &r.Path, &r.CreatedAt, &r.LastGeneration, &r.CompletedGeneration); err != nil {
		return nil, err
	}
	return &r, nil
}

const rootColumns = `id, path, created_at, last_generation, completed_generation`

func (s *SQLiteCatalog) FindRoot(ctx context.Context, path string) (*dupi.Root, error) {
	root, err := scanRoot(s.db.QueryRowContext(ctx, `SELECT `+rootColumns+` FROM roots WHERE path = ?`, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding root by path: %w", err)
	}
	return root, nil
}

func (s *SQLiteCatalog) FindRootContaining(ctx context.Context, path string) (*dupi.Root, error) {
	roots, err := s.ListRoots(ctx)
	if err != nil {
		return nil, err
	}
	// Roots never nest, so at most one matches.
	for _, r := range roots {
		if path != r.Path && strings.HasPrefix(path, dirPrefix(r.Path)) {
			return r, nil
		}
	}
	return nil, nil
}

func (s *SQLiteCatalog) ListRoots(ctx context.Context) ([]*dupi.Root, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+rootColumns+` FROM roots ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	defer rows.Close()

	var out []*dupi.Root
	for rows.Next() {
		r, err := scanRoot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning root: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	return out, nil
}

// CreateRoot starts tracking path. Roots below path are consolidated into
// the new root: their records move over and they are deleted. The new root
// continues from the highest generation of the roots it absorbs so that
// carried records are never newer than the next scan.
func (s *SQLiteCatalog) CreateRoot(ctx context.Context, path string) (*dupi.Root, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	prefix := dirPrefix(path)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+rootColumns+` FROM roots WHERE substr(path, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("finding child roots: %w", err)
	}
	var children []*dupi.Root
	for rows.Next() {
		r, err := scanRoot(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning child root: %w", err)
		}
		children = append(children, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding child roots: %w", err)
	}

	root := &dupi.Root{ID: s.idgen.New(), Path: path, CreatedAt: s.clock.Now()}
	for _, c := range children {
		root.LastGeneration = max(root.LastGeneration, c.LastGeneration)
	}
	root.CompletedGeneration = root.LastGeneration

	_, err = tx.ExecContext(ctx,
		`INSERT INTO roots (id, path, created_at, last_generation, completed_generation) VALUES (?, ?, ?, ?, ?)`,
		root.ID, root.Path, root.CreatedAt, root.LastGeneration, root.CompletedGeneration)
	if err != nil {
		return nil, fmt.Errorf("inserting root: %w", err)
	}

	for _, c := range children {
		if _, err := tx.ExecContext(ctx, `UPDATE files SET root_id = ? WHERE root_id = ?`, root.ID, c.ID); err != nil {
			return nil, fmt.Errorf("moving records from %s: %w", c.Path, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM roots WHERE id = ?`, c.ID); err != nil {
			return nil, fmt.Errorf("deleting child root %s: %w", c.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return root, nil
}

// Generation operations

func (s *SQLiteCatalog) BeginGeneration(ctx context.Context, rootID string) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE roots SET last_generation = last_generation + 1 WHERE id = ? RETURNING last_generation`,
		rootID).Scan(&gen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("root not found: %s", rootID)
		}
		return 0, fmt.Errorf("beginning generation: %w", err)
	}
	return gen, nil
}

// Upsert writes rec in a single statement. A row from a newer generation is
// left alone. updated_at only moves when the stored state actually changes,
// so applying the same record twice is a no-op.
func (s *SQLiteCatalog) Upsert(ctx context.Context, rec *dupi.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			root_id          = excluded.root_id,
			kind             = excluded.kind,
			link_target      = excluded.link_target,
			size             = excluded.size,
			mtime_ns         = excluded.mtime_ns,
			device           = excluded.device,
			inode            = excluded.inode,
			fast_fingerprint = excluded.fast_fingerprint,
			strong_hash      = excluded.strong_hash,
			generation       = excluded.generation,
			status           = excluded.status,
			updated_at       = CASE
				WHEN files.kind = excluded.kind
				 AND files.size = excluded.size
				 AND files.mtime_ns = excluded.mtime_ns
				 AND files.fast_fingerprint IS excluded.fast_fingerprint
				 AND files.strong_hash IS excluded.strong_hash
				 AND files.status = excluded.status
				THEN files.updated_at
				ELSE excluded.updated_at
			END
		WHERE excluded.generation >= files.generation`,
		rec.Path, rec.RootID, string(rec.Kind), rec.LinkTarget, rec.Size, toNanos(rec.ModTime),
		int64(rec.Device), int64(rec.Inode), rec.FastFingerprint, rec.StrongHash,
		rec.Generation, string(rec.Status), s.clock.Now())
	if err != nil {
		return fmt.Errorf("upserting %s: %w", rec.Path, err)
	}
	return nil
}

// MarkGenerationComplete flips stale active records of a root to missing
// and records the completion in the same transaction.
func (s *SQLiteCatalog) MarkGenerationComplete(ctx context.Context, rootID string, generation int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var completed int64
	err = tx.QueryRowContext(ctx, `SELECT completed_generation FROM roots WHERE id = ?`, rootID).Scan(&completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("root not found: %s", rootID)
		}
		return 0, fmt.Errorf("loading root: %w", err)
	}
	if completed >= generation {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET status = 'missing', updated_at = ?
		 WHERE root_id = ? AND generation < ? AND status = 'active'`,
		s.clock.Now(), rootID, generation)
	if err != nil {
		return 0, fmt.Errorf("marking missing records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting missing records: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE roots SET completed_generation = ? WHERE id = ?`, generation, rootID); err != nil {
		return 0, fmt.Errorf("recording completed generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return n, nil
}

func (s *SQLiteCatalog) SetStrongHash(ctx context.Context, rec *dupi.FileRecord, strongHash string) (bool, error) {
	if !rec.FastFingerprint.Valid {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET strong_hash = ?, updated_at = ?
		 WHERE path = ? AND size = ? AND mtime_ns = ? AND fast_fingerprint = ?
		   AND strong_hash IS NULL AND status = 'active'`,
		strongHash, s.clock.Now(), rec.Path, rec.Size, toNanos(rec.ModTime), rec.FastFingerprint.String)
	if err != nil {
		return false, fmt.Errorf("setting strong hash for %s: %w", rec.Path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setting strong hash for %s: %w", rec.Path, err)
	}
	return n == 1, nil
}

// Record queries

func (s *SQLiteCatalog) Lookup(ctx context.Context, path string) (*dupi.FileRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM files WHERE path = ?`, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("looking up %s: %w", path, err)
	}
	return rec, nil
}

func (s *SQLiteCatalog) QueryByHash(ctx context.Context, strongHash string) ([]*dupi.FileRecord, error) {
	recs, err := s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM files WHERE strong_hash = ? AND status = 'active' ORDER BY path`,
		strongHash)
	if err != nil {
		return nil, fmt.Errorf("querying by hash: %w", err)
	}
	return recs, nil
}

func (s *SQLiteCatalog) DuplicateKeys(ctx context.Context) ([]dupi.DuplicateKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strong_hash, size FROM files
		WHERE status = 'active' AND kind = 'regular' AND size > 0 AND strong_hash IS NOT NULL
		GROUP BY strong_hash, size
		HAVING COUNT(*) >= 2
		ORDER BY size DESC, strong_hash`)
	if err != nil {
		return nil, fmt.Errorf("finding duplicate keys: %w", err)
	}
	defer rows.Close()

	var keys []dupi.DuplicateKey
	for rows.Next() {
		var k dupi.DuplicateKey
		if err := rows.Scan(&k.StrongHash, &k.Size); err != nil {
			return nil, fmt.Errorf("scanning duplicate key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding duplicate keys: %w", err)
	}
	return keys, nil
}

func (s *SQLiteCatalog) FingerprintCollisions(ctx context.Context) ([]*dupi.FileRecord, error) {
	recs, err := s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM files f
		WHERE f.status = 'active' AND f.kind = 'regular' AND f.size > 0
		  AND f.strong_hash IS NULL AND f.fast_fingerprint IS NOT NULL
		  AND EXISTS (
			SELECT 1 FROM files o
			WHERE o.size = f.size AND o.fast_fingerprint = f.fast_fingerprint
			  AND o.status = 'active' AND o.path != f.path
		  )
		ORDER BY f.path`)
	if err != nil {
		return nil, fmt.Errorf("finding fingerprint collisions: %w", err)
	}
	return recs, nil
}

func (s *SQLiteCatalog) ListRecords(ctx context.Context, rootID string) ([]*dupi.FileRecord, error) {
	recs, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM files WHERE root_id = ? ORDER BY path`, rootID)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return recs, nil
}

// Scan run tracking

const runColumns = `id, token, root_id, root_path, generation, started_at, finished_at, status,
	files_indexed, files_hashed, bytes_hashed, marked_missing, soft_failures`

func (s *SQLiteCatalog) CreateScanRun(ctx context.Context, run *dupi.ScanRun) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (token, root_id, root_path, generation, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		run.Token, run.RootID, run.RootPath, run.Generation, run.StartedAt, string(run.Status))
	if err != nil {
		return fmt.Errorf("creating scan run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("creating scan run: %w", err)
	}
	run.ID = id
	return nil
}

func (s *SQLiteCatalog) FinishScanRun(ctx context.Context, run *dupi.ScanRun, failures []*dupi.SoftFailure) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE scan_runs SET finished_at = ?, status = ?, files_indexed = ?, files_hashed = ?,
			bytes_hashed = ?, marked_missing = ?, soft_failures = ?
		WHERE id = ?`,
		run.FinishedAt, string(run.Status), run.FilesIndexed, run.FilesHashed,
		run.BytesHashed, run.MarkedMissing, run.SoftFailures, run.ID)
	if err != nil {
		return fmt.Errorf("finishing scan run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_failures WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clearing scan failures: %w", err)
	}
	if len(failures) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO scan_failures (run_id, path, kind, reason) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing failure insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range failures {
			if _, err := stmt.ExecContext(ctx, run.ID, f.Path, string(f.Kind), f.Reason); err != nil {
				return fmt.Errorf("recording failure for %s: %w", f.Path, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteCatalog) ListScanRuns(ctx context.Context, limit int) ([]*dupi.ScanRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM scan_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	defer rows.Close()

	var out []*dupi.ScanRun
	for rows.Next() {
		var (
			r      dupi.ScanRun
			status string
		)
		err := rows.Scan(&r.ID, &r.Token, &r.RootID, &r.RootPath, &r.Generation, &r.StartedAt, &r.FinishedAt,
			&status, &r.FilesIndexed, &r.FilesHashed, &r.BytesHashed, &r.MarkedMissing, &r.SoftFailures)
		if err != nil {
			return nil, fmt.Errorf("scanning scan run: %w", err)
		}
		r.Status = dupi.ScanRunStatus(status)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return out, nil
}

func (s *SQLiteCatalog) ListScanFailures(ctx context.Context, runID int64) ([]*dupi.SoftFailure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, kind, reason FROM scan_failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing scan failures: %w", err)
	}
	defer rows.Close()

	var out []*dupi.SoftFailure
	for rows.Next() {
		var (
			f    dupi.SoftFailure
			kind string
		)
		if err := rows.Scan(&f.Path, &kind, &f.Reason); err != nil {
			return nil, fmt.Errorf("scanning scan failure: %w", err)
		}
		f.Kind = dupi.FailureKind(kind)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing scan failures: %w", err)
	}
	return out, nil
}

func (s *SQLiteCatalog) MaxScanRunID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM scan_runs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max scan run ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:" for in-memory catalogs).
func (s *SQLiteCatalog) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckSchema(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteCatalog) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// DumpSchema returns the catalog's current schema as SQL.
func (s *SQLiteCatalog) DumpSchema() (string, error) {
	return DumpSchema(s.db)
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteCatalog implements dupi.Catalog interface
var _ dupi.Catalog = (*SQLiteCatalog)(nil)
