package database_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dupi-go/internal/database"
	"dupi-go/internal/dupi"
	"dupi-go/internal/testutil"
)

// newTestCatalog creates a new in-memory catalog with migrations applied.
func newTestCatalog(t *testing.T) (*database.SQLiteCatalog, *testutil.StubClock) {
	t.Helper()

	clock := testutil.FixedClock()
	db, err := database.NewSQLiteCatalog(":memory:", clock, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate catalog: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db, clock
}

func valid(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

var mtime = time.Date(2024, 1, 10, 8, 0, 0, 123456789, time.UTC)

func record(root *dupi.Root, path string, gen int64) *dupi.FileRecord {
	return &dupi.FileRecord{
		Path:            path,
		RootID:          root.ID,
		Kind:            dupi.KindRegular,
		Size:            42,
		ModTime:         mtime,
		Device:          1,
		Inode:           100,
		FastFingerprint: valid("xxh64:aa"),
		StrongHash:      valid("sha256:bb"),
		Generation:      gen,
		Status:          dupi.StatusActive,
	}
}

func mustRoot(t *testing.T, db *database.SQLiteCatalog, path string) *dupi.Root {
	t.Helper()
	root, err := db.CreateRoot(context.Background(), path)
	if err != nil {
		t.Fatalf("CreateRoot(%s) error = %v", path, err)
	}
	return root
}

func mustUpsert(t *testing.T, db *database.SQLiteCatalog, rec *dupi.FileRecord) {
	t.Helper()
	if err := db.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert(%s) error = %v", rec.Path, err)
	}
}

func TestSQLiteCatalog_Roots(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when root not found", func(t *testing.T) {
		db, _ := newTestCatalog(t)

		root, err := db.FindRoot(ctx, "/nonexistent")
		if err != nil {
			t.Fatalf("FindRoot() error = %v", err)
		}
		if root != nil {
			t.Errorf("FindRoot() = %v, want nil", root)
		}
	})

	t.Run("finds created root", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		created := mustRoot(t, db, "/home/user/photos")

		found, err := db.FindRoot(ctx, "/home/user/photos")
		if err != nil {
			t.Fatalf("FindRoot() error = %v", err)
		}
		if found == nil || found.ID != created.ID {
			t.Fatalf("FindRoot() = %v, want %v", found, created)
		}
		if found.LastGeneration != 0 || found.CompletedGeneration != 0 {
			t.Errorf("new root generations = %d/%d, want 0/0", found.LastGeneration, found.CompletedGeneration)
		}
	})

	t.Run("finds containing root", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		created := mustRoot(t, db, "/home/user/photos")
		mustRoot(t, db, "/home/user/photos-old")

		found, err := db.FindRootContaining(ctx, "/home/user/photos/2024/a.jpg")
		if err != nil {
			t.Fatalf("FindRootContaining() error = %v", err)
		}
		if found == nil || found.ID != created.ID {
			t.Errorf("FindRootContaining() = %v, want %v", found, created)
		}

		found, err = db.FindRootContaining(ctx, "/home/user/photos")
		if err != nil {
			t.Fatalf("FindRootContaining() error = %v", err)
		}
		if found != nil {
			t.Errorf("FindRootContaining(root itself) = %v, want nil", found)
		}

		found, _ = db.FindRootContaining(ctx, "/home/user/photosx/a.jpg")
		if found != nil {
			t.Errorf("FindRootContaining(sibling prefix) = %v, want nil", found)
		}
	})

	t.Run("parent root absorbs nested roots", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		child := mustRoot(t, db, "/data/a")
		for range 3 {
			if _, err := db.BeginGeneration(ctx, child.ID); err != nil {
				t.Fatalf("BeginGeneration() error = %v", err)
			}
		}
		mustUpsert(t, db, record(child, "/data/a/f.txt", 3))

		parent := mustRoot(t, db, "/data")
		if parent.LastGeneration != 3 {
			t.Errorf("parent.LastGeneration = %d, want 3", parent.LastGeneration)
		}

		roots, err := db.ListRoots(ctx)
		if err != nil {
			t.Fatalf("ListRoots() error = %v", err)
		}
		if len(roots) != 1 || roots[0].Path != "/data" {
			t.Fatalf("ListRoots() = %v, want only /data", roots)
		}

		rec, _ := db.Lookup(ctx, "/data/a/f.txt")
		if rec == nil || rec.RootID != parent.ID {
			t.Errorf("record root = %v, want %s", rec, parent.ID)
		}

		gen, err := db.BeginGeneration(ctx, parent.ID)
		if err != nil {
			t.Fatalf("BeginGeneration() error = %v", err)
		}
		if gen != 4 {
			t.Errorf("BeginGeneration() = %d, want 4", gen)
		}
	})

	t.Run("duplicate root path fails", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		mustRoot(t, db, "/data")
		if _, err := db.CreateRoot(ctx, "/data"); err == nil {
			t.Error("CreateRoot() expected error for duplicate path")
		}
	})
}

func TestSQLiteCatalog_BeginGeneration(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestCatalog(t)
	root := mustRoot(t, db, "/data")

	for want := int64(1); want <= 3; want++ {
		got, err := db.BeginGeneration(ctx, root.ID)
		if err != nil {
			t.Fatalf("BeginGeneration() error = %v", err)
		}
		if got != want {
			t.Errorf("BeginGeneration() = %d, want %d", got, want)
		}
	}

	if _, err := db.BeginGeneration(ctx, "missing-root"); err == nil {
		t.Error("BeginGeneration() expected error for unknown root")
	}
}

func TestSQLiteCatalog_UpsertLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup returns nil for unknown path", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		rec, err := db.Lookup(ctx, "/nope")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if rec != nil {
			t.Errorf("Lookup() = %v, want nil", rec)
		}
	})

	t.Run("round trips every column", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		root := mustRoot(t, db, "/data")
		in := record(root, "/data/a.txt", 1)
		in.Inode = 1 << 63
		mustUpsert(t, db, in)

		got, err := db.Lookup(ctx, "/data/a.txt")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if got == nil {
			t.Fatal("Lookup() = nil")
		}
		if got.Size != in.Size || !got.ModTime.Equal(in.ModTime) || got.Generation != 1 {
			t.Errorf("Lookup() = %+v, want %+v", got, in)
		}
		if got.FastFingerprint != in.FastFingerprint || got.StrongHash != in.StrongHash {
			t.Errorf("hashes = %v/%v, want %v/%v", got.FastFingerprint, got.StrongHash, in.FastFingerprint, in.StrongHash)
		}
		if got.Inode != in.Inode || got.Device != in.Device {
			t.Errorf("identity = %d/%d, want %d/%d", got.Device, got.Inode, in.Device, in.Inode)
		}
		if got.Kind != dupi.KindRegular || got.Status != dupi.StatusActive {
			t.Errorf("kind/status = %s/%s", got.Kind, got.Status)
		}
	})

	t.Run("epoch mtime survives a round trip", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		root := mustRoot(t, db, "/data")
		in := record(root, "/data/epoch.bin", 1)
		in.ModTime = time.Unix(0, 0)
		mustUpsert(t, db, in)

		got, err := db.Lookup(ctx, "/data/epoch.bin")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if got.ModTime.IsZero() || !got.ModTime.Equal(in.ModTime) {
			t.Errorf("ModTime = %v, want %v", got.ModTime, in.ModTime)
		}
		entry := dupi.FileEntry{Size: in.Size, ModTime: time.Unix(0, 0)}
		if !entry.SameContentKey(got.Size, got.ModTime) {
			t.Error("stored epoch mtime no longer matches the file")
		}
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		db, clock := newTestCatalog(t)
		root := mustRoot(t, db, "/data")
		rec := record(root, "/data/a.txt", 1)

		mustUpsert(t, db, rec)
		first, _ := db.Lookup(ctx, rec.Path)

		clock.Advance(time.Hour)
		mustUpsert(t, db, rec)
		second, _ := db.Lookup(ctx, rec.Path)

		if *first != *second {
			t.Errorf("second upsert changed state:\n first  %+v\n second %+v", first, second)
		}
	})

	t.Run("updated_at moves when content changes", func(t *testing.T) {
		db, clock := newTestCatalog(t)
		root := mustRoot(t, db, "/data")
		rec := record(root, "/data/a.txt", 1)
		mustUpsert(t, db, rec)
		first, _ := db.Lookup(ctx, rec.Path)

		clock.Advance(time.Hour)
		rec.Size = 43
		rec.ClearHashes()
		mustUpsert(t, db, rec)
		second, _ := db.Lookup(ctx, rec.Path)

		if !second.UpdatedAt.After(first.UpdatedAt) {
			t.Errorf("UpdatedAt = %v, want after %v", second.UpdatedAt, first.UpdatedAt)
		}
		if second.FastFingerprint.Valid || second.StrongHash.Valid {
			t.Error("hashes were not cleared")
		}
	})

	t.Run("older generation never overwrites newer", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		root := mustRoot(t, db, "/data")
		newer := record(root, "/data/a.txt", 5)
		mustUpsert(t, db, newer)

		older := record(root, "/data/a.txt", 4)
		older.Size = 1
		mustUpsert(t, db, older)

		got, _ := db.Lookup(ctx, "/data/a.txt")
		if got.Generation != 5 || got.Size != 42 {
			t.Errorf("Lookup() = gen %d size %d, want gen 5 size 42", got.Generation, got.Size)
		}
	})

	t.Run("strong hash without fingerprint is rejected", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		root := mustRoot(t, db, "/data")
		rec := record(root, "/data/a.txt", 1)
		rec.FastFingerprint = sql.NullString{}

		if err := db.Upsert(ctx, rec); err == nil {
			t.Error("Upsert() expected constraint error")
		}
		got, _ := db.Lookup(ctx, rec.Path)
		if got != nil {
			t.Errorf("rejected record was stored: %+v", got)
		}
	})
}

func TestSQLiteCatalog_MarkGenerationComplete(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*database.SQLiteCatalog, *dupi.Root) {
		t.Helper()
		db, _ := newTestCatalog(t)
		root := mustRoot(t, db, "/data")
		other := mustRoot(t, db, "/other")

		db.BeginGeneration(ctx, root.ID)
		db.BeginGeneration(ctx, root.ID)
		db.BeginGeneration(ctx, other.ID)

		mustUpsert(t, db, record(root, "/data/seen.txt", 2))
		mustUpsert(t, db, record(root, "/data/gone.txt", 1))
		mustUpsert(t, db, record(other, "/other/old.txt", 1))
		return db, root
	}

	t.Run("marks unseen records missing", func(t *testing.T) {
		db, root := setup(t)

		n, err := db.MarkGenerationComplete(ctx, root.ID, 2)
		if err != nil {
			t.Fatalf("MarkGenerationComplete() error = %v", err)
		}
		if n != 1 {
			t.Errorf("MarkGenerationComplete() = %d, want 1", n)
		}

		gone, _ := db.Lookup(ctx, "/data/gone.txt")
		if gone.Status != dupi.StatusMissing {
			t.Errorf("gone.Status = %s, want missing", gone.Status)
		}
		if !gone.StrongHash.Valid {
			t.Error("missing record lost its hash; history must be preserved")
		}
		seen, _ := db.Lookup(ctx, "/data/seen.txt")
		if seen.Status != dupi.StatusActive {
			t.Errorf("seen.Status = %s, want active", seen.Status)
		}
		other, _ := db.Lookup(ctx, "/other/old.txt")
		if other.Status != dupi.StatusActive {
			t.Errorf("record of another root was marked %s", other.Status)
		}

		found, _ := db.FindRoot(ctx, "/data")
		if found.CompletedGeneration != 2 {
			t.Errorf("CompletedGeneration = %d, want 2", found.CompletedGeneration)
		}
	})

	t.Run("re-running is a no-op", func(t *testing.T) {
		db, root := setup(t)
		if _, err := db.MarkGenerationComplete(ctx, root.ID, 2); err != nil {
			t.Fatalf("MarkGenerationComplete() error = %v", err)
		}
		before, _ := db.ListRecords(ctx, root.ID)

		n, err := db.MarkGenerationComplete(ctx, root.ID, 2)
		if err != nil {
			t.Fatalf("second MarkGenerationComplete() error = %v", err)
		}
		if n != 0 {
			t.Errorf("second MarkGenerationComplete() = %d, want 0", n)
		}
		after, _ := db.ListRecords(ctx, root.ID)
		for i := range before {
			if *before[i] != *after[i] {
				t.Errorf("record changed: %+v -> %+v", before[i], after[i])
			}
		}
	})

	t.Run("records are never deleted", func(t *testing.T) {
		db, root := setup(t)
		db.MarkGenerationComplete(ctx, root.ID, 2)
		recs, _ := db.ListRecords(ctx, root.ID)
		if len(recs) != 2 {
			t.Errorf("len(ListRecords()) = %d, want 2", len(recs))
		}
	})
}

func TestSQLiteCatalog_HashQueries(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestCatalog(t)
	root := mustRoot(t, db, "/data")

	a := record(root, "/data/a", 1)
	b := record(root, "/data/b", 1)
	b.Inode = 101
	missing := record(root, "/data/missing", 1)
	missing.Inode = 102
	missing.Status = dupi.StatusMissing
	empty := record(root, "/data/empty", 1)
	empty.Size = 0
	empty.Inode = 103
	empty2 := record(root, "/data/empty2", 1)
	empty2.Size = 0
	empty2.Inode = 104
	for _, r := range []*dupi.FileRecord{a, b, missing, empty, empty2} {
		mustUpsert(t, db, r)
	}

	// fingerprint collision without strong hashes
	c := record(root, "/data/c", 1)
	c.Size, c.Inode, c.StrongHash = 7, 200, sql.NullString{}
	d := record(root, "/data/d", 1)
	d.Size, d.Inode, d.StrongHash = 7, 201, sql.NullString{}
	e := record(root, "/data/e", 1)
	e.Size, e.Inode, e.StrongHash, e.FastFingerprint = 7, 202, sql.NullString{}, valid("xxh64:ff")
	for _, r := range []*dupi.FileRecord{c, d, e} {
		mustUpsert(t, db, r)
	}

	t.Run("QueryByHash returns active records only", func(t *testing.T) {
		recs, err := db.QueryByHash(ctx, "sha256:bb")
		if err != nil {
			t.Fatalf("QueryByHash() error = %v", err)
		}
		var paths []string
		for _, r := range recs {
			paths = append(paths, r.Path)
		}
		if got := strings.Join(paths, ","); got != "/data/a,/data/b,/data/empty,/data/empty2" {
			t.Errorf("QueryByHash() = %s", got)
		}
	})

	t.Run("DuplicateKeys skips empty files", func(t *testing.T) {
		keys, err := db.DuplicateKeys(ctx)
		if err != nil {
			t.Fatalf("DuplicateKeys() error = %v", err)
		}
		if len(keys) != 1 || keys[0] != (dupi.DuplicateKey{StrongHash: "sha256:bb", Size: 42}) {
			t.Errorf("DuplicateKeys() = %v", keys)
		}
	})

	t.Run("FingerprintCollisions finds unverified matches", func(t *testing.T) {
		recs, err := db.FingerprintCollisions(ctx)
		if err != nil {
			t.Fatalf("FingerprintCollisions() error = %v", err)
		}
		if len(recs) != 2 || recs[0].Path != "/data/c" || recs[1].Path != "/data/d" {
			t.Errorf("FingerprintCollisions() = %v", recs)
		}
	})

	t.Run("SetStrongHash is conditional", func(t *testing.T) {
		stale := c.Clone()
		stale.Size = 8
		applied, err := db.SetStrongHash(ctx, stale, "sha256:cc")
		if err != nil {
			t.Fatalf("SetStrongHash() error = %v", err)
		}
		if applied {
			t.Error("SetStrongHash() applied to a record whose size changed")
		}

		applied, err = db.SetStrongHash(ctx, c, "sha256:cc")
		if err != nil {
			t.Fatalf("SetStrongHash() error = %v", err)
		}
		if !applied {
			t.Error("SetStrongHash() not applied")
		}
		got, _ := db.Lookup(ctx, "/data/c")
		if got.StrongHash.String != "sha256:cc" {
			t.Errorf("StrongHash = %v, want sha256:cc", got.StrongHash)
		}

		applied, _ = db.SetStrongHash(ctx, c, "sha256:dd")
		if applied {
			t.Error("SetStrongHash() overwrote an existing strong hash")
		}
	})
}

func TestSQLiteCatalog_ScanRuns(t *testing.T) {
	ctx := context.Background()
	db, clock := newTestCatalog(t)
	root := mustRoot(t, db, "/data")

	maxID, err := db.MaxScanRunID(ctx)
	if err != nil {
		t.Fatalf("MaxScanRunID() error = %v", err)
	}
	if maxID != 0 {
		t.Errorf("MaxScanRunID() = %d, want 0", maxID)
	}

	run1 := &dupi.ScanRun{Token: "t1", RootID: root.ID, RootPath: root.Path, Generation: 1, StartedAt: clock.Now(), Status: dupi.RunRunning}
	run2 := &dupi.ScanRun{Token: "t2", RootID: root.ID, RootPath: root.Path, Generation: 2, StartedAt: clock.Now(), Status: dupi.RunRunning}
	for _, r := range []*dupi.ScanRun{run1, run2} {
		if err := db.CreateScanRun(ctx, r); err != nil {
			t.Fatalf("CreateScanRun() error = %v", err)
		}
	}
	if run2.ID <= run1.ID {
		t.Errorf("run IDs not increasing: %d, %d", run1.ID, run2.ID)
	}

	run2.Status = dupi.RunComplete
	run2.FinishedAt = sql.NullTime{Time: clock.Now().Add(time.Minute), Valid: true}
	run2.FilesIndexed = 10
	run2.SoftFailures = 1
	failures := []*dupi.SoftFailure{{Path: "/data/locked", Kind: dupi.FailureTraversal, Reason: "permission denied"}}
	if err := db.FinishScanRun(ctx, run2, failures); err != nil {
		t.Fatalf("FinishScanRun() error = %v", err)
	}

	runs, err := db.ListScanRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListScanRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(ListScanRuns()) = %d, want 2", len(runs))
	}
	if runs[0].ID != run2.ID {
		t.Errorf("ListScanRuns()[0].ID = %d, want newest %d", runs[0].ID, run2.ID)
	}
	if runs[0].Status != dupi.RunComplete || runs[0].FilesIndexed != 10 || !runs[0].FinishedAt.Valid {
		t.Errorf("finished run = %+v", runs[0])
	}
	if runs[1].FinishedAt.Valid {
		t.Errorf("unfinished run has FinishedAt = %v", runs[1].FinishedAt)
	}

	limited, _ := db.ListScanRuns(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("len(ListScanRuns(1)) = %d, want 1", len(limited))
	}

	got, err := db.ListScanFailures(ctx, run2.ID)
	if err != nil {
		t.Fatalf("ListScanFailures() error = %v", err)
	}
	if len(got) != 1 || *got[0] != *failures[0] {
		t.Errorf("ListScanFailures() = %v, want %v", got, failures)
	}

	maxID, _ = db.MaxScanRunID(ctx)
	if maxID != run2.ID {
		t.Errorf("MaxScanRunID() = %d, want %d", maxID, run2.ID)
	}
}

func TestSQLiteCatalog_FileBacked(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	db, err := database.NewSQLiteCatalog(path, testutil.FixedClock(), testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	root := mustRoot(t, db, "/data")
	mustUpsert(t, db, record(root, "/data/a", 1))
	db.Close()

	reopened, err := database.NewSQLiteCatalog(path, nil, nil)
	if err != nil {
		t.Fatalf("reopening catalog: %v", err)
	}
	defer reopened.Close()

	if err := reopened.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
	rec, err := reopened.Lookup(ctx, "/data/a")
	if err != nil || rec == nil {
		t.Fatalf("Lookup() after reopen = %v, %v", rec, err)
	}
}

func TestSQLiteCatalog_BackupTo(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestCatalog(t)
	root := mustRoot(t, db, "/home/user/docs")
	mustUpsert(t, db, record(root, "/home/user/docs/a", 1))

	destPath := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(ctx, destPath); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	backup, err := database.NewSQLiteCatalog(destPath, nil, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	found, err := backup.FindRoot(ctx, "/home/user/docs")
	if err != nil {
		t.Fatalf("FindRoot() error = %v", err)
	}
	if found == nil {
		t.Error("backup does not contain the root")
	}
	rec, _ := backup.Lookup(ctx, "/home/user/docs/a")
	if rec == nil {
		t.Error("backup does not contain the record")
	}
}

func TestSQLiteCatalog_CheckMigrations(t *testing.T) {
	t.Run("fails on DB without migrations applied", func(t *testing.T) {
		db, err := database.NewSQLiteCatalog(":memory:", nil, nil)
		if err != nil {
			t.Fatalf("NewSQLiteCatalog() error = %v", err)
		}
		defer db.Close()

		if err := db.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})

	t.Run("passes after migrating", func(t *testing.T) {
		db, _ := newTestCatalog(t)
		if err := db.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})
}

func TestDumpSchema(t *testing.T) {
	db, _ := newTestCatalog(t)

	schema, err := db.DumpSchema()
	if err != nil {
		t.Fatalf("DumpSchema() error = %v", err)
	}
	for _, want := range []string{"CREATE TABLE files", "CREATE TABLE roots", "CREATE TABLE scan_runs", "idx_files_strong_hash", "inode"} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("schema includes the migration tracking table")
	}
}
