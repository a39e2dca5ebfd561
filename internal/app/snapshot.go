package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dupi-go/internal/archive"
	"dupi-go/internal/config"
	"dupi-go/internal/database"
	"dupi-go/internal/dupi"
)

// namedArchive pairs an archive with its configured name for messages.
type namedArchive struct {
	name string
	dupi.SnapshotArchive
}

func newArchives(ctx context.Context, cfgs []config.ArchiveConfig) ([]namedArchive, error) {
	archives := make([]namedArchive, 0, len(cfgs))
	for _, c := range cfgs {
		a, err := archive.NewArchiveFromConfig(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("creating archive %s: %w", c.Name, err)
		}
		archives = append(archives, namedArchive{name: c.Name, SnapshotArchive: a})
	}
	return archives, nil
}

// checkSnapshotVersions refuses to work on a catalog that is older than a
// snapshot another run already published for this host.
func checkSnapshotVersions(ctx context.Context, catalog dupi.Catalog, archives []namedArchive, hostID string) error {
	if len(archives) == 0 {
		return nil
	}
	local, err := catalog.MaxScanRunID(ctx)
	if err != nil {
		return fmt.Errorf("checking local catalog version: %w", err)
	}
	for _, a := range archives {
		remote, err := a.SnapshotVersion(ctx, hostID)
		if err != nil {
			return fmt.Errorf("checking snapshot version in archive %s: %w", a.name, err)
		}
		if remote > local {
			return fmt.Errorf("%w: archive %s has version %d, local catalog has %d; run `dupi snapshot restore`",
				ErrCatalogBehind, a.name, remote, local)
		}
	}
	return nil
}

// takeSnapshot copies the catalog to a temp file and returns its path
// along with the catalog version it holds.
func takeSnapshot(ctx context.Context, catalog *database.SQLiteCatalog) (string, int64, error) {
	version, err := catalog.MaxScanRunID(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("reading catalog version: %w", err)
	}

	tmp, err := os.CreateTemp("", "dupi-catalog-*.db")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file for catalog snapshot: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	if err := catalog.BackupTo(ctx, path); err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("copying catalog: %w", err)
	}
	return path, version, nil
}

// publishSnapshot seals the snapshot at path when encryption is on and
// uploads it to every archive.
func (a *DupiApp) publishSnapshot(ctx context.Context, path string, version int64) error {
	payload := path
	if a.encryptor != nil {
		sealed := path + ".age"
		if err := sealFile(a.encryptor, path, sealed); err != nil {
			return err
		}
		defer os.Remove(sealed)
		payload = sealed
	}

	var errs []error
	for _, arc := range a.archives {
		if err := uploadFile(ctx, arc, a.cfg.HostID, payload, version); err != nil {
			errs = append(errs, fmt.Errorf("publishing snapshot to archive %s: %w", arc.name, err))
			continue
		}
		a.logger.Info("snapshot published", "archive", arc.name, "version", version)
	}
	return errors.Join(errs...)
}

func sealFile(enc dupi.Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening catalog snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating sealed snapshot: %w", err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("writing sealed snapshot: %w", err)
	}
	return nil
}

func uploadFile(ctx context.Context, arc namedArchive, hostID, path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}
	return arc.PutSnapshot(ctx, hostID, f, info.Size(), version)
}

// RestoreOptions selects what RestoreSnapshot fetches.
type RestoreOptions struct {
	// Archive names the archive to restore from. Empty selects the first
	// configured archive.
	Archive string

	// Passphrase unlocks the private key of encrypted snapshots.
	Passphrase string

	// Force replaces a local catalog that is newer than the snapshot.
	Force bool
}

// RestoreSnapshot replaces the local catalog file with the host's snapshot
// from an archive and returns the restored version. The new catalog is
// migrated and checked before it replaces the old one.
func RestoreSnapshot(ctx context.Context, cfg *config.Config, opts RestoreOptions) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if cfg.Catalog.Type != "sqlite" {
		return 0, &dupi.ConfigError{Field: "catalog.type", Reason: "only a sqlite catalog can be restored"}
	}
	archives, err := newArchives(ctx, cfg.Archives)
	if err != nil {
		return 0, err
	}
	return restoreSnapshot(ctx, cfg, archives, opts)
}

func restoreSnapshot(ctx context.Context, cfg *config.Config, archives []namedArchive, opts RestoreOptions) (int64, error) {
	arc, err := pickArchive(archives, opts.Archive)
	if err != nil {
		return 0, err
	}

	version, err := arc.SnapshotVersion(ctx, cfg.HostID)
	if err != nil {
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("archive %s: host %s: %w", arc.name, cfg.HostID, archive.ErrSnapshotNotFound)
	}

	target := database.CatalogPath(cfg.Catalog.DataDir, cfg.HostID)
	if !opts.Force {
		local, err := localVersion(ctx, target)
		if err != nil {
			return 0, err
		}
		if local > version {
			return 0, fmt.Errorf("local catalog (version %d) is newer than the snapshot (version %d); use --force to replace it", local, version)
		}
	}

	if err := os.MkdirAll(cfg.Catalog.DataDir, 0700); err != nil {
		return 0, fmt.Errorf("creating catalog directory: %w", err)
	}
	staged, err := downloadSnapshot(ctx, cfg, arc, opts.Passphrase)
	if err != nil {
		return 0, err
	}
	defer os.Remove(staged)

	if err := checkCatalogFile(staged); err != nil {
		return 0, err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(target + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("removing stale %s file: %w", suffix, err)
		}
	}
	if err := os.Rename(staged, target); err != nil {
		return 0, fmt.Errorf("replacing catalog: %w", err)
	}
	return version, nil
}

func pickArchive(archives []namedArchive, name string) (namedArchive, error) {
	if len(archives) == 0 {
		return namedArchive{}, &dupi.ConfigError{Field: "archives", Reason: "no archives configured"}
	}
	if name == "" {
		return archives[0], nil
	}
	for _, a := range archives {
		if a.name == name {
			return a, nil
		}
	}
	return namedArchive{}, &dupi.ConfigError{Field: "archive", Reason: fmt.Sprintf("no archive named %q", name)}
}

// localVersion returns the latest scan run ID of the catalog at path, or 0
// when there is no catalog yet.
func localVersion(ctx context.Context, path string) (int64, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	catalog, err := database.NewSQLiteCatalog(path, dupi.RealClock{}, dupi.UUIDGenerator{})
	if err != nil {
		return 0, fmt.Errorf("opening local catalog: %w", err)
	}
	defer catalog.Close()
	if err := catalog.Migrate(); err != nil {
		return 0, fmt.Errorf("migrating local catalog: %w", err)
	}
	v, err := catalog.MaxScanRunID(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading local catalog version: %w", err)
	}
	return v, nil
}

// downloadSnapshot fetches the snapshot into a temp file next to the
// catalog, decrypting it when encryption is on, and returns its path.
func downloadSnapshot(ctx context.Context, cfg *config.Config, arc namedArchive, passphrase string) (string, error) {
	raw, err := os.CreateTemp(cfg.Catalog.DataDir, ".restore-*.download")
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	defer os.Remove(raw.Name())
	if err := arc.GetSnapshot(ctx, cfg.HostID, raw); err != nil {
		raw.Close()
		return "", fmt.Errorf("downloading snapshot from archive %s: %w", arc.name, err)
	}
	if _, err := raw.Seek(0, io.SeekStart); err != nil {
		raw.Close()
		return "", fmt.Errorf("rewinding download: %w", err)
	}
	defer raw.Close()

	out, err := os.CreateTemp(cfg.Catalog.DataDir, ".restore-*.db")
	if err != nil {
		return "", fmt.Errorf("creating restore file: %w", err)
	}
	fail := func(err error) (string, error) {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}

	enc, err := newEncryptor(cfg.Encryption)
	if err != nil {
		return fail(fmt.Errorf("creating encryptor: %w", err))
	}
	if enc == nil {
		if _, err := out.ReadFrom(raw); err != nil {
			return fail(fmt.Errorf("copying snapshot: %w", err))
		}
	} else {
		dc, err := enc.Unlock(passphrase)
		if err != nil {
			return fail(fmt.Errorf("unlocking private key: %w", err))
		}
		if err := dc.Decrypt(raw, out); err != nil {
			return fail(fmt.Errorf("decrypting snapshot: %w", err))
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("writing restore file: %w", err)
	}
	return out.Name(), nil
}

// checkCatalogFile migrates the restored catalog to the current schema and
// confirms it can be read.
func checkCatalogFile(path string) error {
	catalog, err := database.NewSQLiteCatalog(path, dupi.RealClock{}, dupi.UUIDGenerator{})
	if err != nil {
		return fmt.Errorf("opening restored catalog: %w", err)
	}
	defer catalog.Close()
	if err := catalog.Migrate(); err != nil {
		return fmt.Errorf("migrating restored catalog: %w", err)
	}
	if _, err := catalog.ListRoots(context.Background()); err != nil {
		return fmt.Errorf("reading restored catalog: %w", err)
	}
	return nil
}

// CatalogFile returns where the sqlite catalog for cfg lives.
func CatalogFile(cfg *config.Config) string {
	return filepath.Clean(database.CatalogPath(cfg.Catalog.DataDir, cfg.HostID))
}
