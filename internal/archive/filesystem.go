package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"dupi-go/internal/dupi"
)

// FileSystemArchive stores snapshots as files, for example on a mounted
// backup disk:
//
//	<root>/
//	  snapshots/
//	    <hostID>.db.age      (encrypted catalog snapshot)
//	    <hostID>.version     (highest scan run ID in the snapshot)
type FileSystemArchive struct {
	name string
	root string
	dir  string
}

// NewFileSystemArchive creates an archive rooted at root.
func NewFileSystemArchive(name, root string) (*FileSystemArchive, error) {
	dir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileSystemArchive{name: name, root: root, dir: dir}, nil
}

func (a *FileSystemArchive) snapshotPath(hostID string) string {
	return filepath.Join(a.dir, hostID+".db.age")
}

func (a *FileSystemArchive) versionPath(hostID string) string {
	return filepath.Join(a.dir, hostID+".version")
}

// PutSnapshot atomically replaces the host's snapshot, then its version.
// A reader that sees the new version always finds the new snapshot.
func (a *FileSystemArchive) PutSnapshot(ctx context.Context, hostID string, r io.Reader, size int64, version int64) error {
	if err := validHostID(hostID); err != nil {
		return err
	}
	if err := a.writeFile(ctx, a.snapshotPath(hostID), r, size); err != nil {
		return err
	}
	data := []byte(strconv.FormatInt(version, 10))
	return a.writeFile(ctx, a.versionPath(hostID), bytes.NewReader(data), int64(len(data)))
}

// GetSnapshot writes the host's snapshot to w.
func (a *FileSystemArchive) GetSnapshot(ctx context.Context, hostID string, w io.Writer) error {
	f, err := os.Open(a.snapshotPath(hostID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("host %s: %w", hostID, ErrSnapshotNotFound)
		}
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the stored version, or 0 when there is none.
func (a *FileSystemArchive) SnapshotVersion(ctx context.Context, hostID string) (int64, error) {
	data, err := os.ReadFile(a.versionPath(hostID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}
	return parseVersion(string(data))
}

// ValidateSetup verifies that the snapshot directory exists and accepts writes.
func (a *FileSystemArchive) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(a.dir)
	if err != nil {
		return fmt.Errorf("archive directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive path is not a directory: %s", a.dir)
	}

	f, err := os.CreateTemp(a.dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("archive directory not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeFile writes r to destPath through a temp file and rename.
func (a *FileSystemArchive) writeFile(ctx context.Context, destPath string, r io.Reader, expectedSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemArchive implements dupi.SnapshotArchive interface
var _ dupi.SnapshotArchive = (*FileSystemArchive)(nil)
