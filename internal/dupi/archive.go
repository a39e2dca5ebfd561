package dupi

import (
	"context"
	"io"
)

// SnapshotArchive stores copies of the catalog database off the live
// catalog file. Snapshots are per host and carry a version (the highest
// scan run ID they contain) so a stale local catalog can be detected.
type SnapshotArchive interface {
	// PutSnapshot stores the snapshot read from r, replacing any previous
	// one for the host. size is the number of bytes that will be read.
	PutSnapshot(ctx context.Context, hostID string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the stored snapshot for the host to w.
	GetSnapshot(ctx context.Context, hostID string, w io.Writer) error

	// SnapshotVersion returns the version of the stored snapshot, or 0 if
	// none has been stored for the host.
	SnapshotVersion(ctx context.Context, hostID string) (int64, error)

	// ValidateSetup verifies that the archive is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
