package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"dupi-go/internal/dupi"
)

type memorySnapshot struct {
	data    []byte
	version int64
}

// MemoryArchive keeps snapshots in memory. Safe for concurrent use.
type MemoryArchive struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{
		name:      name,
		snapshots: make(map[string]memorySnapshot),
	}
}

// PutSnapshot replaces the host's snapshot.
func (m *MemoryArchive) PutSnapshot(ctx context.Context, hostID string, r io.Reader, size int64, version int64) error {
	if err := validHostID(hostID); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[hostID] = memorySnapshot{data: data, version: version}
	return nil
}

// GetSnapshot writes the host's snapshot to w.
func (m *MemoryArchive) GetSnapshot(ctx context.Context, hostID string, w io.Writer) error {
	m.mu.RLock()
	snap, ok := m.snapshots[hostID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("host %s: %w", hostID, ErrSnapshotNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(snap.data)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the stored version, or 0.
func (m *MemoryArchive) SnapshotVersion(ctx context.Context, hostID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[hostID].version, nil
}

// ValidateSetup always succeeds for an in-memory archive.
func (m *MemoryArchive) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryArchive implements dupi.SnapshotArchive interface
var _ dupi.SnapshotArchive = (*MemoryArchive)(nil)
