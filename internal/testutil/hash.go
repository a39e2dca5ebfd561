package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sync/atomic"

	"dupi-go/internal/dupi"
)

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CountingHasher wraps a Hasher and counts how many digests were started.
type CountingHasher struct {
	dupi.Hasher
	calls atomic.Int64
}

// NewCountingHasher wraps h.
func NewCountingHasher(h dupi.Hasher) *CountingHasher {
	return &CountingHasher{Hasher: h}
}

func (c *CountingHasher) New() hash.Hash {
	c.calls.Add(1)
	return c.Hasher.New()
}

// Calls returns the number of New calls so far.
func (c *CountingHasher) Calls() int64 {
	return c.calls.Load()
}

// Reset zeroes the call counter.
func (c *CountingHasher) Reset() {
	c.calls.Store(0)
}

// ConstantHasher produces the same digest for every input. It stands in for
// a fast fingerprint with engineered collisions.
type ConstantHasher struct {
	name string
}

// NewConstantHasher creates a ConstantHasher reporting the given name.
func NewConstantHasher(name string) *ConstantHasher {
	return &ConstantHasher{name: name}
}

func (c *ConstantHasher) Name() string   { return c.name }
func (c *ConstantHasher) New() hash.Hash { return constantHash{} }

type constantHash struct{}

func (constantHash) Write(p []byte) (int, error) { return len(p), nil }
func (constantHash) Sum(b []byte) []byte         { return append(b, 0xc0, 0x11, 0x1d, 0xe5) }
func (constantHash) Reset()                      {}
func (constantHash) Size() int                   { return 4 }
func (constantHash) BlockSize() int              { return 1 }

// CancelAfterHasher wraps a Hasher and calls cancel once New has been
// called more than after times. It simulates an interruption partway
// through a scan.
type CancelAfterHasher struct {
	dupi.Hasher
	after  int64
	cancel func()
	calls  atomic.Int64
}

// NewCancelAfterHasher wraps h.
func NewCancelAfterHasher(h dupi.Hasher, after int64, cancel func()) *CancelAfterHasher {
	return &CancelAfterHasher{Hasher: h, after: after, cancel: cancel}
}

func (c *CancelAfterHasher) New() hash.Hash {
	if c.calls.Add(1) > c.after {
		c.cancel()
	}
	return c.Hasher.New()
}

var (
	_ dupi.Hasher = (*CountingHasher)(nil)
	_ dupi.Hasher = (*ConstantHasher)(nil)
	_ dupi.Hasher = (*CancelAfterHasher)(nil)
)
