package dupi

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"
)

// StrongHashMode selects when a scan computes strong content hashes.
type StrongHashMode string

const (
	// StrongHashEager computes the strong hash of every new or changed
	// file during the scan.
	StrongHashEager StrongHashMode = "eager"

	// StrongHashLazy defers strong hashing until duplicates are queried;
	// only files whose fast fingerprints collide are ever fully read.
	StrongHashLazy StrongHashMode = "lazy"
)

const (
	DefaultQueueSize  = 256
	DefaultChunkSize  = 1 << 20
	DefaultSampleSize = 64 << 10
)

// ScanOptions tunes a scan pass. Zero values select defaults.
type ScanOptions struct {
	Exclude        []string
	FollowSymlinks bool

	// Workers is the number of hashing workers. Defaults to the number
	// of CPUs.
	Workers int

	// QueueSize bounds both the entry queue and the result queue.
	QueueSize int

	StrongHash StrongHashMode

	// ReadTimeout bounds hashing of a single file. Zero disables it.
	ReadTimeout time.Duration

	// ChunkSize is the read buffer size used for full-content hashing.
	ChunkSize int

	// SampleSize is the size of each head/middle/tail sample read for the
	// fast fingerprint.
	SampleSize int
}

// withDefaults returns a copy of o with zero values replaced by defaults.
func (o ScanOptions) withDefaults() ScanOptions {
	if o.Workers == 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.QueueSize == 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.StrongHash == "" {
		o.StrongHash = StrongHashEager
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.SampleSize == 0 {
		o.SampleSize = DefaultSampleSize
	}
	return o
}

// Validate rejects options that cannot produce a meaningful scan.
func (o ScanOptions) Validate() error {
	switch {
	case o.Workers < 0:
		return &ConfigError{Field: "workers", Reason: fmt.Sprintf("must not be negative, got %d", o.Workers)}
	case o.QueueSize < 0:
		return &ConfigError{Field: "queue_size", Reason: fmt.Sprintf("must not be negative, got %d", o.QueueSize)}
	case o.ChunkSize < 0:
		return &ConfigError{Field: "chunk_size", Reason: fmt.Sprintf("must not be negative, got %d", o.ChunkSize)}
	case o.SampleSize < 0:
		return &ConfigError{Field: "sample_size", Reason: fmt.Sprintf("must not be negative, got %d", o.SampleSize)}
	case o.ReadTimeout < 0:
		return &ConfigError{Field: "read_timeout", Reason: fmt.Sprintf("must not be negative, got %s", o.ReadTimeout)}
	}

	switch o.StrongHash {
	case "", StrongHashEager, StrongHashLazy:
	default:
		return &ConfigError{Field: "strong_hash", Reason: fmt.Sprintf("unknown mode %q (want eager or lazy)", o.StrongHash)}
	}

	for _, pattern := range o.Exclude {
		if pattern == "" {
			return &ConfigError{Field: "exclude", Reason: "empty pattern"}
		}
		if _, err := filepath.Match(pattern, ""); err != nil {
			return &ConfigError{Field: "exclude", Reason: fmt.Sprintf("bad pattern %q: %v", pattern, err)}
		}
	}
	return nil
}
