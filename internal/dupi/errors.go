package dupi

import (
	"errors"
	"fmt"
)

// SoftFileError is a per-file failure (unreadable, vanished, permission
// denied, read timeout). The scan records it and moves on.
type SoftFileError struct {
	Path string
	Err  error
}

func (e *SoftFileError) Error() string { return fmt.Sprintf("file %s: %v", e.Path, e.Err) }
func (e *SoftFileError) Unwrap() error { return e.Err }

// TraversalError is a per-subtree failure (unreadable directory, symlink
// loop). Traversal continues past the subtree.
type TraversalError struct {
	Path string
	Err  error
}

func (e *TraversalError) Error() string { return fmt.Sprintf("traversing %s: %v", e.Path, e.Err) }
func (e *TraversalError) Unwrap() error { return e.Err }

// StoreError is a catalog write or consistency failure. It aborts the
// current scan pass; everything committed before it stays valid.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("catalog %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// ConfigError rejects invalid input before any work begins.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// ErrSymlinkLoop is wrapped in a TraversalError when following symlinks
// leads back to a directory already on the walk.
var ErrSymlinkLoop = errors.New("symlink loop")

// ErrChangedDuringHash marks a file whose size or mtime moved while it was
// being read.
var ErrChangedDuringHash = errors.New("file changed while hashing")

// FailureKind classifies an entry in ScanReport.SoftFailures.
type FailureKind string

const (
	FailureFile      FailureKind = "file"
	FailureTraversal FailureKind = "traversal"
)

// SoftFailure is one recorded non-fatal failure.
type SoftFailure struct {
	Path   string
	Kind   FailureKind
	Reason string
}

// NewSoftFailure classifies err into a SoftFailure. Errors that are neither
// TraversalError nor SoftFileError are treated as per-file failures at path.
func NewSoftFailure(path string, err error) *SoftFailure {
	var terr *TraversalError
	if errors.As(err, &terr) {
		return &SoftFailure{Path: terr.Path, Kind: FailureTraversal, Reason: terr.Err.Error()}
	}
	var ferr *SoftFileError
	if errors.As(err, &ferr) {
		return &SoftFailure{Path: ferr.Path, Kind: FailureFile, Reason: ferr.Err.Error()}
	}
	return &SoftFailure{Path: path, Kind: FailureFile, Reason: err.Error()}
}

// IsStoreError reports whether err is, or wraps, a StoreError.
func IsStoreError(err error) bool {
	var serr *StoreError
	return errors.As(err, &serr)
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var cerr *ConfigError
	return errors.As(err, &cerr)
}
