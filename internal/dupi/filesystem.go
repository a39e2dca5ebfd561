package dupi

import (
	"context"
	"io"
)

// WalkOptions controls a directory traversal.
type WalkOptions struct {
	// Exclude holds ignore patterns. Patterns without '/' match basenames;
	// patterns with '/' match the path relative to the root.
	Exclude []string

	// Patterns, when non-nil, is the complete ignore set returned by
	// IgnorePatterns and is used in place of Exclude.
	Patterns []string

	// FollowSymlinks descends into symlinked directories and treats
	// symlinked files as regular files.
	FollowSymlinks bool
}

// EmitFunc receives one scanned entry. Returning an error stops the walk.
type EmitFunc func(FileEntry) error

// FailFunc receives soft failures found during a walk.
type FailFunc func(error)

// ReadableFile is an open file handed to the hashing pipeline.
type ReadableFile interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// FilesystemManager abstracts filesystem access for scanning and hashing.
type FilesystemManager interface {
	// Walk traverses root and calls emit for every file found, exactly
	// once per path. Unreadable directories and symlink loops are reported
	// through fail as *TraversalError and do not stop the walk. Walk
	// returns ctx.Err() when cancelled, or the first error emit returns.
	Walk(ctx context.Context, root string, opts WalkOptions, emit EmitFunc, fail FailFunc) error

	// IgnorePatterns returns the complete ignore set a walk of root
	// applies: built-in defaults, exclude and the root's ignore file. A
	// malformed pattern is a *ConfigError.
	IgnorePatterns(root string, exclude []string) ([]string, error)

	// Open opens a file for hashing.
	Open(path string) (ReadableFile, error)

	// Stat returns a fresh entry for path, following symlinks.
	Stat(path string) (FileEntry, error)

	// IsDir reports whether path is an existing directory.
	IsDir(path string) (bool, error)
}
