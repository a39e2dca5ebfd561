package dupi

import (
	"io/fs"
	"time"
)

// FileKind tags what the scanner found at a path.
type FileKind string

const (
	KindRegular    FileKind = "regular"
	KindSymlink    FileKind = "symlink"
	KindUnreadable FileKind = "unreadable"
)

// KindFromMode derives the FileKind for a mode returned by lstat.
// Anything that is neither a regular file nor a symlink is reported as
// unreadable, since it has no byte content to hash.
func KindFromMode(mode fs.FileMode) FileKind {
	switch {
	case mode.IsRegular():
		return KindRegular
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindUnreadable
	}
}

// FileEntry is a single file found by a scan. Entries are transient: the
// scanner produces them and the hashing pipeline consumes them immediately.
type FileEntry struct {
	Path       string
	Size       int64
	ModTime    time.Time
	Kind       FileKind
	LinkTarget string // set for KindSymlink

	// Identity of the underlying inode. Zero when the platform does not
	// expose it.
	Device uint64
	Inode  uint64
	Nlink  uint64
}

// SameContentKey reports whether e still has the size and mtime that a
// record's hashes were computed from. Mtimes compare as the nanosecond
// counts the catalog stores.
func (e FileEntry) SameContentKey(size int64, modTime time.Time) bool {
	return e.Size == size && e.ModTime.UnixNano() == modTime.UnixNano()
}
