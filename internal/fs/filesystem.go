package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"dupi-go/internal/dupi"
)

// IgnoreFileName is the per-root file holding extra exclusion patterns.
const IgnoreFileName = ".dupiignore"

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

// Walk traverses root depth-first with an explicit directory stack. Entries
// are emitted as each directory is read, so memory stays proportional to the
// depth and width of the tree rather than its size.
//
// An error reading root itself is returned, not reported through fail: a scan
// that cannot see its root must not conclude that every file is gone.
func (m *OSFilesystemManager) Walk(ctx context.Context, root string, opts dupi.WalkOptions, emit dupi.EmitFunc, fail dupi.FailFunc) error {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root is not a directory: %s", root)
	}

	patterns := opts.Patterns
	if patterns == nil {
		if patterns, err = IgnorePatterns(root, opts.Exclude); err != nil {
			return err
		}
	}

	w := &walker{
		root:    root,
		opts:    opts,
		matcher: NewIgnoreMatcher(patterns),
		emit:    emit,
		fail:    fail,
	}
	top := dirFrame{path: root}
	if opts.FollowSymlinks {
		top.chain = &ancestor{id: identityOf(info)}
	}
	return w.run(ctx, top)
}

// IgnorePatterns returns the ignore set for a walk of root: the built-in
// defaults, exclude and the patterns of root's ignore file, all validated.
func IgnorePatterns(root string, exclude []string) ([]string, error) {
	if err := ValidatePatterns("exclude", exclude); err != nil {
		return nil, err
	}
	filePatterns, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	if err := ValidatePatterns(IgnoreFileName, filePatterns); err != nil {
		return nil, err
	}
	return slices.Concat(defaultIgnorePatterns, exclude, filePatterns), nil
}

// IgnorePatterns implements dupi.FilesystemManager.
func (m *OSFilesystemManager) IgnorePatterns(root string, exclude []string) ([]string, error) {
	return IgnorePatterns(filepath.Clean(root), exclude)
}

// ancestor links a directory's identity to its parent's, so a walk that
// follows symlinks can tell a loop from a second path to the same directory.
type ancestor struct {
	id     fileID
	parent *ancestor
}

func (a *ancestor) contains(id fileID) bool {
	for ; a != nil; a = a.parent {
		if a.id.dev == id.dev && a.id.ino == id.ino {
			return true
		}
	}
	return false
}

type dirFrame struct {
	path  string
	chain *ancestor // nil unless following symlinks
}

type walker struct {
	root    string
	opts    dupi.WalkOptions
	matcher *IgnoreMatcher
	emit    dupi.EmitFunc
	fail    dupi.FailFunc
	stack   []dirFrame
}

func (w *walker) run(ctx context.Context, top dirFrame) error {
	w.stack = []dirFrame{top}
	for len(w.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		dir := frame.path

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == w.root {
				return fmt.Errorf("reading root %s: %w", dir, err)
			}
			if !errors.Is(err, fs.ErrNotExist) {
				w.fail(&dupi.TraversalError{Path: dir, Err: err})
			}
			continue
		}

		var subdirs []dirFrame
		for _, de := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, de.Name())
			rel, err := filepath.Rel(w.root, path)
			if err != nil {
				return fmt.Errorf("relative path of %s: %w", path, err)
			}
			if w.matcher.Match(rel, de.IsDir()) {
				continue
			}

			sub, descend, err := w.visit(path, frame.chain)
			if err != nil {
				return err
			}
			if descend {
				subdirs = append(subdirs, sub)
			}
		}

		// Pushed in reverse so siblings are visited in name order.
		for i := len(subdirs) - 1; i >= 0; i-- {
			w.stack = append(w.stack, subdirs[i])
		}
	}
	return nil
}

// visit handles one directory entry. It reports whether path is a directory
// to descend into, and the frame to push for it.
func (w *walker) visit(path string, chain *ancestor) (dirFrame, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dirFrame{}, false, nil
		}
		return dirFrame{}, false, w.emit(dupi.FileEntry{Path: path, Kind: dupi.KindUnreadable})
	}

	mode := info.Mode()
	switch {
	case mode.IsDir():
		return w.enterDir(path, info, chain)
	case mode.IsRegular():
		return dirFrame{}, false, w.emit(entryFromInfo(path, info))
	case mode&fs.ModeSymlink != 0:
		return w.visitSymlink(path, info, chain)
	default:
		// Devices, pipes and sockets have no content to index.
		return dirFrame{}, false, nil
	}
}

func (w *walker) visitSymlink(path string, info fs.FileInfo, chain *ancestor) (dirFrame, bool, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return dirFrame{}, false, w.emit(dupi.FileEntry{Path: path, Kind: dupi.KindUnreadable})
	}
	link := entryFromInfo(path, info)
	link.LinkTarget = target

	if !w.opts.FollowSymlinks {
		return dirFrame{}, false, w.emit(link)
	}

	resolved, err := os.Stat(path)
	if err != nil {
		// Dangling links are indexed as links.
		return dirFrame{}, false, w.emit(link)
	}
	switch {
	case resolved.IsDir():
		return w.enterDir(path, resolved, chain)
	case resolved.Mode().IsRegular():
		return dirFrame{}, false, w.emit(entryFromInfo(path, resolved))
	default:
		return dirFrame{}, false, nil
	}
}

// enterDir returns the frame for walking the directory at path. When
// following symlinks, a directory that is its own ancestor is a loop. A
// directory reached by two paths without a loop is walked under both, since
// each path is indexed on its own.
func (w *walker) enterDir(path string, info fs.FileInfo, chain *ancestor) (dirFrame, bool, error) {
	if !w.opts.FollowSymlinks {
		return dirFrame{path: path}, true, nil
	}
	id := identityOf(info)
	if id.ino != 0 && chain.contains(id) {
		w.fail(&dupi.TraversalError{Path: path, Err: dupi.ErrSymlinkLoop})
		return dirFrame{}, false, nil
	}
	return dirFrame{path: path, chain: &ancestor{id: id, parent: chain}}, true, nil
}

func entryFromInfo(path string, info fs.FileInfo) dupi.FileEntry {
	id := identityOf(info)
	return dupi.FileEntry{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Kind:    dupi.KindFromMode(info.Mode()),
		Device:  id.dev,
		Inode:   id.ino,
		Nlink:   id.nlink,
	}
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(path string) (dupi.ReadableFile, error) {
	f, err := openSequential(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stat returns a fresh entry for path, following symlinks.
func (m *OSFilesystemManager) Stat(path string) (dupi.FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return dupi.FileEntry{}, err
	}
	return entryFromInfo(path, info), nil
}

// IsDir reports whether path is an existing directory.
func (m *OSFilesystemManager) IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Compile-time check that OSFilesystemManager implements dupi.FilesystemManager interface
var _ dupi.FilesystemManager = (*OSFilesystemManager)(nil)
