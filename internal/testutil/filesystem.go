package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"dupi-go/internal/dupi"
)

// MockFile represents a file in the mock filesystem. Hard links share one
// MockFile.
type MockFile struct {
	Content    []byte
	ModTime    time.Time
	Inode      uint64
	LinkTarget string // non-empty for symlinks
	Unreadable bool   // Open fails with fs.ErrPermission
}

// MockFilesystemManager is an in-memory filesystem for testing. Paths are
// slash-separated and absolute. Walk visits paths in sorted order, so scans
// over it are deterministic.
type MockFilesystemManager struct {
	mu             sync.RWMutex
	files          map[string]*MockFile
	dirs           map[string]bool
	unreadableDirs map[string]bool
	base           time.Time
	ticks          int
	nextInode      uint64
	openHook       func(path string)
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:          make(map[string]*MockFile),
		dirs:           map[string]bool{"/": true},
		unreadableDirs: make(map[string]bool),
		base:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a fresh, strictly increasing modification time.
func (m *MockFilesystemManager) tick() time.Time {
	m.ticks++
	return m.base.Add(time.Duration(m.ticks) * time.Second)
}

func (m *MockFilesystemManager) addParents(p string) {
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		m.dirs[dir] = true
		if dir == "/" || dir == "." {
			return
		}
	}
}

// AddFile adds a file to the mock filesystem, replacing any file at path.
func (m *MockFilesystemManager) AddFile(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextInode++
	m.files[p] = &MockFile{Content: content, ModTime: m.tick(), Inode: m.nextInode}
	m.addParents(p)
}

// AddDirectory adds an empty directory to the mock filesystem.
func (m *MockFilesystemManager) AddDirectory(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[p] = true
	m.addParents(p)
}

// AddSymlink adds a symlink at p pointing to target.
func (m *MockFilesystemManager) AddSymlink(p, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextInode++
	m.files[p] = &MockFile{LinkTarget: target, ModTime: m.tick(), Inode: m.nextInode}
	m.addParents(p)
}

// Link creates a hard link at newPath to the file at oldPath.
func (m *MockFilesystemManager) Link(oldPath, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[oldPath]
	if !ok {
		panic("mock link: no file at " + oldPath)
	}
	m.files[newPath] = f
	m.addParents(newPath)
}

// WriteFile replaces the content of the file at p and bumps its mtime,
// keeping its inode.
func (m *MockFilesystemManager) WriteFile(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		panic("mock write: no file at " + p)
	}
	f.Content = content
	f.ModTime = m.tick()
}

// Touch bumps the mtime of the file at p without changing its content.
func (m *MockFilesystemManager) Touch(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		panic("mock touch: no file at " + p)
	}
	f.ModTime = m.tick()
}

// Remove deletes the file at p, or the directory at p with everything
// below it.
func (m *MockFilesystemManager) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	delete(m.dirs, p)
	prefix := strings.TrimSuffix(p, "/") + "/"
	for fp := range m.files {
		if strings.HasPrefix(fp, prefix) {
			delete(m.files, fp)
		}
	}
	for dp := range m.dirs {
		if strings.HasPrefix(dp, prefix) {
			delete(m.dirs, dp)
		}
	}
}

// SetUnreadableDir makes listing the directory at p fail.
func (m *MockFilesystemManager) SetUnreadableDir(p string, unreadable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreadableDirs[p] = unreadable
}

// SetUnreadableFile makes opening the file at p fail.
func (m *MockFilesystemManager) SetUnreadableFile(p string, unreadable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[p]; ok {
		f.Unreadable = unreadable
	}
}

// SetOpenHook installs a function called with the path after every
// successful Open, before the reader is returned. The hook may mutate the
// filesystem.
func (m *MockFilesystemManager) SetOpenHook(hook func(path string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openHook = hook
}

func (m *MockFilesystemManager) entry(p string, f *MockFile) dupi.FileEntry {
	e := dupi.FileEntry{
		Path:    p,
		Size:    int64(len(f.Content)),
		ModTime: f.ModTime,
		Kind:    dupi.KindRegular,
		Device:  1,
		Inode:   f.Inode,
		Nlink:   1,
	}
	if f.LinkTarget != "" {
		e.Kind = dupi.KindSymlink
		e.LinkTarget = f.LinkTarget
		e.Size = int64(len(f.LinkTarget))
	}
	return e
}

func within(root, p string) bool {
	return root == "/" || strings.HasPrefix(p, root+"/")
}

// excluded applies ignore patterns to every ancestor of rel, so excluded
// directories prune their subtree.
func excluded(rel string, patterns []string) bool {
	parts := strings.Split(rel, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		for _, pat := range patterns {
			target := parts[i]
			if strings.Contains(pat, "/") {
				target = prefix
			}
			if ok, _ := path.Match(pat, target); ok {
				return true
			}
		}
	}
	return false
}

// Walk emits every file under root in sorted order. Each unreadable
// directory is reported once and its subtree is skipped. Symlinks are never
// followed.
func (m *MockFilesystemManager) Walk(ctx context.Context, root string, opts dupi.WalkOptions, emit dupi.EmitFunc, fail dupi.FailFunc) error {
	patterns := opts.Patterns
	if patterns == nil {
		var err error
		if patterns, err = m.IgnorePatterns(root, opts.Exclude); err != nil {
			return err
		}
	}

	m.mu.RLock()
	if !m.dirs[root] {
		m.mu.RUnlock()
		return &fs.PathError{Op: "stat", Path: root, Err: fs.ErrNotExist}
	}
	if m.unreadableDirs[root] {
		m.mu.RUnlock()
		return &fs.PathError{Op: "open", Path: root, Err: fs.ErrPermission}
	}

	var blocked []string
	for d, unreadable := range m.unreadableDirs {
		if unreadable && m.dirs[d] && within(root, d) {
			blocked = append(blocked, d)
		}
	}
	slices.Sort(blocked)
	// Only the outermost unreadable directory of a subtree is visible.
	var reported []string
	for _, d := range blocked {
		if !slices.ContainsFunc(reported, func(r string) bool { return within(r, d) }) {
			reported = append(reported, d)
		}
	}

	var entries []dupi.FileEntry
	for p, f := range m.files {
		if !within(root, p) {
			continue
		}
		if slices.ContainsFunc(reported, func(d string) bool { return within(d, p) }) {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if excluded(rel, patterns) {
			continue
		}
		entries = append(entries, m.entry(p, f))
	}
	m.mu.RUnlock()

	for _, d := range reported {
		rel := strings.TrimPrefix(strings.TrimPrefix(d, root), "/")
		if !excluded(rel, patterns) {
			fail(&dupi.TraversalError{Path: d, Err: fs.ErrPermission})
		}
	}

	slices.SortFunc(entries, func(a, b dupi.FileEntry) int { return strings.Compare(a.Path, b.Path) })
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

type mockReadable struct {
	*bytes.Reader
}

func (mockReadable) Close() error { return nil }

// Open returns a reader over a snapshot of the file's content.
func (m *MockFilesystemManager) Open(p string) (dupi.ReadableFile, error) {
	m.mu.RLock()
	f, ok := m.files[p]
	if ok && f.LinkTarget != "" {
		f, ok = m.files[f.LinkTarget]
	}
	if !ok {
		m.mu.RUnlock()
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	if f.Unreadable {
		m.mu.RUnlock()
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrPermission}
	}
	content := slices.Clone(f.Content)
	hook := m.openHook
	m.mu.RUnlock()

	if hook != nil {
		hook(p)
	}
	return mockReadable{bytes.NewReader(content)}, nil
}

// Stat returns a fresh entry for p, following symlinks.
func (m *MockFilesystemManager) Stat(p string) (dupi.FileEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[p]
	if ok && f.LinkTarget != "" {
		f, ok = m.files[f.LinkTarget]
	}
	if !ok {
		return dupi.FileEntry{}, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}
	return m.entry(p, f), nil
}

// MockIgnoreFile is the per-root ignore file the mock honors.
const MockIgnoreFile = ".dupiignore"

// IgnorePatterns returns the ignore file itself, exclude and the lines of
// root's ignore file. Patterns are plain path.Match globs here.
func (m *MockFilesystemManager) IgnorePatterns(root string, exclude []string) ([]string, error) {
	patterns := append([]string{MockIgnoreFile}, exclude...)
	m.mu.RLock()
	f, ok := m.files[path.Join(root, MockIgnoreFile)]
	var content []byte
	if ok {
		content = slices.Clone(f.Content)
	}
	m.mu.RUnlock()

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := path.Match(line, ""); err != nil {
			return nil, &dupi.ConfigError{Field: MockIgnoreFile, Reason: fmt.Sprintf("bad pattern %q: %v", line, err)}
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}

// IsDir reports whether p is a directory in the mock filesystem.
func (m *MockFilesystemManager) IsDir(p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[p], nil
}

// Content returns the current content of the file at p.
func (m *MockFilesystemManager) Content(p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	return slices.Clone(f.Content), nil
}

// Compile-time check
var _ dupi.FilesystemManager = (*MockFilesystemManager)(nil)
