package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"dupi-go/internal/dupi"
)

// walkResult collects everything a Walk reports.
type walkResult struct {
	entries  map[string]dupi.FileEntry
	failures []error
}

func (r *walkResult) paths() []string {
	var out []string
	for p := range r.entries {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func walk(t *testing.T, root string, opts dupi.WalkOptions) *walkResult {
	t.Helper()
	res := &walkResult{entries: make(map[string]dupi.FileEntry)}
	err := NewOSFilesystemManager().Walk(context.Background(), root, opts, func(e dupi.FileEntry) error {
		if _, dup := res.entries[e.Path]; dup {
			t.Errorf("path emitted twice: %s", e.Path)
		}
		res.entries[e.Path] = e
		return nil
	}, func(err error) {
		res.failures = append(res.failures, err)
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	return res
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
}

func TestOSFilesystemManager_Walk(t *testing.T) {
	t.Run("emits every regular file once", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "a.txt"), "alpha")
		writeFile(t, filepath.Join(root, "sub", "b.txt"), "bravo!")
		writeFile(t, filepath.Join(root, "sub", "deep", "c.txt"), "")

		res := walk(t, root, dupi.WalkOptions{})

		want := []string{
			filepath.Join(root, "a.txt"),
			filepath.Join(root, "sub", "b.txt"),
			filepath.Join(root, "sub", "deep", "c.txt"),
		}
		if got := res.paths(); !slices.Equal(got, want) {
			t.Fatalf("paths = %v, want %v", got, want)
		}
		b := res.entries[filepath.Join(root, "sub", "b.txt")]
		if b.Kind != dupi.KindRegular || b.Size != 6 {
			t.Errorf("b.txt = %+v, want regular of size 6", b)
		}
		if b.ModTime.IsZero() {
			t.Error("ModTime not set")
		}
		if len(res.failures) != 0 {
			t.Errorf("unexpected failures: %v", res.failures)
		}
	})

	t.Run("applies exclusion patterns", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "keep.txt"), "k")
		writeFile(t, filepath.Join(root, "debug.log"), "l")
		writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref")
		writeFile(t, filepath.Join(root, "build", "out", "bin"), "b")
		writeFile(t, filepath.Join(root, "build", "keep.o"), "o")

		res := walk(t, root, dupi.WalkOptions{Exclude: []string{"*.log", ".git", "build/out"}})

		want := []string{
			filepath.Join(root, "build", "keep.o"),
			filepath.Join(root, "keep.txt"),
		}
		if got := res.paths(); !slices.Equal(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
	})

	t.Run("reads patterns from the root ignore file", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, IgnoreFileName), "# scratch files\n*.tmp\n")
		writeFile(t, filepath.Join(root, "a.tmp"), "t")
		writeFile(t, filepath.Join(root, "a.txt"), "a")

		res := walk(t, root, dupi.WalkOptions{})

		want := []string{filepath.Join(root, "a.txt")}
		if got := res.paths(); !slices.Equal(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
	})

	t.Run("bad pattern in ignore file is a config error", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, IgnoreFileName), "[oops\n")
		writeFile(t, filepath.Join(root, "a.txt"), "a")

		emitted := 0
		err := NewOSFilesystemManager().Walk(context.Background(), root, dupi.WalkOptions{},
			func(dupi.FileEntry) error { emitted++; return nil }, func(error) {})
		if !dupi.IsConfigError(err) {
			t.Fatalf("Walk() error = %v, want ConfigError", err)
		}
		if emitted != 0 {
			t.Errorf("emitted %d entries before failing", emitted)
		}
	})

	t.Run("does not follow symlinks by default", func(t *testing.T) {
		root := t.TempDir()
		outside := t.TempDir()
		writeFile(t, filepath.Join(outside, "x.txt"), "outside")
		writeFile(t, filepath.Join(root, "a.txt"), "a")
		symlink(t, filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt"))
		symlink(t, outside, filepath.Join(root, "linkdir"))

		res := walk(t, root, dupi.WalkOptions{})

		link := res.entries[filepath.Join(root, "link.txt")]
		if link.Kind != dupi.KindSymlink {
			t.Errorf("link.txt kind = %s, want symlink", link.Kind)
		}
		if link.LinkTarget != filepath.Join(root, "a.txt") {
			t.Errorf("link.txt target = %q", link.LinkTarget)
		}
		if _, ok := res.entries[filepath.Join(root, "linkdir", "x.txt")]; ok {
			t.Error("descended into symlinked directory")
		}
		if e := res.entries[filepath.Join(root, "linkdir")]; e.Kind != dupi.KindSymlink {
			t.Errorf("linkdir kind = %s, want symlink", e.Kind)
		}
	})

	t.Run("follows symlinks when configured", func(t *testing.T) {
		root := t.TempDir()
		outside := t.TempDir()
		writeFile(t, filepath.Join(outside, "x.txt"), "outside")
		writeFile(t, filepath.Join(root, "a.txt"), "a")
		symlink(t, filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt"))
		symlink(t, outside, filepath.Join(root, "linkdir"))

		res := walk(t, root, dupi.WalkOptions{FollowSymlinks: true})

		link := res.entries[filepath.Join(root, "link.txt")]
		if link.Kind != dupi.KindRegular || link.Size != 1 {
			t.Errorf("link.txt = %+v, want regular of size 1", link)
		}
		if a := res.entries[filepath.Join(root, "a.txt")]; runtime.GOOS != "windows" && a.Inode != link.Inode {
			t.Errorf("followed link inode = %d, want target inode %d", link.Inode, a.Inode)
		}
		if _, ok := res.entries[filepath.Join(root, "linkdir", "x.txt")]; !ok {
			t.Error("did not descend into symlinked directory")
		}
	})

	t.Run("symlink loop is a traversal failure", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "sub", "a.txt"), "a")
		symlink(t, root, filepath.Join(root, "sub", "back"))

		res := walk(t, root, dupi.WalkOptions{FollowSymlinks: true})

		want := []string{filepath.Join(root, "sub", "a.txt")}
		if got := res.paths(); !slices.Equal(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
		if len(res.failures) != 1 {
			t.Fatalf("failures = %v, want exactly one", res.failures)
		}
		var terr *dupi.TraversalError
		if !errors.As(res.failures[0], &terr) || !errors.Is(terr, dupi.ErrSymlinkLoop) {
			t.Errorf("failure = %v, want symlink loop TraversalError", res.failures[0])
		}
		if terr != nil && terr.Path != filepath.Join(root, "sub", "back") {
			t.Errorf("loop path = %s", terr.Path)
		}
	})

	t.Run("two links to one directory are not a loop", func(t *testing.T) {
		root := t.TempDir()
		shared := t.TempDir()
		writeFile(t, filepath.Join(shared, "x.txt"), "x")
		symlink(t, shared, filepath.Join(root, "left"))
		symlink(t, shared, filepath.Join(root, "right"))

		res := walk(t, root, dupi.WalkOptions{FollowSymlinks: true})

		want := []string{
			filepath.Join(root, "left", "x.txt"),
			filepath.Join(root, "right", "x.txt"),
		}
		if got := res.paths(); !slices.Equal(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
		if len(res.failures) != 0 {
			t.Errorf("failures = %v, want none", res.failures)
		}
	})

	t.Run("unreadable directory is a traversal failure", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced")
		}
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "ok", "a.txt"), "a")
		writeFile(t, filepath.Join(root, "locked", "b.txt"), "b")
		locked := filepath.Join(root, "locked")
		if err := os.Chmod(locked, 0); err != nil {
			t.Fatalf("chmod: %v", err)
		}
		t.Cleanup(func() { os.Chmod(locked, 0755) })

		res := walk(t, root, dupi.WalkOptions{})

		want := []string{filepath.Join(root, "ok", "a.txt")}
		if got := res.paths(); !slices.Equal(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
		if len(res.failures) != 1 {
			t.Fatalf("failures = %v, want exactly one", res.failures)
		}
		var terr *dupi.TraversalError
		if !errors.As(res.failures[0], &terr) || terr.Path != locked {
			t.Errorf("failure = %v, want TraversalError for %s", res.failures[0], locked)
		}
	})

	t.Run("missing root is an error", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "gone")
		err := NewOSFilesystemManager().Walk(context.Background(), root, dupi.WalkOptions{},
			func(dupi.FileEntry) error { return nil }, func(error) {})
		if err == nil {
			t.Fatal("Walk() expected error for missing root")
		}
	})

	t.Run("file root is an error", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "file")
		writeFile(t, root, "x")
		err := NewOSFilesystemManager().Walk(context.Background(), root, dupi.WalkOptions{},
			func(dupi.FileEntry) error { return nil }, func(error) {})
		if err == nil {
			t.Fatal("Walk() expected error for non-directory root")
		}
	})

	t.Run("stops on emit error", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "a.txt"), "a")
		writeFile(t, filepath.Join(root, "b.txt"), "b")
		stop := errors.New("stop")

		calls := 0
		err := NewOSFilesystemManager().Walk(context.Background(), root, dupi.WalkOptions{},
			func(dupi.FileEntry) error { calls++; return stop }, func(error) {})
		if !errors.Is(err, stop) {
			t.Fatalf("Walk() error = %v, want %v", err, stop)
		}
		if calls != 1 {
			t.Errorf("emit called %d times, want 1", calls)
		}
	})

	t.Run("honors cancellation", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "a.txt"), "a")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewOSFilesystemManager().Walk(ctx, root, dupi.WalkOptions{},
			func(dupi.FileEntry) error { return nil }, func(error) {})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Walk() error = %v, want context.Canceled", err)
		}
	})

	t.Run("hard links share an inode", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("inode data not exposed")
		}
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "a.txt"), "same")
		if err := os.Link(filepath.Join(root, "a.txt"), filepath.Join(root, "b.txt")); err != nil {
			t.Skipf("hard links not supported: %v", err)
		}

		res := walk(t, root, dupi.WalkOptions{})

		a := res.entries[filepath.Join(root, "a.txt")]
		b := res.entries[filepath.Join(root, "b.txt")]
		if a.Inode == 0 || a.Inode != b.Inode || a.Device != b.Device {
			t.Errorf("inodes differ: a=%d/%d b=%d/%d", a.Device, a.Inode, b.Device, b.Inode)
		}
		if a.Nlink != 2 {
			t.Errorf("Nlink = %d, want 2", a.Nlink)
		}
	})
}

func TestOSFilesystemManager_Open(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	writeFile(t, path, "0123456789")

	f, err := NewOSFilesystemManager().Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	buf := make([]byte, 3)
	if _, err := f.ReadAt(buf, 4); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != "456" {
		t.Errorf("ReadAt() = %q, want %q", buf, "456")
	}
	all, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(all) != "0123456789" {
		t.Errorf("ReadAll() = %q", all)
	}

	if _, err := NewOSFilesystemManager().Open(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) error = %v, want ErrNotExist", err)
	}
}

func TestOSFilesystemManager_Stat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	writeFile(t, path, "hello")
	m := NewOSFilesystemManager()

	e, err := m.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if e.Path != path || e.Size != 5 || e.Kind != dupi.KindRegular {
		t.Errorf("Stat() = %+v", e)
	}

	if _, err := m.Stat(filepath.Join(dir, "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat(missing) error = %v, want ErrNotExist", err)
	}
}

func TestOSFilesystemManager_IsDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	writeFile(t, file, "x")
	m := NewOSFilesystemManager()

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"directory", dir, true},
		{"file", file, false},
		{"missing", filepath.Join(dir, "missing"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.IsDir(tt.path)
			if err != nil {
				t.Fatalf("IsDir() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsDir(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIgnorePatterns(t *testing.T) {
	t.Run("merges defaults, excludes and the ignore file", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, IgnoreFileName), "# build output\n/out/\n")

		got, err := NewOSFilesystemManager().IgnorePatterns(root, []string{"*.log"})
		if err != nil {
			t.Fatalf("IgnorePatterns() error = %v", err)
		}
		want := []string{IgnoreFileName, "*.log", "# build output", "/out/"}
		if !slices.Equal(got, want) {
			t.Errorf("IgnorePatterns() = %v, want %v", got, want)
		}
	})

	t.Run("walk with preloaded patterns skips the ignore file", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "keep.txt"), "k")
		writeFile(t, filepath.Join(root, "drop.bak"), "d")
		writeFile(t, filepath.Join(root, IgnoreFileName), "[\n")

		res := walk(t, root, dupi.WalkOptions{Patterns: []string{IgnoreFileName, "*.bak"}})

		want := []string{filepath.Join(root, "keep.txt")}
		if got := res.paths(); !slices.Equal(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
	})

	tests := []struct {
		name    string
		exclude []string
		file    string
		field   string
	}{
		{name: "bad exclude", exclude: []string{"[x"}, field: "exclude"},
		{name: "bad ignore file", file: "ok\n[x\n", field: IgnoreFileName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if tt.file != "" {
				writeFile(t, filepath.Join(root, IgnoreFileName), tt.file)
			}
			_, err := IgnorePatterns(root, tt.exclude)
			var cerr *dupi.ConfigError
			if !errors.As(err, &cerr) || cerr.Field != tt.field {
				t.Errorf("IgnorePatterns() error = %v, want ConfigError for %s", err, tt.field)
			}
		})
	}
}
