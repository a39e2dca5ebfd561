// Package watch triggers incremental rescans of a tracked root when files
// below it change.
package watch

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"dupi-go/internal/dupi"
	"dupi-go/internal/fs"
)

// RescanFunc runs one scan pass of the watched root.
type RescanFunc func(ctx context.Context) error

// Watcher keeps an fsnotify watch on every directory under a root.
// Bursts of events are coalesced: a rescan starts once no new event has
// arrived for the debounce interval.
type Watcher struct {
	root     string
	debounce time.Duration
	exclude  []string
	ignore   *fs.IgnoreMatcher
	logger   dupi.Logger
	fsw      *fsnotify.Watcher
	dirs     map[string]bool
}

// New creates a watcher for root. exclude holds the same patterns a scan
// uses. Together with the built-in defaults and the root's ignore file they
// form the set a scan walks with, and directories it excludes are not
// watched.
func New(root string, debounce time.Duration, exclude []string, logger dupi.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if debounce <= 0 {
		return nil, &dupi.ConfigError{Field: "watch.debounce", Reason: "must be positive"}
	}
	patterns, err := fs.IgnorePatterns(abs, exclude)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = dupi.NewNopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		root:     abs,
		debounce: debounce,
		exclude:  exclude,
		ignore:   fs.NewIgnoreMatcher(patterns),
		logger:   logger,
		fsw:      fsw,
		dirs:     make(map[string]bool),
	}, nil
}

// Run watches until ctx is done, calling rescan after each settled burst of
// changes. Rescan failures are logged and watching continues, except for
// configuration and catalog errors, which end the run. Run returns nil when
// ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, rescan RescanFunc) error {
	defer w.fsw.Close()

	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching", "root", w.root, "directories", len(w.dirs), "debounce", w.debounce.String())

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("fsnotify event stream closed")
			}
			if w.handle(ev) {
				pending = true
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("fsnotify error stream closed")
			}
			w.logger.Warn("watch error", "root", w.root, "error", err)
			// Dropped events mean the tree may have changed unseen.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				pending = true
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.logger.Debug("changes settled, rescanning", "root", w.root)
			if err := rescan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if dupi.IsConfigError(err) || dupi.IsStoreError(err) {
					return fmt.Errorf("rescanning %s: %w", w.root, err)
				}
				w.logger.Error("rescan failed", "root", w.root, "error", err)
			}
		}
	}
}

// handle updates the watch set for ev and reports whether ev should
// trigger a rescan.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Name == "" {
		return false
	}
	if ev.Name == filepath.Join(w.root, fs.IgnoreFileName) {
		w.reloadIgnore()
		return true
	}
	isDir := w.dirs[ev.Name]
	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil {
			isDir = info.IsDir()
		}
	}
	if w.ignored(ev.Name, isDir) {
		return false
	}

	switch {
	case ev.Has(fsnotify.Create):
		if isDir {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
			}
		}
		return true

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.dirs[ev.Name] {
			w.forgetTree(ev.Name)
		}
		return true

	case ev.Has(fsnotify.Write):
		return true
	}
	return false
}

// reloadIgnore rebuilds the matcher after the root's ignore file changed.
// A malformed file keeps the previous matcher; the rescan it triggers
// reports the error.
func (w *Watcher) reloadIgnore() {
	patterns, err := fs.IgnorePatterns(w.root, w.exclude)
	if err != nil {
		w.logger.Warn("ignore file not reloaded", "root", w.root, "error", err)
		return
	}
	w.ignore = fs.NewIgnoreMatcher(patterns)
}

// ignored reports whether path falls under the scan's ignore set.
func (w *Watcher) ignored(path string, isDir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	return w.ignore.Match(rel, isDir)
}

// addTree watches dir and every non-excluded directory below it. Only a
// failure on dir itself is returned.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
			return filepath.SkipDir
		}
		w.dirs[path] = true
		return nil
	})
}

// forgetTree drops dir and its subdirectories from the watch set.
func (w *Watcher) forgetTree(dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			// The kernel drops watches of removed directories on its own.
			_ = w.fsw.Remove(d)
			delete(w.dirs, d)
		}
	}
}
