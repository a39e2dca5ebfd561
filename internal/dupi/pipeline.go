package dupi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// errUnreadable is recorded for entries the scanner could not stat.
var errUnreadable = errors.New("unreadable")

// hashWork is the hashing a single file needs.
type hashWork struct {
	fast   bool
	strong bool
}

func (w hashWork) any() bool { return w.fast || w.strong }

// planRecord builds the record to write for entry and decides the minimal
// hashing work. Stored digests are carried over only while the entry keeps
// the kind, size and mtime they were computed from, and only if they were
// produced by the configured algorithms.
func planRecord(entry FileEntry, existing *FileRecord, rootID string, gen int64, fast, strong Hasher, mode StrongHashMode) (*FileRecord, hashWork) {
	rec := &FileRecord{
		Path:       entry.Path,
		RootID:     rootID,
		Kind:       entry.Kind,
		LinkTarget: entry.LinkTarget,
		Size:       entry.Size,
		ModTime:    entry.ModTime,
		Device:     entry.Device,
		Inode:      entry.Inode,
		Generation: gen,
		Status:     StatusActive,
	}
	if entry.Kind != KindRegular {
		return rec, hashWork{}
	}

	if existing == nil || existing.Kind != entry.Kind || !entry.SameContentKey(existing.Size, existing.ModTime) {
		return rec, hashWork{fast: true, strong: mode == StrongHashEager}
	}

	var work hashWork
	if hasDigest(existing.FastFingerprint, fast) {
		rec.FastFingerprint = existing.FastFingerprint
	} else {
		work.fast = true
	}
	if hasDigest(existing.StrongHash, strong) {
		rec.StrongHash = existing.StrongHash
	} else {
		work.strong = mode == StrongHashEager
	}
	return rec, work
}

func hasDigest(d sql.NullString, h Hasher) bool {
	return d.Valid && DigestAlgorithm(d.String) == h.Name()
}

// hashResult is a finished record on its way to the catalog writer.
type hashResult struct {
	rec    *FileRecord
	hashed bool
	bytes  int64
}

// worker hashes files for one pipeline goroutine. The read buffer is
// reused across files.
type worker struct {
	catalog  CatalogReader
	fsmgr    FilesystemManager
	fast     Hasher
	strong   Hasher
	opts     ScanOptions
	buf      []byte
	failures *failureCollector
}

func (s *Service) newWorker(opts ScanOptions, failures *failureCollector) *worker {
	return &worker{
		catalog:  s.catalog,
		fsmgr:    s.fsmgr,
		fast:     s.fast,
		strong:   s.strong,
		opts:     opts,
		buf:      make([]byte, opts.ChunkSize),
		failures: failures,
	}
}

// run consumes entries until the queue is closed or ctx is done.
func (w *worker) run(ctx context.Context, rootID string, gen int64, entries <-chan FileEntry, results chan<- *hashResult) error {
	for entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		existing, err := w.catalog.Lookup(ctx, entry.Path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StoreError{Op: "lookup", Err: fmt.Errorf("%s: %w", entry.Path, err)}
		}

		rec, work := planRecord(entry, existing, rootID, gen, w.fast, w.strong, w.opts.StrongHash)
		res, err := w.process(ctx, rec, work)
		if err != nil {
			return err
		}
		if res == nil {
			continue
		}

		select {
		case results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// process performs the hashing work for rec. It returns (nil, nil) when the
// file vanished and nothing should be written, and an error only when ctx
// was cancelled. Every other failure is recorded as a soft failure and the
// record is returned without digests so it is never grouped.
func (w *worker) process(ctx context.Context, rec *FileRecord, work hashWork) (*hashResult, error) {
	if rec.Kind == KindUnreadable {
		w.failures.add(&SoftFileError{Path: rec.Path, Err: errUnreadable})
		return &hashResult{rec: rec}, nil
	}
	if !work.any() {
		return &hashResult{rec: rec}, nil
	}

	n, err := w.hashInto(ctx, rec, work)
	if err == nil {
		var fresh FileEntry
		fresh, err = w.fsmgr.Stat(rec.Path)
		if err == nil && !fresh.SameContentKey(rec.Size, rec.ModTime) {
			rec.Size, rec.ModTime = fresh.Size, fresh.ModTime
			err = ErrChangedDuringHash
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.failures.add(&SoftFileError{Path: rec.Path, Err: err})
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		rec.ClearHashes()
		return &hashResult{rec: rec}, nil
	}
	return &hashResult{rec: rec, hashed: true, bytes: n}, nil
}

// hashInto computes the requested digests of rec's file and stores them on
// rec. Digests are only assigned once the bytes they cover have been read
// in full.
func (w *worker) hashInto(ctx context.Context, rec *FileRecord, work hashWork) (int64, error) {
	if w.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.ReadTimeout)
		defer cancel()
	}

	f, err := w.fsmgr.Open(rec.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total int64
	if work.fast {
		sum, n, err := fingerprint(ctx, w.fast, f, rec.Size, int64(w.opts.SampleSize), w.buf)
		total += n
		if err != nil {
			return total, w.readError("fast fingerprint", err)
		}
		rec.FastFingerprint = sql.NullString{String: sum, Valid: true}
	}
	if work.strong {
		h := w.strong.New()
		n, err := copyChunked(ctx, h, f, w.buf)
		total += n
		if err != nil {
			return total, w.readError("strong hash", err)
		}
		rec.StrongHash = sql.NullString{String: FormatDigest(w.strong, h.Sum(nil)), Valid: true}
	}
	return total, nil
}

func (w *worker) readError(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: read timed out after %s", stage, w.opts.ReadTimeout)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// fingerprint computes the fast digest: the whole content for files up to
// three samples long, otherwise a head, middle and tail sample.
func fingerprint(ctx context.Context, h Hasher, r io.ReaderAt, size, sample int64, buf []byte) (string, int64, error) {
	type span struct{ off, n int64 }
	spans := []span{{0, size}}
	if size > 3*sample {
		spans = []span{
			{0, sample},
			{size/2 - sample/2, sample},
			{size - sample, sample},
		}
	}

	d := h.New()
	var total int64
	for _, s := range spans {
		n, err := copyChunked(ctx, d, io.NewSectionReader(r, s.off, s.n), buf)
		total += n
		if err != nil {
			return "", total, err
		}
	}
	return FormatDigest(h, d.Sum(nil)), total, nil
}

// copyChunked copies r into w one buffer at a time, checking ctx between
// reads.
func copyChunked(ctx context.Context, w io.Writer, r io.Reader, buf []byte) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// failureCollector gathers soft failures from the walker and the workers.
type failureCollector struct {
	mu       sync.Mutex
	failures []*SoftFailure
	logger   Logger
}

func newFailureCollector(logger Logger) *failureCollector {
	return &failureCollector{logger: logger}
}

func (c *failureCollector) add(err error) {
	f := NewSoftFailure("", err)
	c.logger.Warn("soft failure", "path", f.Path, "kind", string(f.Kind), "reason", f.Reason)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

// sorted returns the failures ordered by path.
func (c *failureCollector) sorted() []*SoftFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*SoftFailure, len(c.failures))
	copy(out, c.failures)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// runPipeline wires the walker, the hashing workers and the single catalog
// writer together with bounded queues:
//
//	walker -> entries -> workers -> results -> writer
//
// Only the writer goroutine mutates the catalog.
func (s *Service) runPipeline(ctx context.Context, root *Root, gen int64, opts ScanOptions, patterns []string, report *ScanReport, failures *failureCollector) error {
	g, gctx := errgroup.WithContext(ctx)
	entries := make(chan FileEntry, opts.QueueSize)
	results := make(chan *hashResult, opts.QueueSize)

	walkOpts := WalkOptions{Exclude: opts.Exclude, Patterns: patterns, FollowSymlinks: opts.FollowSymlinks}
	g.Go(func() error {
		defer close(entries)
		return s.fsmgr.Walk(gctx, root.Path, walkOpts, func(e FileEntry) error {
			select {
			case entries <- e:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}, failures.add)
	})

	var active atomic.Int32
	active.Store(int32(opts.Workers))
	for range opts.Workers {
		w := s.newWorker(opts, failures)
		g.Go(func() error {
			defer func() {
				if active.Add(-1) == 0 {
					close(results)
				}
			}()
			return w.run(gctx, root.ID, gen, entries, results)
		})
	}

	g.Go(func() error {
		for res := range results {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.catalog.Upsert(gctx, res.rec); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return &StoreError{Op: "upsert", Err: fmt.Errorf("%s: %w", res.rec.Path, err)}
			}
			report.FilesIndexed++
			if res.hashed {
				report.FilesHashed++
				report.BytesHashed += res.bytes
			}
		}
		return nil
	})

	return g.Wait()
}
