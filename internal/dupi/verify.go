package dupi

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// VerifyReport summarizes a verification pass.
type VerifyReport struct {
	// Candidates is the number of records whose fast fingerprint collided
	// with another record and had no strong hash.
	Candidates int

	// Verified counts candidates that received a strong hash. The rest
	// changed, vanished or failed to read; the next scan picks them up.
	Verified     int
	BytesHashed  int64
	SoftFailures []*SoftFailure
}

// Verify computes strong hashes for every active record whose fast
// fingerprint matches another record's. Fast fingerprints alone are never
// treated as proof of identity, so this runs before duplicates are listed.
// A hash is only stored if the record still has the size, mtime and
// fingerprint it was read with.
func (s *Service) Verify(ctx context.Context, opts ScanOptions) (*VerifyReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	candidates, err := s.catalog.FingerprintCollisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding fingerprint collisions: %w", err)
	}
	report := &VerifyReport{Candidates: len(candidates)}
	if len(candidates) == 0 {
		return report, nil
	}
	s.logger.Info("verifying fingerprint collisions", "candidates", len(candidates))

	failures := newFailureCollector(s.logger)
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan *FileRecord, opts.QueueSize)
	results := make(chan *hashResult, opts.QueueSize)

	g.Go(func() error {
		defer close(queue)
		for _, rec := range candidates {
			select {
			case queue <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
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
			for rec := range queue {
				res, err := w.process(gctx, rec.Clone(), hashWork{strong: true})
				if err != nil {
					return err
				}
				if res == nil || !res.hashed {
					continue
				}
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		for res := range results {
			applied, err := s.catalog.SetStrongHash(gctx, res.rec, res.rec.StrongHash.String)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return &StoreError{Op: "set strong hash", Err: fmt.Errorf("%s: %w", res.rec.Path, err)}
			}
			report.BytesHashed += res.bytes
			if applied {
				report.Verified++
			}
		}
		return nil
	})

	err = g.Wait()
	report.SoftFailures = failures.sorted()
	if err != nil {
		return report, err
	}

	s.logger.Info("verification finished", "candidates", report.Candidates, "verified", report.Verified)
	return report, nil
}
