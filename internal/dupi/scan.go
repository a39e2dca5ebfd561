package dupi

import (
	"context"
	"errors"
	"fmt"
)

// Scan indexes the tree under rootPath as a new generation of its root.
//
// Every file found is written to the catalog with the new generation. When
// the walk finishes, records of the root that were not seen are marked
// missing. A cancelled scan keeps everything already written and leaves the
// generation incomplete, so nothing is marked missing; the next scan picks
// up where it stopped because unchanged files are not re-hashed.
//
// The returned report is non-nil whenever the scan got past validation,
// including when an error is returned.
func (s *Service) Scan(ctx context.Context, rootPath string, opts ScanOptions) (*ScanReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	root, patterns, err := s.resolveRoot(ctx, rootPath, opts.Exclude)
	if err != nil {
		return nil, err
	}

	gen, err := s.catalog.BeginGeneration(ctx, root.ID)
	if err != nil {
		return nil, &StoreError{Op: "begin generation", Err: err}
	}

	run := &ScanRun{
		Token:      s.idgen.New(),
		RootID:     root.ID,
		RootPath:   root.Path,
		Generation: gen,
		StartedAt:  s.clock.Now(),
		Status:     RunRunning,
	}
	if err := s.catalog.CreateScanRun(ctx, run); err != nil {
		return nil, &StoreError{Op: "create scan run", Err: err}
	}

	s.logger.Info("scan started",
		"root", root.Path,
		"generation", gen,
		"run", run.ID,
		"workers", opts.Workers,
		"strong_hash", string(opts.StrongHash),
	)

	report := &ScanReport{RunID: run.ID, Root: root.Path, Generation: gen}
	failures := newFailureCollector(s.logger)

	scanErr := s.runPipeline(ctx, root, gen, opts, patterns, report, failures)
	if scanErr == nil {
		missing, err := s.catalog.MarkGenerationComplete(ctx, root.ID, gen)
		if err != nil {
			scanErr = &StoreError{Op: "complete generation", Err: err}
		} else {
			report.MarkedMissing = missing
		}
	}
	report.SoftFailures = failures.sorted()

	switch {
	case scanErr == nil:
		report.Status = RunComplete
	case ctx.Err() != nil:
		report.Status = RunCancelled
		scanErr = fmt.Errorf("scan cancelled: %w", ctx.Err())
	default:
		report.Status = RunFailed
	}

	if err := s.finishRun(context.WithoutCancel(ctx), run, report); err != nil {
		s.logger.Error("recording scan run failed", "run", run.ID, "error", err)
		scanErr = errors.Join(scanErr, err)
	}

	s.logger.Info("scan finished",
		"root", root.Path,
		"generation", gen,
		"status", string(report.Status),
		"indexed", report.FilesIndexed,
		"hashed", report.FilesHashed,
		"bytes", report.BytesHashed,
		"missing", report.MarkedMissing,
		"soft_failures", len(report.SoftFailures),
	)
	return report, scanErr
}

func (s *Service) finishRun(ctx context.Context, run *ScanRun, report *ScanReport) error {
	run.Status = report.Status
	run.FinishedAt.Time, run.FinishedAt.Valid = s.clock.Now(), true
	run.FilesIndexed = report.FilesIndexed
	run.FilesHashed = report.FilesHashed
	run.BytesHashed = report.BytesHashed
	run.MarkedMissing = report.MarkedMissing
	run.SoftFailures = int64(len(report.SoftFailures))

	if err := s.catalog.FinishScanRun(ctx, run, report.SoftFailures); err != nil {
		return &StoreError{Op: "finish scan run", Err: err}
	}
	return nil
}
