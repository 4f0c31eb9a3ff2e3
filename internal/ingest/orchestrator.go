package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eric-albuquer/invoice-etl/constants"
	"github.com/eric-albuquer/invoice-etl/internal/common"
	"github.com/eric-albuquer/invoice-etl/internal/entity"
	"github.com/eric-albuquer/invoice-etl/internal/extract"
	"github.com/eric-albuquer/invoice-etl/internal/repository"
)

// Repository is the part of the invoice repository the orchestrator drives.
type Repository interface {
	Add(inv entity.Invoice) repository.AddResult
	Flush(ctx context.Context) error
}

// FileFailure records why one file produced no invoice.
type FileFailure struct {
	File    string
	Reason  constants.Reason
	Message string
}

// Summary is the outcome of one ingestion run.
type Summary struct {
	RunID      string
	Total      int
	Succeeded  int // files extracted, duplicates included
	Added      int
	Duplicates int
	Failed     []FileFailure
	Duration   time.Duration
}

// Orchestrator fans files out to isolated workers and feeds the results to
// the repository from the calling goroutine only.
type Orchestrator struct {
	newExtractor func() extract.FileExtractor
	repo         Repository
	logger       *slog.Logger
	workers      int
	fileTimeout  time.Duration
}

type Option func(*Orchestrator)

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithFileTimeout bounds each file's extraction; 0 disables the bound.
func WithFileTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.fileTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator builds an orchestrator. newExtractor is called once per
// worker so extractors are never shared between goroutines.
func NewOrchestrator(newExtractor func() extract.FileExtractor, repo Repository, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		newExtractor: newExtractor,
		repo:         repo,
		logger:       slog.Default(),
		workers:      runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ingest extracts paths in parallel batches, merges the results in batch
// order and flushes the repository once. Per-file failures are reported in
// the Summary; the error is non-nil only when the flush fails or ctx ends.
func (o *Orchestrator) Ingest(ctx context.Context, paths []string) (Summary, error) {
	return o.run(ctx, paths, Partition(paths, o.workers), "parallel")
}

// IngestSequential extracts all paths with a single extractor on the calling goroutine.
func (o *Orchestrator) IngestSequential(ctx context.Context, paths []string) (Summary, error) {
	return o.run(ctx, paths, Partition(paths, 1), "sequential")
}

type batchResult struct {
	invoices []entity.Invoice
	failures []FileFailure
}

func (o *Orchestrator) run(ctx context.Context, paths []string, batches [][]string, mode string) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	ctx = common.WithLogger(common.WithRunID(ctx, runID), logger)

	summary := Summary{RunID: runID, Total: len(paths)}
	logger.Info("ingest run started", "mode", mode, "files", len(paths), "batches", len(batches))

	if len(paths) == 0 {
		logger.Info("no input files found")
		summary.Duration = time.Since(start)
		o.logFinished(logger, summary)
		return summary, nil
	}

	results := make([]batchResult, len(batches))
	if len(batches) == 1 {
		results[0] = o.processBatch(ctx, 1, batches[0])
	} else {
		var g errgroup.Group
		for i, batch := range batches {
			g.Go(func() error {
				results[i] = o.processBatch(ctx, i+1, batch)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, res := range results {
		for _, inv := range res.invoices {
			summary.Succeeded++
			if o.repo.Add(inv) == repository.Duplicate {
				summary.Duplicates++
			} else {
				summary.Added++
			}
		}
		summary.Failed = append(summary.Failed, res.failures...)
	}

	// successes gathered before a cancellation are still persisted
	if err := o.repo.Flush(context.WithoutCancel(ctx)); err != nil {
		summary.Duration = time.Since(start)
		logger.Error("ingest run aborted: flush failed", "error", err)
		return summary, fmt.Errorf("flush: %w", err)
	}

	summary.Duration = time.Since(start)
	o.logFinished(logger, summary)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (o *Orchestrator) logFinished(logger *slog.Logger, s Summary) {
	logger.Info("ingest run finished",
		"files", s.Total,
		"succeeded", s.Succeeded,
		"added", s.Added,
		"duplicates", s.Duplicates,
		"failed", len(s.Failed),
		"duration", s.Duration,
	)
}

// processBatch runs one extractor over its files in order. It shares no
// mutable state with other batches.
func (o *Orchestrator) processBatch(ctx context.Context, worker int, files []string) batchResult {
	logger := common.LoggerFromContext(ctx, o.logger).With("worker", worker)
	ex := o.newExtractor()
	var res batchResult
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			res.failures = append(res.failures, FileFailure{File: path, Reason: constants.ReasonCanceled, Message: err.Error()})
			continue
		}
		inv, failure := o.extractOne(ctx, ex, path)
		if failure != nil {
			logger.Warn("invoice extraction failed", "file", path, "reason", failure.Reason, "error", failure.Message)
			res.failures = append(res.failures, *failure)
			continue
		}
		res.invoices = append(res.invoices, inv)
	}
	logger.Debug("batch finished", "files", len(files), "invoices", len(res.invoices), "failed", len(res.failures))
	return res
}

func (o *Orchestrator) extractOne(ctx context.Context, ex extract.FileExtractor, path string) (inv entity.Invoice, failure *FileFailure) {
	if o.fileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.fileTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			failure = &FileFailure{File: path, Reason: constants.ReasonDocumentUnreadable, Message: fmt.Sprint("panic: ", r)}
		}
	}()

	inv, err := ex.Extract(ctx, path)
	if err == nil {
		return inv, nil
	}
	return entity.Invoice{}, &FileFailure{File: path, Reason: reasonOf(err), Message: err.Error()}
}

func reasonOf(err error) constants.Reason {
	var ee *extract.ExtractionError
	switch {
	case errors.As(err, &ee):
		return ee.Reason
	case errors.Is(err, context.DeadlineExceeded):
		return constants.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return constants.ReasonCanceled
	default:
		return constants.ReasonDocumentUnreadable
	}
}
