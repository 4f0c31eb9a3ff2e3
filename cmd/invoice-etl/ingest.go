package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/eric-albuquer/invoice-etl/internal/common"
	"github.com/eric-albuquer/invoice-etl/internal/ingest"
)

type ingestFlags struct {
	dir         string
	recursive   bool
	sequential  bool
	workers     int
	fileTimeout time.Duration
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "dir", "", "directory of PDF invoices (overrides input.dir)")
	cmd.Flags().BoolVar(&f.recursive, "recursive", false, "also ingest PDFs in subdirectories (overrides input.recursive)")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "extract files one at a time on a single worker")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "number of parallel workers (overrides ingest.workers)")
	cmd.Flags().DurationVar(&f.fileTimeout, "file-timeout", 0, "per-file extraction timeout, 0 disables (overrides ingest.file_timeout)")
}

func (f *ingestFlags) apply(cmd *cobra.Command) func(*common.Config) {
	return func(cfg *common.Config) {
		flags := cmd.Flags()
		if flags.Changed("dir") {
			cfg.Input.Dir = f.dir
		}
		if flags.Changed("recursive") {
			cfg.Input.Recursive = f.recursive
		}
		if flags.Changed("sequential") {
			cfg.Ingest.Sequential = f.sequential
		}
		if flags.Changed("workers") {
			cfg.Ingest.Workers = f.workers
		}
		if flags.Changed("file-timeout") {
			cfg.Ingest.FileTimeout = f.fileTimeout
		}
	}
}

func newIngestCmd(a *app) *cobra.Command {
	flags := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Extract every PDF in the input directory and store new invoices",
		Long: `Extract every PDF in the input directory and append new invoices to the store.

Files that cannot be extracted are reported with a reason and do not stop the
run. The command fails only on configuration errors, a missing input
directory or a failed write to the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd, flags.apply(cmd)); err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			paths, err := ingest.Discover(a.cfg.Input.Dir, ingest.DiscoverOptions{
				SkipHidden: a.cfg.Input.SkipHidden,
				Recursive:  a.cfg.Input.Recursive,
			})
			if err != nil {
				a.logger.Error("cannot read input directory", "dir", a.cfg.Input.Dir, "error", err)
				return err
			}
			newExtractor, err := a.extractorFactory()
			if err != nil {
				return err
			}
			repo, err := a.openRepository(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			o := ingest.NewOrchestrator(newExtractor, repo,
				ingest.WithWorkers(a.cfg.Ingest.Workers),
				ingest.WithFileTimeout(a.cfg.Ingest.FileTimeout),
				ingest.WithLogger(a.logger),
			)
			var summary ingest.Summary
			if a.cfg.Ingest.Sequential {
				summary, err = o.IngestSequential(ctx, paths)
			} else {
				summary, err = o.Ingest(ctx, paths)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func printSummary(w io.Writer, s ingest.Summary) {
	fmt.Fprintf(w, "processed %d files: %d succeeded (%d added, %d duplicates), %d failed\n",
		s.Total, s.Succeeded, s.Added, s.Duplicates, len(s.Failed))
	for _, f := range s.Failed {
		fmt.Fprintf(w, "  %s: %s: %s\n", f.File, f.Reason, f.Message)
	}
}
