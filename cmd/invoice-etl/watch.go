package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/eric-albuquer/invoice-etl/internal/ingest"
)

func newWatchCmd(a *app) *cobra.Command {
	flags := &ingestFlags{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest the input directory, then keep ingesting new PDFs as they appear",
		Long: `Ingest the input directory once, then watch it and ingest new or rewritten
PDFs in debounced batches until interrupted. Each batch is flushed on its own,
and invoices already stored are skipped as duplicates.`,
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
			run := o.Ingest
			if a.cfg.Ingest.Sequential {
				run = o.IngestSequential
			}

			batches, errs, err := ingest.Watch(ctx, ingest.WatchConfig{
				Root:       a.cfg.Input.Dir,
				SkipHidden: a.cfg.Input.SkipHidden,
				Recursive:  a.cfg.Input.Recursive,
				Debounce:   debounce,
			}, a.logger)
			if err != nil {
				return err
			}

			summary, err := run(ctx, paths)
			printSummary(cmd.OutOrStdout(), summary)
			if err != nil {
				return err
			}
			a.logger.Info("watching for new invoices", "dir", a.cfg.Input.Dir)

			for {
				select {
				case <-ctx.Done():
					a.logger.Info("watch stopped")
					return nil
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					a.logger.Warn("watcher reported an error", "error", err)
				case batch, ok := <-batches:
					if !ok {
						a.logger.Info("watch stopped")
						return nil
					}
					summary, err := run(ctx, batch)
					printSummary(cmd.OutOrStdout(), summary)
					if err != nil && ctx.Err() == nil {
						return err
					}
				}
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a batch of changes is ingested")
	return cmd
}
