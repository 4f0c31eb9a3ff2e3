package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eric-albuquer/invoice-etl/internal/common"
	"github.com/eric-albuquer/invoice-etl/internal/extract"
	"github.com/eric-albuquer/invoice-etl/internal/logging"
	"github.com/eric-albuquer/invoice-etl/internal/pdftext"
	"github.com/eric-albuquer/invoice-etl/internal/repository"
)

// app is the per-invocation state shared by the subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg      *common.Config
	logger   *slog.Logger
	logClose io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "invoice-etl",
		Short: "Extract PDF invoices into a deduplicated store and report on them",
		Long: `invoice-etl reads a folder of PDF invoices, extracts order, customer, date
and line items from each one, and appends new invoices to a deduplicated store.

Example Usage:
  invoice-etl ingest --dir ./invoices
  invoice-etl ingest --sequential
  invoice-etl report --out report.xlsx
  invoice-etl watch --dir ./invoices`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newIngestCmd(a),
		newReportCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and builds the logger. apply runs before validation
// so command-line flags take precedence over every other layer. Callers defer close.
func (a *app) setup(cmd *cobra.Command, apply func(*common.Config)) error {
	cfg, err := common.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.NewWithWriter(cmd.OutOrStdout(), logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return common.ConfigError("build logger", err)
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	a.logClose = closer
	return nil
}

func (a *app) close() error {
	if a.logClose == nil {
		return nil
	}
	err := a.logClose.Close()
	a.logClose = nil
	return err
}

func (a *app) storeConfig() repository.Config {
	s := a.cfg.Store
	return repository.Config{
		Driver:           s.Driver,
		Path:             s.Path,
		DSN:              s.DSN,
		MaxConns:         s.MaxConns,
		MinConns:         s.MinConns,
		MaxConnLifetime:  s.MaxConnLifetime,
		MaxConnIdleTime:  s.MaxConnIdleTime,
		DialTimeout:      s.DialTimeout,
		StatementTimeout: s.StatementTimeout,
	}
}

// openRepository opens the configured store and loads it into a deduplicating repository.
func (a *app) openRepository(ctx context.Context) (*repository.InvoiceRepository, error) {
	store, err := repository.Open(ctx, a.storeConfig(), a.logger)
	if err != nil {
		return nil, err
	}
	repo, err := repository.NewInvoiceRepository(ctx, store, a.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return repo, nil
}

// extractorFactory validates the loader configuration once and returns a
// constructor that builds an independent extractor per worker.
func (a *app) extractorFactory() (func() extract.FileExtractor, error) {
	loaderCfg := pdftext.Config{
		Backend:   a.cfg.Extract.Backend,
		Pdftotext: a.cfg.Extract.Pdftotext,
		MaxPages:  a.cfg.Extract.MaxPages,
	}
	if _, err := pdftext.NewLoader(loaderCfg, a.logger); err != nil {
		return nil, common.ConfigError("pdf loader", err)
	}
	opts := extract.Options{
		StripThousandsSeparator: a.cfg.Extract.StripThousandsSeparator,
		DecimalComma:            a.cfg.Extract.DecimalComma,
	}
	logger := a.logger
	return func() extract.FileExtractor {
		loader, _ := pdftext.NewLoader(loaderCfg, logger)
		return extract.NewExtractor(loader, opts, logger)
	}, nil
}
