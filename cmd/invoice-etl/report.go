package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eric-albuquer/invoice-etl/constants"
	"github.com/eric-albuquer/invoice-etl/internal/analytics"
	"github.com/eric-albuquer/invoice-etl/internal/common"
	"github.com/eric-albuquer/invoice-etl/internal/export"
	"github.com/eric-albuquer/invoice-etl/internal/repository"
)

func newReportCmd(a *app) *cobra.Command {
	var out, from, to string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print analytics over the stored invoices",
		Long: `Print analytics over the stored invoices: average invoice value, most
frequent product, spend and quantity per product, totals per customer and the
product price list. With --out, the same figures are written as an XLSX workbook.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromDate, err := parseDateFlag("from", from)
			if err != nil {
				return err
			}
			toDate, err := parseDateFlag("to", to)
			if err != nil {
				return err
			}
			if err := a.setup(cmd, nil); err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			store, err := repository.Open(ctx, a.storeConfig(), a.logger)
			if err != nil {
				return err
			}
			defer store.Close()
			// read-only: a corrupt store is reported, not reset
			invoices, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("load invoice store: %w", err)
			}
			invoices = export.FilterByDate(invoices, fromDate, toDate)

			w := cmd.OutOrStdout()
			svc, err := analytics.NewService(invoices)
			if errors.Is(err, analytics.ErrNoData) {
				fmt.Fprintln(w, "no invoices stored; run ingest first")
				return nil
			}
			if err != nil {
				return err
			}
			printReport(w, svc)

			if out == "" {
				return nil
			}
			data, err := export.NewService(a.logger).ReportXLSX(invoices)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(w, "\nreport written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write an XLSX report to this path")
	cmd.Flags().StringVar(&from, "from", "", "only invoices dated on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "only invoices dated on or before YYYY-MM-DD")
	return cmd
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(constants.DateLayout, value)
	if err != nil {
		return nil, common.ConfigError("--"+name+" must be YYYY-MM-DD", err)
	}
	return &t, nil
}

func printReport(w io.Writer, svc *analytics.Service) {
	fmt.Fprintf(w, "invoices: %d\n", svc.InvoiceCount())
	fmt.Fprintf(w, "average invoice value: %s\n", svc.AverageInvoiceValue().StringFixed(2))
	name, rows := svc.MostFrequentProduct()
	fmt.Fprintf(w, "most frequent product: %s (%d item rows)\n", name, rows)

	fmt.Fprintln(w, "\ntotal spent per product:")
	for _, p := range svc.TotalSpentPerProduct() {
		fmt.Fprintf(w, "  %-32s %12s\n", p.ProductName, p.Total.StringFixed(2))
	}
	fmt.Fprintln(w, "\nquantity per product:")
	for _, q := range svc.QuantityPerProduct() {
		fmt.Fprintf(w, "  %-32s %12d\n", q.ProductName, q.Quantity)
	}
	fmt.Fprintln(w, "\ntotal per customer:")
	for _, c := range svc.TotalPerCustomer() {
		fmt.Fprintf(w, "  %-32s %12s\n", c.CustomerID, c.Total.StringFixed(2))
	}
	fmt.Fprintln(w, "\nproduct price list:")
	for _, p := range svc.ProductPriceList() {
		fmt.Fprintf(w, "  %-32s %12s\n", p.ProductName, p.UnitPrice.StringFixed(2))
	}
}
