package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/eric-albuquer/invoice-etl/internal/analytics"
	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

// Sheet names of the analytics workbook, in tab order.
const (
	SheetSummary   = "Summary"
	SheetInvoices  = "Invoices"
	SheetProducts  = "Products"
	SheetCustomers = "Customers"
	SheetPrices    = "Prices"
)

// Service renders stored invoices as an XLSX analytics report.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// FilterByDate keeps invoices dated within the window (inclusive, date-only).
// If only from is provided -> from..today.
// If only to is provided   -> beginning..to.
// If neither is provided   -> all invoices.
func FilterByDate(invoices []entity.Invoice, from, to *time.Time) []entity.Invoice {
	var fromDate, toDate *entity.Date
	if from != nil {
		f := entity.NewDate(from.Year(), from.Month(), from.Day())
		fromDate = &f
	}
	if to != nil {
		t := entity.NewDate(to.Year(), to.Month(), to.Day())
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := entity.NewDate(today.Year(), today.Month(), today.Day())
		toDate = &t
	}

	out := make([]entity.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if fromDate != nil && inv.Date.Before(fromDate.Time) {
			continue
		}
		if toDate != nil && inv.Date.After(toDate.Time) {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// ReportXLSX returns the analytics workbook (as bytes) for the given invoices.
func (s *Service) ReportXLSX(invoices []entity.Invoice) ([]byte, error) {
	start := time.Now()
	svc, err := analytics.NewService(invoices)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	for _, sheet := range []string{SheetInvoices, SheetProducts, SheetCustomers, SheetPrices} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	mostFrequent, mostFrequentRows := svc.MostFrequentProduct()
	w := &sheetWriter{f: f}
	w.use(SheetSummary)
	w.row("Metric", "Value")
	w.row("Invoices", svc.InvoiceCount())
	w.row("Item rows", len(svc.Rows()))
	w.row("Average invoice value", money(svc.AverageInvoiceValue()))
	w.row("Most frequent product", mostFrequent)
	w.row("Most frequent product rows", mostFrequentRows)

	w.use(SheetInvoices)
	w.row("Order ID", "Customer ID", "Date", "Total")
	for _, t := range svc.InvoiceTotals() {
		w.row(t.OrderID, t.CustomerID, t.Date.String(), money(t.Total))
	}

	quantities := map[string]int{}
	for _, q := range svc.QuantityPerProduct() {
		quantities[q.ProductName] = q.Quantity
	}
	w.use(SheetProducts)
	w.row("Product", "Quantity", "Total Spent")
	for _, p := range svc.TotalSpentPerProduct() {
		w.row(p.ProductName, quantities[p.ProductName], money(p.Total))
	}

	w.use(SheetCustomers)
	w.row("Customer ID", "Total")
	for _, c := range svc.TotalPerCustomer() {
		w.row(c.CustomerID, money(c.Total))
	}

	w.use(SheetPrices)
	w.row("Product", "Unit Price")
	for _, p := range svc.ProductPriceList() {
		w.row(p.ProductName, money(p.UnitPrice))
	}
	if w.err != nil {
		return nil, w.err
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetSummary, "A", "A", 28)
	_ = f.SetColWidth(SheetSummary, "B", "B", 22)
	_ = f.SetColWidth(SheetInvoices, "A", "D", 16)
	_ = f.SetColWidth(SheetProducts, "A", "A", 32)
	_ = f.SetColWidth(SheetProducts, "B", "C", 14)
	_ = f.SetColWidth(SheetCustomers, "A", "B", 16)
	_ = f.SetColWidth(SheetPrices, "A", "A", 32)
	_ = f.SetColWidth(SheetPrices, "B", "B", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("analytics report written",
		"invoices", svc.InvoiceCount(),
		"rows", len(svc.Rows()),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// sheetWriter appends rows to one sheet and keeps the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	next  int
	err   error
}

// use switches to the top of sheet.
func (w *sheetWriter) use(sheet string) {
	w.sheet = sheet
	w.next = 0
}

func (w *sheetWriter) row(values ...any) {
	if w.err != nil {
		return
	}
	w.next++
	cell, err := excelize.CoordinatesToCellName(1, w.next)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(w.sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("write %s row %d: %w", w.sheet, w.next, err)
	}
}

// money rounds to cents for display; the cell stays numeric.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
