package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/eric-albuquer/invoice-etl/constants"
	"github.com/eric-albuquer/invoice-etl/internal/common"
	"github.com/eric-albuquer/invoice-etl/internal/entity"
	"github.com/eric-albuquer/invoice-etl/internal/pdftext"
)

var (
	reOrderID    = regexp.MustCompile(`(?i)Order ID\s*[:\-]?\s*(\S+)`)
	reCustomerID = regexp.MustCompile(`(?i)Customer ID\s*[:\-]?\s*(\S+)`)
	reDate       = regexp.MustCompile(`(?i)Date\s*[:\-]?\s*([\d\-/]+)`)
)

// Extractor converts PDF invoices into Invoices. It is not shared between goroutines.
type Extractor struct {
	loader pdftext.Loader
	opts   Options
	logger *slog.Logger
}

func NewExtractor(loader pdftext.Loader, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{loader: loader, opts: opts, logger: logger}
}

// Extract loads path and extracts its Invoice. Every failure is an *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, path string) (entity.Invoice, error) {
	doc, err := e.loader.Load(ctx, path)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return entity.Invoice{}, fail(constants.ReasonTimeout, path, err)
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			return entity.Invoice{}, fail(constants.ReasonCanceled, path, err)
		}
		return entity.Invoice{}, fail(constants.ReasonDocumentUnreadable, path, err)
	}

	logger := common.LoggerFromContext(ctx, e.logger)
	inv, skipped, err := extractDocument(doc, e.opts)
	for _, s := range skipped {
		logger.Debug("table row skipped", "path", path, "skip", s.Skip, "error", s.Err)
	}
	if err != nil {
		return entity.Invoice{}, err
	}
	logger.Debug("invoice extracted",
		"path", path,
		"order_id", inv.OrderID,
		"items", len(inv.Items),
		"skipped_rows", len(skipped),
	)
	return inv, nil
}

// ExtractDocument extracts an Invoice from an already loaded document.
// It is pure: the same document always yields the same result.
func ExtractDocument(doc *pdftext.Document, opts Options) (entity.Invoice, error) {
	inv, _, err := extractDocument(doc, opts)
	return inv, err
}

func extractDocument(doc *pdftext.Document, opts Options) (entity.Invoice, []RowOutcome, error) {
	source := doc.Path
	text := doc.Text()

	orderID := firstGroup(reOrderID, text)
	customerID := firstGroup(reCustomerID, text)
	rawDate := firstGroup(reDate, text)
	if orderID == "" || customerID == "" || rawDate == "" {
		return entity.Invoice{}, nil, fail(constants.ReasonHeaderNotRecognized, source, missingHeaders(orderID, customerID, rawDate))
	}

	rawDate = strings.ReplaceAll(rawDate, "/", "-")
	date, err := entity.ParseDate(rawDate)
	if err != nil {
		return entity.Invoice{}, nil, fail(constants.ReasonInvalidDateFormat, source, fmt.Errorf("date %q: %w", rawDate, err))
	}

	table, ok := findProductTable(doc)
	if !ok {
		return entity.Invoice{}, nil, fail(constants.ReasonProductTableNotFound, source, nil)
	}

	var items []entity.Item
	var skipped []RowOutcome
	for _, cells := range table[1:] {
		out := ParseRow(cells, opts)
		if !out.OK() {
			skipped = append(skipped, out)
			continue
		}
		items = append(items, out.Item)
	}
	if len(items) == 0 {
		return entity.Invoice{}, skipped, fail(constants.ReasonNoValidItems, source, fmt.Errorf("%d rows, none usable", len(table)-1))
	}

	inv, err := entity.NewInvoice(orderID, customerID, date, items)
	if err != nil {
		return entity.Invoice{}, skipped, fail(constants.ReasonItemValidationFailed, source, err)
	}
	return inv, skipped, nil
}

// findProductTable returns the rows of the first table, in page order, that
// has a row mentioning both a product and a quantity column. The header row
// comes first.
func findProductTable(doc *pdftext.Document) (pdftext.Table, bool) {
	for _, page := range doc.Pages {
		for _, table := range page.Tables {
			for i, row := range table {
				if pdftext.IsProductHeader(row) {
					return table[i:], true
				}
			}
		}
	}
	return nil, false
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func missingHeaders(orderID, customerID, date string) error {
	var missing []string
	if orderID == "" {
		missing = append(missing, "order id")
	}
	if customerID == "" {
		missing = append(missing, "customer id")
	}
	if date == "" {
		missing = append(missing, "date")
	}
	return fmt.Errorf("missing %s", strings.Join(missing, ", "))
}
