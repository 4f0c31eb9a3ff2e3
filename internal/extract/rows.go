package extract

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

// SkipReason explains why a table row produced no Item.
type SkipReason string

const (
	SkipNone                SkipReason = ""
	SkipInsufficientColumns SkipReason = "insufficient_columns"
	SkipBadQuantity         SkipReason = "bad_quantity"
	SkipBadPrice            SkipReason = "bad_price"
	SkipInvalidItem         SkipReason = "invalid_item"
)

// minRowCells is the number of non-empty cells a data row needs.
const minRowCells = 4

// Row is a product table row after normalization.
type Row struct {
	ProductID   string
	ProductName string
	Quantity    string
	UnitPrice   string
}

// NormalizeRow drops empty cells, trims the rest and maps the first four to a Row.
// ok is false when fewer than four non-empty cells remain.
func NormalizeRow(cells []string) (row Row, ok bool) {
	kept := make([]string, 0, len(cells))
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) < minRowCells {
		return Row{}, false
	}
	return Row{ProductID: kept[0], ProductName: kept[1], Quantity: kept[2], UnitPrice: kept[3]}, true
}

// RowOutcome is either an Item or the reason the row was skipped.
type RowOutcome struct {
	Item entity.Item
	Skip SkipReason
	Err  error
}

// OK reports whether the row produced an Item.
func (o RowOutcome) OK() bool { return o.Skip == SkipNone }

// ParseRow converts raw table cells into an Item or a skip.
func ParseRow(cells []string, opts Options) RowOutcome {
	row, ok := NormalizeRow(cells)
	if !ok {
		return RowOutcome{Skip: SkipInsufficientColumns}
	}
	qty, err := parseQuantity(row.Quantity, opts)
	if err != nil {
		return RowOutcome{Skip: SkipBadQuantity, Err: err}
	}
	price, err := parsePrice(row.UnitPrice, opts)
	if err != nil {
		return RowOutcome{Skip: SkipBadPrice, Err: err}
	}
	item, err := entity.NewItem(row.ProductID, row.ProductName, qty, price)
	if err != nil {
		return RowOutcome{Skip: SkipInvalidItem, Err: err}
	}
	return RowOutcome{Item: item}
}

func parseQuantity(s string, opts Options) (int, error) {
	if opts.StripThousandsSeparator {
		s = strings.ReplaceAll(s, ",", "")
	}
	return strconv.Atoi(s)
}

func parsePrice(s string, opts Options) (decimal.Decimal, error) {
	if opts.DecimalComma {
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}
