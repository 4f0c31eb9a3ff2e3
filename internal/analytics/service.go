// Package analytics answers read-only aggregate questions over stored invoices.
package analytics

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

// ErrNoData is returned when there are no invoices to analyse.
var ErrNoData = errors.New("no invoices to analyse")

// Row is one invoice item joined with its invoice header.
type Row struct {
	OrderID     string
	CustomerID  string
	Date        entity.Date
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

type ProductTotal struct {
	ProductName string
	Total       decimal.Decimal
}

type ProductQuantity struct {
	ProductName string
	Quantity    int
}

type CustomerTotal struct {
	CustomerID string
	Total      decimal.Decimal
}

type PriceEntry struct {
	ProductName string
	UnitPrice   decimal.Decimal
}

type InvoiceTotal struct {
	OrderID    string
	CustomerID string
	Date       entity.Date
	Total      decimal.Decimal
}

// Service holds the flattened item table. It never mutates its input.
type Service struct {
	invoices []entity.Invoice
	rows     []Row
}

func NewService(invoices []entity.Invoice) (*Service, error) {
	if len(invoices) == 0 {
		return nil, ErrNoData
	}
	s := &Service{invoices: append([]entity.Invoice(nil), invoices...)}
	for _, inv := range invoices {
		for _, it := range inv.Items {
			s.rows = append(s.rows, Row{
				OrderID:     inv.OrderID,
				CustomerID:  inv.CustomerID,
				Date:        inv.Date,
				ProductID:   it.ProductID,
				ProductName: it.ProductName,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				Total:       it.Total(),
			})
		}
	}
	if len(s.rows) == 0 {
		return nil, ErrNoData
	}
	return s, nil
}

// Rows returns a copy of the flattened table.
func (s *Service) Rows() []Row {
	return append([]Row(nil), s.rows...)
}

// InvoiceCount is the number of distinct orders.
func (s *Service) InvoiceCount() int {
	return len(s.InvoiceTotals())
}

// InvoiceTotals sums each order, in first-seen order.
func (s *Service) InvoiceTotals() []InvoiceTotal {
	index := map[string]int{}
	var out []InvoiceTotal
	for _, r := range s.rows {
		i, ok := index[r.OrderID]
		if !ok {
			i = len(out)
			index[r.OrderID] = i
			out = append(out, InvoiceTotal{OrderID: r.OrderID, CustomerID: r.CustomerID, Date: r.Date, Total: decimal.Zero})
		}
		out[i].Total = out[i].Total.Add(r.Total)
	}
	return out
}

// AverageInvoiceValue is the mean of the per-order totals.
func (s *Service) AverageInvoiceValue() decimal.Decimal {
	totals := s.InvoiceTotals()
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t.Total)
	}
	return sum.Div(decimal.NewFromInt(int64(len(totals))))
}

// MostFrequentProduct is the product name on the most item rows; ties go to the first seen.
func (s *Service) MostFrequentProduct() (name string, rows int) {
	counts := map[string]int{}
	var order []string
	for _, r := range s.rows {
		if _, ok := counts[r.ProductName]; !ok {
			order = append(order, r.ProductName)
		}
		counts[r.ProductName]++
	}
	for _, n := range order {
		if counts[n] > rows {
			name, rows = n, counts[n]
		}
	}
	return name, rows
}

// TotalSpentPerProduct sums item totals by product name, highest first.
func (s *Service) TotalSpentPerProduct() []ProductTotal {
	sums := map[string]decimal.Decimal{}
	for _, r := range s.rows {
		sums[r.ProductName] = sums[r.ProductName].Add(r.Total)
	}
	out := make([]ProductTotal, 0, len(sums))
	for name, total := range sums {
		out = append(out, ProductTotal{ProductName: name, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].ProductName < out[j].ProductName
	})
	return out
}

// QuantityPerProduct sums quantities by product name, highest first.
func (s *Service) QuantityPerProduct() []ProductQuantity {
	sums := map[string]int{}
	for _, r := range s.rows {
		sums[r.ProductName] += r.Quantity
	}
	out := make([]ProductQuantity, 0, len(sums))
	for name, qty := range sums {
		out = append(out, ProductQuantity{ProductName: name, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].ProductName < out[j].ProductName
	})
	return out
}

// TotalPerCustomer sums invoice totals by customer, highest first.
func (s *Service) TotalPerCustomer() []CustomerTotal {
	sums := map[string]decimal.Decimal{}
	for _, r := range s.rows {
		sums[r.CustomerID] = sums[r.CustomerID].Add(r.Total)
	}
	out := make([]CustomerTotal, 0, len(sums))
	for id, total := range sums {
		out = append(out, CustomerTotal{CustomerID: id, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	return out
}

// ProductPriceList lists each distinct (product, unit price) pair, sorted by name then price.
func (s *Service) ProductPriceList() []PriceEntry {
	seen := map[string]struct{}{}
	var out []PriceEntry
	for _, r := range s.rows {
		key := r.ProductName + "\x00" + r.UnitPrice.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, PriceEntry{ProductName: r.ProductName, UnitPrice: r.UnitPrice})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProductName != out[j].ProductName {
			return out[i].ProductName < out[j].ProductName
		}
		return out[i].UnitPrice.LessThan(out[j].UnitPrice)
	})
	return out
}
