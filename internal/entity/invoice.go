package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyOrderID    = errors.New("order id must not be empty")
	ErrEmptyCustomerID = errors.New("customer id must not be empty")
	ErrMissingDate     = errors.New("invoice date is required")
	ErrNoItems         = errors.New("invoice must contain at least one item")
)

// Invoice is the canonical record extracted from one document.
// It is append-only: once handed to the repository it is never mutated.
type Invoice struct {
	OrderID    string `json:"order_id"`
	Date       Date   `json:"date"`
	CustomerID string `json:"customer_id"`
	Items      []Item `json:"items"`
}

// NewInvoice validates and constructs an Invoice. The items slice is copied.
func NewInvoice(orderID, customerID string, date Date, items []Item) (Invoice, error) {
	inv := Invoice{
		OrderID:    strings.TrimSpace(orderID),
		CustomerID: strings.TrimSpace(customerID),
		Date:       date,
		Items:      append([]Item(nil), items...),
	}
	if err := inv.Validate(); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// Validate enforces the header and item invariants.
func (inv Invoice) Validate() error {
	if inv.OrderID == "" {
		return ErrEmptyOrderID
	}
	if inv.CustomerID == "" {
		return ErrEmptyCustomerID
	}
	if inv.Date.IsZero() {
		return ErrMissingDate
	}
	if len(inv.Items) == 0 {
		return ErrNoItems
	}
	for n, item := range inv.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", n+1, err)
		}
	}
	return nil
}

// TotalValue is the sum of quantity × unit price over all items. Not persisted.
func (inv Invoice) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.Items {
		total = total.Add(item.Total())
	}
	return total
}
