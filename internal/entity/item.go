package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyProductName = errors.New("product name must not be empty")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrInvalidUnitPrice = errors.New("unit price must be greater than zero")
)

// Item is one validated line of an invoice product table.
// ProductID is optional; "" means the table did not carry one.
type Item struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// NewItem validates and constructs an Item.
func NewItem(productID, productName string, quantity int, unitPrice decimal.Decimal) (Item, error) {
	item := Item{
		ProductID:   strings.TrimSpace(productID),
		ProductName: strings.TrimSpace(productName),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	}
	if err := item.Validate(); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Validate enforces the item invariants.
func (i Item) Validate() error {
	if i.ProductName == "" {
		return ErrEmptyProductName
	}
	if i.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !i.UnitPrice.IsPositive() {
		return ErrInvalidUnitPrice
	}
	return nil
}

// Total is quantity × unit price.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type itemJSON struct {
	ProductID   *string     `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
}

// MarshalJSON keeps unit_price a JSON number so the store stays readable by numeric consumers.
func (i Item) MarshalJSON() ([]byte, error) {
	out := itemJSON{
		ProductName: i.ProductName,
		Quantity:    i.Quantity,
		UnitPrice:   json.Number(i.UnitPrice.String()),
	}
	if i.ProductID != "" {
		id := i.ProductID
		out.ProductID = &id
	}
	return json.Marshal(out)
}

func (i *Item) UnmarshalJSON(b []byte) error {
	var in itemJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	price, err := decimal.NewFromString(in.UnitPrice.String())
	if err != nil {
		return fmt.Errorf("unit_price: %w", err)
	}
	*i = Item{
		ProductName: in.ProductName,
		Quantity:    in.Quantity,
		UnitPrice:   price,
	}
	if in.ProductID != nil {
		i.ProductID = *in.ProductID
	}
	return nil
}
