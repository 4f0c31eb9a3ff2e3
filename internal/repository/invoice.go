package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

// AddResult tells whether Add buffered the invoice or skipped it.
type AddResult int

const (
	Added AddResult = iota
	Duplicate
)

func (r AddResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "added"
}

// InvoiceRepository deduplicates invoices by order id and buffers additions
// until Flush. It is not safe for concurrent use.
type InvoiceRepository struct {
	store  Store
	logger *slog.Logger

	seen      map[string]struct{}
	persisted []entity.Invoice
	buffer    []entity.Invoice

	// resetOnFlush is set when the store was corrupt at load; the first
	// non-empty Flush resets it before writing.
	resetOnFlush bool
}

// NewInvoiceRepository loads the store once. A corrupt store is treated as
// empty and left untouched until the first Flush that has something to
// write. Any other load failure is returned.
func NewInvoiceRepository(ctx context.Context, store Store, logger *slog.Logger) (*InvoiceRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &InvoiceRepository{
		store:  store,
		logger: logger,
		seen:   make(map[string]struct{}),
	}

	loaded, err := store.Load(ctx)
	if errors.Is(err, ErrCorruptStore) {
		logger.Warn("invoice store is corrupt, starting empty", "error", err)
		r.resetOnFlush = true
		loaded = nil
	} else if err != nil {
		return nil, fmt.Errorf("load invoice store: %w", err)
	}

	for _, inv := range loaded {
		if _, dup := r.seen[inv.OrderID]; dup {
			logger.Warn("stored invoice repeated, keeping first", "order_id", inv.OrderID)
			continue
		}
		r.seen[inv.OrderID] = struct{}{}
		r.persisted = append(r.persisted, inv)
	}
	logger.Debug("invoice store loaded", "invoices", len(r.persisted))
	return r, nil
}

// Exists reports whether orderID is stored or buffered.
func (r *InvoiceRepository) Exists(orderID string) bool {
	_, ok := r.seen[orderID]
	return ok
}

// Add buffers inv unless its order id is already known. It never touches durable storage.
func (r *InvoiceRepository) Add(inv entity.Invoice) AddResult {
	if r.Exists(inv.OrderID) {
		r.logger.Info("duplicate invoice skipped", "order_id", inv.OrderID)
		return Duplicate
	}
	r.seen[inv.OrderID] = struct{}{}
	r.buffer = append(r.buffer, inv)
	return Added
}

// Flush appends the buffer to the store in one write and clears it.
// On failure the buffer is kept so the caller may retry.
func (r *InvoiceRepository) Flush(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}
	if r.resetOnFlush {
		if err := r.store.Reset(ctx); err != nil {
			r.logger.Error("failed to reset corrupt store", "pending", len(r.buffer), "error", err)
			return fmt.Errorf("reset corrupt store: %w", err)
		}
		r.resetOnFlush = false
	}
	if err := r.store.Append(ctx, r.buffer); err != nil {
		r.logger.Error("failed to flush invoices", "pending", len(r.buffer), "error", err)
		return fmt.Errorf("flush %d invoices: %w", len(r.buffer), err)
	}
	r.logger.Info("invoices flushed", "count", len(r.buffer))
	r.persisted = append(r.persisted, r.buffer...)
	r.buffer = nil
	return nil
}

// Pending is the number of buffered, unflushed invoices.
func (r *InvoiceRepository) Pending() int { return len(r.buffer) }

// Invoices returns a copy of the persisted invoices in insertion order.
func (r *InvoiceRepository) Invoices() []entity.Invoice {
	return append([]entity.Invoice(nil), r.persisted...)
}

func (r *InvoiceRepository) Close() error {
	return r.store.Close()
}
