package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

// ErrCorruptStore is returned by Store.Load when the durable data cannot be decoded.
var ErrCorruptStore = errors.New("corrupt invoice store")

// Store is durable, append-only invoice storage.
type Store interface {
	// Load returns every persisted invoice in insertion order.
	Load(ctx context.Context) ([]entity.Invoice, error)
	// Append persists invoices in a single write.
	Append(ctx context.Context, invoices []entity.Invoice) error
	// Reset discards the durable data and leaves an empty, usable store.
	// File backends keep the old file as <path>.corrupt-<timestamp>.
	Reset(ctx context.Context) error
	Close() error
}

// Store drivers accepted by Config.Driver.
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	// Path is the JSON document or SQLite database file.
	Path string

	// Postgres only.
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// moveAside renames a damaged store file to <path>.corrupt-<UTC timestamp>.
// A missing file is not an error; the returned name is empty then.
func moveAside(path string) (string, error) {
	aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("move corrupt store aside: %w", err)
	}
	return aside, nil
}
