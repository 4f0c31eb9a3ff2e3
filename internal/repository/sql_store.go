package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/shopspring/decimal"

	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// ent is the entgo.io/ent/dialect name the query builder renders for.
	ent string
	// corrupt reports whether a driver error means the database file is
	// unusable. nil for server databases, which are never reset.
	corrupt func(error) bool
}

func (d dialect) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.ent)
}

func (d dialect) insertInvoice(inv entity.Invoice, seq int64) (string, []any) {
	return d.builder().Insert("invoices").
		Columns("order_id", "customer_id", "invoice_date", "seq").
		Values(inv.OrderID, inv.CustomerID, inv.Date.String(), seq).
		OnConflict(entsql.ConflictColumns("order_id"), entsql.DoNothing()).
		Query()
}

func (d dialect) insertItems(inv entity.Invoice) (string, []any) {
	ins := d.builder().Insert("invoice_items").
		Columns("order_id", "line_no", "product_id", "product_name", "quantity", "unit_price")
	for line, item := range inv.Items {
		var productID any
		if item.ProductID != "" {
			productID = item.ProductID
		}
		ins.Values(inv.OrderID, line+1, productID, item.ProductName, item.Quantity, item.UnitPrice.String())
	}
	return ins.Query()
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		order_id     TEXT PRIMARY KEY,
		customer_id  TEXT NOT NULL,
		invoice_date TEXT NOT NULL,
		seq          BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invoice_items (
		order_id     TEXT NOT NULL REFERENCES invoices(order_id),
		line_no      INTEGER NOT NULL,
		product_id   TEXT,
		product_name TEXT NOT NULL,
		quantity     INTEGER NOT NULL,
		unit_price   TEXT NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
	`CREATE INDEX IF NOT EXISTS invoices_seq_idx ON invoices (seq)`,
}

// SQLStore persists invoices in two relational tables. Unit prices are kept
// as decimal strings so no precision is lost between backends.
type SQLStore struct {
	db       *sql.DB
	dialect  dialect
	logger   *slog.Logger
	migrated bool

	// reset replaces the underlying database; nil truncates the tables instead.
	reset   func(ctx context.Context) (*sql.DB, error)
	onClose func()
}

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, dialect: d, logger: logger}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if s.migrated {
		return nil
	}
	for _, stmt := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.classify(fmt.Errorf("migrate %s schema: %w", s.dialect.name, err))
		}
	}
	s.migrated = true
	return nil
}

// classify marks err as ErrCorruptStore when the driver says the file is damaged.
// Locks, permissions and context errors pass through unchanged.
func (s *SQLStore) classify(err error) error {
	if err == nil || s.dialect.corrupt == nil || !s.dialect.corrupt(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorruptStore, err)
}

// badValue reports a stored value that does not decode.
func (s *SQLStore) badValue(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	if s.dialect.corrupt == nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCorruptStore, err)
}

func (s *SQLStore) Load(ctx context.Context) ([]entity.Invoice, error) {
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	b := s.dialect.builder()

	query, args := b.Select("order_id", "customer_id", "invoice_date").
		From(b.Table("invoices")).
		OrderBy("seq").
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(fmt.Errorf("query invoices: %w", err))
	}
	var invoices []entity.Invoice
	index := make(map[string]int)
	for rows.Next() {
		var inv entity.Invoice
		var rawDate string
		if err := rows.Scan(&inv.OrderID, &inv.CustomerID, &rawDate); err != nil {
			_ = rows.Close()
			return nil, s.classify(fmt.Errorf("scan invoice: %w", err))
		}
		date, err := entity.ParseDate(rawDate)
		if err != nil {
			_ = rows.Close()
			return nil, s.badValue("invoice %s date %q: %v", inv.OrderID, rawDate, err)
		}
		inv.Date = date
		index[inv.OrderID] = len(invoices)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, s.classify(fmt.Errorf("iterate invoices: %w", err))
	}
	_ = rows.Close()

	query, args = b.Select("order_id", "product_id", "product_name", "quantity", "unit_price").
		From(b.Table("invoice_items")).
		OrderBy("order_id", "line_no").
		Query()
	items, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(fmt.Errorf("query items: %w", err))
	}
	defer items.Close()
	for items.Next() {
		var orderID, name, rawPrice string
		var productID sql.NullString
		var qty int
		if err := items.Scan(&orderID, &productID, &name, &qty, &rawPrice); err != nil {
			return nil, s.classify(fmt.Errorf("scan item: %w", err))
		}
		price, err := decimal.NewFromString(rawPrice)
		if err != nil {
			return nil, s.badValue("invoice %s price %q: %v", orderID, rawPrice, err)
		}
		i, ok := index[orderID]
		if !ok {
			continue
		}
		invoices[i].Items = append(invoices[i].Items, entity.Item{
			ProductID:   productID.String,
			ProductName: name,
			Quantity:    qty,
			UnitPrice:   price,
		})
	}
	if err := items.Err(); err != nil {
		return nil, s.classify(fmt.Errorf("iterate items: %w", err))
	}
	return invoices, nil
}

// Append writes all invoices in one transaction. Rows whose order_id already
// exists are left untouched.
func (s *SQLStore) Append(ctx context.Context, invoices []entity.Invoice) (err error) {
	if len(invoices) == 0 {
		return nil
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	b := s.dialect.builder()
	var seq int64
	query, args := b.Select("COALESCE(MAX(seq), 0)").From(b.Table("invoices")).Query()
	if err = tx.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}

	for _, inv := range invoices {
		seq++
		query, args := s.dialect.insertInvoice(inv, seq)
		res, execErr := tx.ExecContext(ctx, query, args...)
		if execErr != nil {
			err = fmt.Errorf("insert invoice %s: %w", inv.OrderID, execErr)
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Info("invoice already stored", "order_id", inv.OrderID)
			continue
		}
		if len(inv.Items) == 0 {
			continue
		}
		query, args = s.dialect.insertItems(inv)
		if _, execErr := tx.ExecContext(ctx, query, args...); execErr != nil {
			err = fmt.Errorf("insert items of %s: %w", inv.OrderID, execErr)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Reset(ctx context.Context) error {
	if s.reset != nil {
		db, err := s.reset(ctx)
		if err != nil {
			return err
		}
		s.db = db
		s.migrated = false
		return s.migrate(ctx)
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	for _, table := range []string{"invoice_items", "invoices"} {
		query, args := s.dialect.builder().Delete(table).Query()
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("reset %s store: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}
