package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

func invoice(t *testing.T, orderID string, items ...entity.Item) entity.Invoice {
	t.Helper()
	if len(items) == 0 {
		items = []entity.Item{item(t, "P1", "Widget", 3, "9.99")}
	}
	inv, err := entity.NewInvoice(orderID, "C9", entity.NewDate(2024, time.March, 5), items)
	require.NoError(t, err)
	return inv
}

func item(t *testing.T, id, name string, qty int, price string) entity.Item {
	t.Helper()
	it, err := entity.NewItem(id, name, qty, decimal.RequireFromString(price))
	require.NoError(t, err)
	return it
}

func newJSONRepo(t *testing.T, path string) *InvoiceRepository {
	t.Helper()
	store, err := NewJSONStore(path, nil)
	require.NoError(t, err)
	repo, err := NewInvoiceRepository(context.Background(), store, nil)
	require.NoError(t, err)
	return repo
}

func TestInvoiceRepository_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "invoices.json")
	repo := newJSONRepo(t, path)

	inv := invoice(t, "A100")
	assert.Equal(t, Added, repo.Add(inv))
	assert.Equal(t, Duplicate, repo.Add(inv))
	assert.Equal(t, 1, repo.Pending())
	require.NoError(t, repo.Flush(ctx))

	reloaded := newJSONRepo(t, path)
	require.Len(t, reloaded.Invoices(), 1)
	assert.Equal(t, Duplicate, reloaded.Add(inv), "dedup must survive reload")
}

func TestInvoiceRepository_FlushDurability(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "invoices.json")
	repo := newJSONRepo(t, path)

	inv := invoice(t, "A100")
	repo.Add(inv)
	assert.True(t, repo.Exists("A100"))
	assert.False(t, newJSONRepo(t, path).Exists("A100"), "unflushed invoice must not be durable")

	require.NoError(t, repo.Flush(ctx))
	assert.Equal(t, 0, repo.Pending())

	reloaded := newJSONRepo(t, path)
	require.Len(t, reloaded.Invoices(), 1)
	got := reloaded.Invoices()[0]
	assert.Equal(t, inv.OrderID, got.OrderID)
	assert.Equal(t, inv.Date, got.Date)
	assert.True(t, decimal.RequireFromString("29.97").Equal(got.TotalValue()))
}

func TestInvoiceRepository_DuplicateKeepsFirst(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "invoices.json")
	repo := newJSONRepo(t, path)

	first := invoice(t, "A100", item(t, "P1", "Widget", 3, "9.99"))
	second := invoice(t, "A100", item(t, "P2", "Gadget", 1, "5.00"))
	assert.Equal(t, Added, repo.Add(first))
	assert.Equal(t, Duplicate, repo.Add(second))
	require.NoError(t, repo.Flush(ctx))

	stored := newJSONRepo(t, path).Invoices()
	require.Len(t, stored, 1)
	assert.Equal(t, "Widget", stored[0].Items[0].ProductName)
}

func TestInvoiceRepository_FlushEmptyIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	repo := newJSONRepo(t, path)
	require.NoError(t, repo.Flush(context.Background()))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestInvoiceRepository_CorruptJSONRecovered(t *testing.T) {
	cases := map[string]string{
		"not json":       "{{{ definitely not json",
		"wrong shape":    `{"order_id": "A1"}`,
		"missing items":  `[{"order_id": "A1", "customer_id": "C1", "date": "2024-01-01"}]`,
		"negative price": `[{"order_id": "A1", "customer_id": "C1", "date": "2024-01-01", "items": [{"product_id": null, "product_name": "W", "quantity": 1, "unit_price": -2}]}]`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "invoices.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			repo := newJSONRepo(t, path)
			assert.Empty(t, repo.Invoices())

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, content, string(data), "loading must not rewrite the store")

			repo.Add(invoice(t, "A100"))
			require.NoError(t, repo.Flush(context.Background()))
			assert.Len(t, newJSONRepo(t, path).Invoices(), 1)

			matches, err := filepath.Glob(path + ".corrupt-*")
			require.NoError(t, err)
			require.Len(t, matches, 1)
			aside, err := os.ReadFile(matches[0])
			require.NoError(t, err)
			assert.Equal(t, content, string(aside), "the corrupt document is kept")
		})
	}
}

func TestInvoiceRepository_CorruptStoreUntouchedWithoutWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	content := `[
    {"order_id": "A1", "customer_id": "C1", "date": "2024-01-01", "items": [{"product_id": "P1", "product_name": "W", "quantity": 2, "unit_price": 1.5}]},
    {"order_id": "A2", "customer_id": "C1", "date": "2024-01-02", "items": [{"product_id": "P1", "product_name": "W", "quantity": 0, "unit_price": 1.5}]}
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	repo := newJSONRepo(t, path)
	assert.False(t, repo.Exists("A1"))
	require.NoError(t, repo.Flush(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestJSONStore_DocumentShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "invoices.json")
	store, err := NewJSONStore(path, nil)
	require.NoError(t, err)

	inv := invoice(t, "A100", item(t, "", "Widget", 3, "9.99"))
	require.NoError(t, store.Append(context.Background(), []entity.Invoice{inv}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `        "order_id": "A100"`)
	assert.Contains(t, text, `"date": "2024-03-05"`)
	assert.Contains(t, text, `"product_id": null`)
	assert.Contains(t, text, `"unit_price": 9.99`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

type failingStore struct {
	Store
	appendErr error
}

func (f failingStore) Append(context.Context, []entity.Invoice) error { return f.appendErr }

func TestInvoiceRepository_FlushFailureKeepsBuffer(t *testing.T) {
	inner, err := NewJSONStore(filepath.Join(t.TempDir(), "invoices.json"), nil)
	require.NoError(t, err)
	boom := errors.New("disk full")
	repo, err := NewInvoiceRepository(context.Background(), failingStore{Store: inner, appendErr: boom}, nil)
	require.NoError(t, err)

	repo.Add(invoice(t, "A100"))
	err = repo.Flush(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, repo.Pending())
	assert.Empty(t, repo.Invoices())
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "invoices.db")

	store, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	repo, err := NewInvoiceRepository(ctx, store, nil)
	require.NoError(t, err)

	repo.Add(invoice(t, "B2", item(t, "", "Bolt", 10, "0.25"), item(t, "P7", "Nut", 4, "0.10")))
	repo.Add(invoice(t, "A1"))
	require.NoError(t, repo.Flush(ctx))
	require.NoError(t, repo.Close())

	store, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "B2", got[0].OrderID, "insertion order is preserved")
	assert.Equal(t, "A1", got[1].OrderID)
	require.Len(t, got[0].Items, 2)
	assert.Equal(t, "", got[0].Items[0].ProductID)
	assert.Equal(t, "Bolt", got[0].Items[0].ProductName)
	assert.Equal(t, "P7", got[0].Items[1].ProductID)
	assert.True(t, decimal.RequireFromString("2.90").Equal(got[0].TotalValue()))
	assert.Equal(t, entity.NewDate(2024, time.March, 5), got[1].Date)
}

func TestSQLiteStore_AppendSkipsExistingOrder(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "invoices.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(ctx, []entity.Invoice{invoice(t, "A1")}))
	require.NoError(t, store.Append(ctx, []entity.Invoice{invoice(t, "A1", item(t, "P2", "Gadget", 1, "5"))}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Items, 1)
	assert.Equal(t, "Widget", got[0].Items[0].ProductName)
}

func TestSQLiteStore_CorruptFileMovedAside(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "invoices.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("garbage!", 512)), 0o644))

	store, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrCorruptStore)

	repo, err := NewInvoiceRepository(ctx, store, nil)
	require.NoError(t, err)
	defer repo.Close()
	assert.Empty(t, repo.Invoices())

	repo.Add(invoice(t, "A100"))
	require.NoError(t, repo.Flush(ctx))

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("INVOICE_ETL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("INVOICE_ETL_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := OpenPostgres(ctx, Config{DSN: dsn, DialTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Reset(ctx))

	require.NoError(t, store.Append(ctx, []entity.Invoice{invoice(t, "A100")}))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A100", got[0].OrderID)
	assert.True(t, decimal.RequireFromString("29.97").Equal(got[0].TotalValue()))
}

func TestSQLiteStore_LockedDatabaseIsNotCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "invoices.db")

	prev := sqliteBusyTimeout
	sqliteBusyTimeout = 50 * time.Millisecond
	t.Cleanup(func() { sqliteBusyTimeout = prev })

	store, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, []entity.Invoice{invoice(t, "A1")}))
	require.NoError(t, store.Close())

	holder, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer holder.Close()
	conn, err := holder.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	locked, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	_, err = NewInvoiceRepository(ctx, locked, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptStore)
	require.NoError(t, locked.Close())

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Empty(t, matches, "a locked database must stay in place")

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)

	store, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	repo, err := NewInvoiceRepository(ctx, store, nil)
	require.NoError(t, err)
	defer repo.Close()
	assert.True(t, repo.Exists("A1"))
}

func TestDialect_InsertInvoiceQuery(t *testing.T) {
	inv := invoice(t, "A1")

	query, args := postgresDialect.insertInvoice(inv, 7)
	assert.Contains(t, query, "$4")
	assert.Contains(t, query, "ON CONFLICT")
	assert.Contains(t, query, "DO NOTHING")
	assert.Equal(t, []any{"A1", "C9", "2024-03-05", int64(7)}, args)

	query, _ = sqliteDialect.insertInvoice(inv, 7)
	assert.NotContains(t, query, "$1")
	assert.Contains(t, query, "?")
	assert.Contains(t, query, "DO NOTHING")
}

func TestDialect_InsertItemsQuery(t *testing.T) {
	inv := invoice(t, "B2", item(t, "", "Bolt", 10, "0.25"), item(t, "P7", "Nut", 4, "0.10"))

	query, args := postgresDialect.insertItems(inv)
	assert.Contains(t, query, "$12")
	assert.Equal(t, []any{
		"B2", 1, nil, "Bolt", 10, "0.25",
		"B2", 2, "P7", "Nut", 4, "0.1",
	}, args)
}

func TestIsSQLiteCorrupt(t *testing.T) {
	assert.False(t, isSQLiteCorrupt(errors.New("plain")))
	assert.False(t, isSQLiteCorrupt(context.Canceled))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, nil)
	require.Error(t, err)
}
