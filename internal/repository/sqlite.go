package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	entdialect "entgo.io/ent/dialect"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteDialect = dialect{name: "sqlite", ent: entdialect.SQLite, corrupt: isSQLiteCorrupt}

// sqliteBusyTimeout is how long a statement waits on another connection's lock.
var sqliteBusyTimeout = 5 * time.Second

// isSQLiteCorrupt reports whether err says the database file itself is damaged.
// Extended result codes are masked to their primary code.
func isSQLiteCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// OpenSQLite opens (creating if needed) a SQLite invoice store at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := openSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	logger.Info("opened sqlite store", "path", path)

	store := newSQLStore(db, sqliteDialect, logger)
	store.reset = func(context.Context) (*sql.DB, error) {
		if err := store.db.Close(); err != nil {
			logger.Warn("failed to close sqlite store before reset", "error", err)
		}
		aside, err := moveAside(path)
		if err != nil {
			return nil, err
		}
		if aside != "" {
			logger.Warn("moved corrupt sqlite store aside", "path", path, "moved_to", aside)
		}
		return openSQLiteDB(path)
	}
	return store, nil
}

func openSQLiteDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, sqliteBusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; the repository is only driven from a single goroutine.
	// The file header is not read until the first query, so corruption
	// surfaces from Load as ErrCorruptStore rather than here.
	db.SetMaxOpenConns(1)
	return db, nil
}
