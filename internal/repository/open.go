package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverJSON:
		return NewJSONStore(cfg.Path, logger)
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.Path, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
