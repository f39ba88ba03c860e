// Package backend opens the configured store implementation.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/clone-finder/internal/config"
	"github.com/kozaktomas/clone-finder/internal/database/mariadb"
	"github.com/kozaktomas/clone-finder/internal/database/postgres"
	"github.com/kozaktomas/clone-finder/internal/database/sqlite"
	"github.com/kozaktomas/clone-finder/internal/database/sqlstore"
)

// Drivers lists the accepted DATABASE_DRIVER values.
var Drivers = []string{"sqlite", "postgres", "mariadb"}

// Open opens the store selected by cfg.Driver and applies pending migrations.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*sqlstore.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", cfg.Driver)

	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		return sqlite.Open(ctx, cfg, logger)
	case "postgres", "postgresql":
		return postgres.Open(ctx, cfg, logger)
	case "mariadb", "mysql":
		return mariadb.Open(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q (expected one of %v)", cfg.Driver, Drivers)
	}
}
