// Package mariadb provides the MariaDB / MySQL backend.
package mariadb

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/clone-finder/internal/config"
	"github.com/kozaktomas/clone-finder/internal/database/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect returns the MariaDB dialect.
func Dialect() sqlstore.Dialect {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic("mariadb migrations: " + err.Error())
	}
	return sqlstore.Dialect{
		Name:        "mariadb",
		Placeholder: sq.Question,
		Migrations:  sub,
		Embeddings:  sqlstore.BlobCodec{},
		InsertIgnore: func(b sq.InsertBuilder) sq.InsertBuilder {
			return b.Options("IGNORE")
		},
	}
}

// normalizeDSN enables the driver options the store relies on: multi-statement
// migrations and found-rows semantics for the guarded face update.
func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	cfg.MultiStatements = true
	cfg.ClientFoundRows = true
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Open connects to MariaDB and applies migrations.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*sqlstore.Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	dsn, err := normalizeDSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	pool, err := sqlstore.NewPool(ctx, "mysql", dsn, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MariaDB pool: %w", err)
	}

	store := sqlstore.New(pool, Dialect(), sqlstore.WithLogger(logger))
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}
