// Package sqlite provides the embedded SQLite backend, the default store.
package sqlite

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/clone-finder/internal/config"
	"github.com/kozaktomas/clone-finder/internal/database/sqlstore"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect returns the SQLite dialect.
func Dialect() sqlstore.Dialect {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic("sqlite migrations: " + err.Error())
	}
	return sqlstore.Dialect{
		Name:        "sqlite",
		Placeholder: sq.Question,
		Migrations:  sub,
		Embeddings:  sqlstore.BlobCodec{},
		InsertIgnore: func(b sq.InsertBuilder) sq.InsertBuilder {
			return b.Options("OR IGNORE")
		},
	}
}

// dsn turns a file path into a go-sqlite3 DSN with WAL enabled.
func dsn(path string) string {
	switch {
	case path == ":memory:":
		return "file::memory:?_busy_timeout=5000"
	case strings.HasPrefix(path, "file:"):
		return path
	default:
		return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
}

// Open opens (creating if needed) the database file and applies migrations.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*sqlstore.Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	pool, err := sqlstore.NewPool(ctx, "sqlite3", dsn(cfg.URL), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite pool: %w", err)
	}
	// SQLite allows a single writer; an in-memory database also only
	// exists on the connection that created it.
	db := pool.DB()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	store := sqlstore.New(pool, Dialect(), sqlstore.WithLogger(logger))
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}
