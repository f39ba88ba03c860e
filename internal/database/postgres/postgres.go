// Package postgres provides the PostgreSQL backend. Encodings are stored in
// a pgvector column.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/clone-finder/internal/config"
	"github.com/kozaktomas/clone-finder/internal/database/sqlstore"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect returns the PostgreSQL dialect.
func Dialect() sqlstore.Dialect {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic("postgres migrations: " + err.Error())
	}
	return sqlstore.Dialect{
		Name:        "postgres",
		Placeholder: sq.Dollar,
		Migrations:  sub,
		Embeddings:  VectorCodec{},
		InsertIgnore: func(b sq.InsertBuilder) sq.InsertBuilder {
			return b.Suffix("ON CONFLICT DO NOTHING")
		},
	}
}

// VectorCodec maps encodings to the pgvector vector type.
type VectorCodec struct{}

// Value implements sqlstore.EmbeddingCodec.
func (VectorCodec) Value(enc []float32) any {
	if enc == nil {
		return nil
	}
	return pgvector.NewVector(enc)
}

// NewScanner implements sqlstore.EmbeddingCodec.
func (VectorCodec) NewScanner() sqlstore.EmbeddingScanner {
	return &vectorScanner{}
}

type vectorScanner struct {
	vec   pgvector.Vector
	valid bool
}

func (s *vectorScanner) Scan(src any) error {
	if src == nil {
		s.valid = false
		return nil
	}
	if err := s.vec.Scan(src); err != nil {
		return fmt.Errorf("scan vector: %w", err)
	}
	s.valid = true
	return nil
}

func (s *vectorScanner) Embedding() []float32 {
	if !s.valid {
		return nil
	}
	return s.vec.Slice()
}

// Open connects to PostgreSQL and applies migrations.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*sqlstore.Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	pool, err := sqlstore.NewPool(ctx, "postgres", cfg.URL, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	store := sqlstore.New(pool, Dialect(), sqlstore.WithLogger(logger))
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}
