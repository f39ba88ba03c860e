// Package sqlstore implements the embedding store on top of database/sql.
// Backend specifics (placeholders, embedding column type, migrations) come
// from a Dialect supplied by the sqlite, postgres and mariadb packages.
package sqlstore

import (
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/clone-finder/internal/database"
)

// Store is a database.Store backed by a SQL connection pool.
type Store struct {
	pool    *Pool
	dialect Dialect
	sb      sq.StatementBuilderType
	logger  *slog.Logger
}

var _ database.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations and batch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a store on an open pool. Call Migrate before first use.
func New(pool *Pool, dialect Dialect, opts ...Option) *Store {
	if dialect.Embeddings == nil {
		dialect.Embeddings = BlobCodec{}
	}
	s := &Store{
		pool:    pool,
		dialect: dialect,
		sb:      dialect.Builder(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialect returns the backend name.
func (s *Store) Dialect() string { return s.dialect.Name }

// Pool returns the underlying connection pool.
func (s *Store) Pool() *Pool { return s.pool }

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
