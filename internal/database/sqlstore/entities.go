package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/clone-finder/internal/database"
)

// GetEntity retrieves an entity by key.
func (s *Store) GetEntity(ctx context.Context, key string) (*database.Entity, error) {
	query, args, err := s.sb.Select("entity_key", "name").
		From("entities").
		Where(sq.Eq{"entity_key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entity query: %w", err)
	}

	var e database.Entity
	err = s.pool.QueryRow(ctx, query, args...).Scan(&e.Key, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %q: %w", key, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query entity %q: %w", key, err)
	}
	return &e, nil
}

// EntityForFace resolves the entity owning a face.
func (s *Store) EntityForFace(ctx context.Context, faceID int64) (*database.Entity, error) {
	query, args, err := s.sb.Select("e.entity_key", "e.name").
		From("faces f").
		Join("entities e ON e.entity_key = f.entity_key").
		Where(sq.Eq{"f.id": faceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entity lookup: %w", err)
	}

	var e database.Entity
	err = s.pool.QueryRow(ctx, query, args...).Scan(&e.Key, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity of face %d: %w", faceID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query entity of face %d: %w", faceID, err)
	}
	return &e, nil
}

// SaveEntities inserts entities in one transaction, skipping keys that already exist.
func (s *Store) SaveEntities(ctx context.Context, entities []database.Entity) (int, error) {
	if len(entities) == 0 {
		return 0, nil
	}

	ins := s.sb.Insert("entities").Columns("entity_key", "name").Values(nil, nil)
	if s.dialect.InsertIgnore != nil {
		ins = s.dialect.InsertIgnore(ins)
	}
	query, _, err := ins.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build entity insert: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", database.ErrBatchWrite, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare entity insert: %w", database.ErrBatchWrite, err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entities {
		res, err := stmt.ExecContext(ctx, e.Key, e.Name)
		if err != nil {
			return 0, fmt.Errorf("%w: insert entity %q: %w", database.ErrBatchWrite, e.Key, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit transaction: %w", database.ErrBatchWrite, err)
	}
	return inserted, nil
}
