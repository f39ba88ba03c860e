package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/clone-finder/internal/database"
)

// SaveIngestRun records the outcome of a loader pass.
func (s *Store) SaveIngestRun(ctx context.Context, run *database.IngestRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query, args, err := s.sb.Insert("ingest_runs").
		Columns("id", "source", "started_at", "finished_at", "added", "updated", "skipped", "failed", "status").
		Values(run.ID.String(), run.Source, run.StartedAt.Unix(), run.FinishedAt.Unix(),
			run.Added, run.Updated, run.Skipped, run.Failed, run.Status).
		ToSql()
	if err != nil {
		return fmt.Errorf("build ingest run insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert ingest run %s: %w", run.ID, err)
	}
	return nil
}

// RecentIngestRuns returns the latest runs, newest first.
func (s *Store) RecentIngestRuns(ctx context.Context, limit int) ([]database.IngestRun, error) {
	if limit <= 0 {
		limit = 10
	}

	query, args, err := s.sb.Select("id", "source", "started_at", "finished_at",
		"added", "updated", "skipped", "failed", "status").
		From("ingest_runs").
		OrderBy("started_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ingest run query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []database.IngestRun
	for rows.Next() {
		var run database.IngestRun
		var id string
		var started, finished int64
		if err := rows.Scan(&id, &run.Source, &started, &finished,
			&run.Added, &run.Updated, &run.Skipped, &run.Failed, &run.Status); err != nil {
			return nil, fmt.Errorf("scan ingest run: %w", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse ingest run id %q: %w", id, err)
		}
		run.StartedAt = time.Unix(started, 0)
		run.FinishedAt = time.Unix(finished, 0)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingest runs: %w", err)
	}
	return runs, nil
}
