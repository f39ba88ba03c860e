package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/clone-finder/internal/database"
)

var faceColumns = []string{
	"id", "image_name", "face_location", "face_landmarks", "face_encoding",
	"image_search_rank", "image_url", "hard_face", "entity_key",
}

// nullJSON marshals v for a nullable TEXT column.
func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// scanFaceRow scans a single row selected with faceColumns.
func (s *Store) scanFaceRow(scanner interface{ Scan(...any) error }) (database.Face, error) {
	var face database.Face
	var location, landmarks sql.NullString
	var imageURL sql.NullString
	enc := s.dialect.Embeddings.NewScanner()

	if err := scanner.Scan(
		&face.ID,
		&face.ImageName,
		&location,
		&landmarks,
		enc,
		&face.SearchRank,
		&imageURL,
		&face.HardFace,
		&face.EntityKey,
	); err != nil {
		return face, fmt.Errorf("scan face: %w", err)
	}

	face.Encoding = slices.Clone(enc.Embedding())
	face.ImageURL = imageURL.String
	if location.Valid && location.String != "" {
		var box database.BoundingBox
		if err := json.Unmarshal([]byte(location.String), &box); err != nil {
			return face, fmt.Errorf("decode face_location of face %d: %w", face.ID, err)
		}
		face.Location = &box
	}
	if landmarks.Valid && landmarks.String != "" {
		if err := json.Unmarshal([]byte(landmarks.String), &face.Landmarks); err != nil {
			return face, fmt.Errorf("decode face_landmarks of face %d: %w", face.ID, err)
		}
	}
	return face, nil
}

// GetFace retrieves a face by id.
func (s *Store) GetFace(ctx context.Context, id int64) (*database.Face, error) {
	query, args, err := s.sb.Select(faceColumns...).
		From("faces").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build face query: %w", err)
	}

	face, err := s.scanFaceRow(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("face %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &face, nil
}

// LookupFace finds a face by its natural key, returns nil if not found.
func (s *Store) LookupFace(ctx context.Context, key database.FaceKey) (*database.Face, error) {
	query, args, err := s.sb.Select(faceColumns...).
		From("faces").
		Where(sq.Eq{
			"image_name":        key.ImageName,
			"entity_key":        key.EntityKey,
			"image_search_rank": key.SearchRank,
		}).
		OrderBy("id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build face lookup: %w", err)
	}

	face, err := s.scanFaceRow(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &face, nil
}

// ScanEncodings streams every encoded face in id order.
func (s *Store) ScanEncodings(ctx context.Context, fn database.EncodingScanFunc) error {
	query, args, err := s.sb.Select("id", "face_encoding").
		From("faces").
		Where("face_encoding IS NOT NULL").
		OrderBy("id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build encoding scan: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query encodings: %w", err)
	}
	defer rows.Close()

	enc := s.dialect.Embeddings.NewScanner()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id, enc); err != nil {
			return fmt.Errorf("scan encoding: %w", err)
		}
		v := enc.Embedding()
		if v == nil {
			continue
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate encodings: %w", err)
	}
	return nil
}

// EntitySummaries returns face and encoding counts grouped by entity.
func (s *Store) EntitySummaries(ctx context.Context) ([]database.EntitySummary, error) {
	query, args, err := s.sb.Select("entity_key", "COUNT(*)", "COUNT(face_encoding)").
		From("faces").
		GroupBy("entity_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entity summary: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entity summary: %w", err)
	}
	defer rows.Close()

	var out []database.EntitySummary
	for rows.Next() {
		var sum database.EntitySummary
		if err := rows.Scan(&sum.EntityKey, &sum.Faces, &sum.Encoded); err != nil {
			return nil, fmt.Errorf("scan entity summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity summary: %w", err)
	}
	return out, nil
}

// Stats returns corpus-wide counters.
func (s *Store) Stats(ctx context.Context) (database.FaceStats, error) {
	var stats database.FaceStats

	query, args, err := s.sb.Select(
		"COUNT(*)",
		"COUNT(face_encoding)",
		"COALESCE(SUM(CASE WHEN hard_face THEN 1 ELSE 0 END), 0)",
		"COALESCE(MAX(id), 0)",
	).From("faces").ToSql()
	if err != nil {
		return stats, fmt.Errorf("build face stats: %w", err)
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(
		&stats.Faces, &stats.Encoded, &stats.HardFaces, &stats.MaxFaceID,
	); err != nil {
		return stats, fmt.Errorf("query face stats: %w", err)
	}

	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM entities").Scan(&stats.Entities); err != nil {
		return stats, fmt.Errorf("query entity count: %w", err)
	}
	return stats, nil
}

// ApplyBatch inserts adds and applies updates in a single transaction.
// Any failure rolls the whole batch back.
func (s *Store) ApplyBatch(ctx context.Context, adds []database.Face, updates []database.FaceUpdate) error {
	if len(adds) == 0 && len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", database.ErrBatchWrite, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := s.insertFaces(ctx, tx, adds); err != nil {
		return fmt.Errorf("%w: %w", database.ErrBatchWrite, err)
	}
	if err := s.updateFaces(ctx, tx, updates); err != nil {
		return fmt.Errorf("%w: %w", database.ErrBatchWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", database.ErrBatchWrite, err)
	}
	return nil
}

func (s *Store) insertFaces(ctx context.Context, tx *sql.Tx, faces []database.Face) error {
	if len(faces) == 0 {
		return nil
	}

	query, _, err := s.sb.Insert("faces").
		Columns("image_name", "face_location", "face_landmarks", "face_encoding",
			"image_search_rank", "image_url", "hard_face", "entity_key").
		Values(make([]any, 8)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range faces {
		face := &faces[i]
		location, err := nullJSON(face.Location, face.Location != nil)
		if err != nil {
			return fmt.Errorf("encode face_location: %w", err)
		}
		landmarks, err := nullJSON(face.Landmarks, len(face.Landmarks) > 0)
		if err != nil {
			return fmt.Errorf("encode face_landmarks: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			face.ImageName,
			location,
			landmarks,
			s.dialect.Embeddings.Value(face.Encoding),
			face.SearchRank,
			face.ImageURL,
			face.HardFace,
			face.EntityKey,
		); err != nil {
			return fmt.Errorf("insert face %s/%s/%d: %w", face.EntityKey, face.ImageName, face.SearchRank, err)
		}
	}
	return nil
}

func (s *Store) updateFaces(ctx context.Context, tx *sql.Tx, updates []database.FaceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	// Only unencoded, non-hard faces may transition.
	query, _, err := s.sb.Update("faces").
		Set("face_location", nil).
		Set("face_landmarks", nil).
		Set("face_encoding", nil).
		Set("hard_face", nil).
		Where("id = ? AND face_encoding IS NULL AND hard_face = ?", 0, false).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer stmt.Close()

	for i := range updates {
		upd := &updates[i]
		location, err := nullJSON(upd.Location, upd.Location != nil)
		if err != nil {
			return fmt.Errorf("encode face_location: %w", err)
		}
		landmarks, err := nullJSON(upd.Landmarks, len(upd.Landmarks) > 0)
		if err != nil {
			return fmt.Errorf("encode face_landmarks: %w", err)
		}

		res, err := stmt.ExecContext(ctx,
			location,
			landmarks,
			s.dialect.Embeddings.Value(upd.Encoding),
			upd.HardFace,
			upd.ID,
			false,
		)
		if err != nil {
			return fmt.Errorf("update face %d: %w", upd.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update face %d: face is missing or already terminal", upd.ID)
		}
	}
	return nil
}
