package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/metrics"
)

// Match is a candidate resolved to its entity.
type Match struct {
	Rank       int     `json:"rank"`
	FaceID     int64   `json:"face_id"`
	EntityKey  string  `json:"entity_key"`
	EntityName string  `json:"entity_name"`
	Distance   float64 `json:"distance"`
}

// EntityLookup resolves the entity owning a face.
type EntityLookup interface {
	EntityForFace(ctx context.Context, faceID int64) (*database.Entity, error)
}

// Enricher resolves candidates to entities. A face's entity never changes
// once stored, so resolved entities may be cached by face id.
type Enricher struct {
	lookup  EntityLookup
	cache   *lru.Cache[int64, database.Entity]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher) error

// WithCache keeps up to size resolved entities. Zero or less disables caching.
func WithCache(size int) EnricherOption {
	return func(e *Enricher) error {
		if size <= 0 {
			e.cache = nil
			return nil
		}
		c, err := lru.New[int64, database.Entity](size)
		if err != nil {
			return fmt.Errorf("create entity cache: %w", err)
		}
		e.cache = c
		return nil
	}
}

// WithEnricherLogger sets the logger.
func WithEnricherLogger(l *slog.Logger) EnricherOption {
	return func(e *Enricher) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithEnricherMetrics enables instrumentation.
func WithEnricherMetrics(m *metrics.Metrics) EnricherOption {
	return func(e *Enricher) error {
		e.metrics = m
		return nil
	}
}

// NewEnricher creates an enricher backed by lookup.
func NewEnricher(lookup EntityLookup, opts ...EnricherOption) (*Enricher, error) {
	e := &Enricher{lookup: lookup, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Enrich resolves every candidate in order. Rank is the 1-based position in
// candidates. A candidate whose lookup fails is left out and reported as a
// *LookupError in the joined error; the remaining matches are still returned.
func (e *Enricher) Enrich(ctx context.Context, candidates []Candidate) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	var errs []error

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return matches, err
		}

		rank := i + 1
		entity, err := e.resolve(ctx, c.FaceID)
		if err != nil {
			e.metrics.RecordLookupFailure()
			e.logger.Warn("entity lookup failed", "face_id", c.FaceID, "rank", rank, "error", err)
			errs = append(errs, &LookupError{Rank: rank, FaceID: c.FaceID, Err: err})
			continue
		}

		matches = append(matches, Match{
			Rank:       rank,
			FaceID:     c.FaceID,
			EntityKey:  entity.Key,
			EntityName: entity.Name,
			Distance:   c.Distance,
		})
	}

	return matches, errors.Join(errs...)
}

func (e *Enricher) resolve(ctx context.Context, faceID int64) (database.Entity, error) {
	if e.cache != nil {
		if ent, ok := e.cache.Get(faceID); ok {
			e.metrics.RecordLookupCache(true)
			return ent, nil
		}
		e.metrics.RecordLookupCache(false)
	}

	ent, err := e.lookup.EntityForFace(ctx, faceID)
	if err != nil {
		return database.Entity{}, err
	}
	if ent == nil {
		return database.Entity{}, fmt.Errorf("entity of face %d: %w", faceID, database.ErrNotFound)
	}
	if e.cache != nil {
		e.cache.Add(faceID, *ent)
	}
	return *ent, nil
}

// Purge drops all cached entities.
func (e *Enricher) Purge() {
	if e.cache != nil {
		e.cache.Purge()
	}
}

// LookupErrors extracts the per-candidate failures from an Enrich error.
func LookupErrors(err error) []*LookupError {
	if err == nil {
		return nil
	}
	if le, ok := err.(*LookupError); ok {
		return []*LookupError{le}
	}
	var out []*LookupError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if le, ok := e.(*LookupError); ok {
				out = append(out, le)
			}
		}
	}
	return out
}
