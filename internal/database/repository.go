package database

import (
	"context"
)

// EncodingScanFunc receives one encoded face during a streaming scan.
// The encoding slice must not be retained after the call returns.
type EncodingScanFunc func(id int64, encoding []float32) error

// EncodingScanner streams every encoded face without materializing the table.
type EncodingScanner interface {
	// ScanEncodings calls fn for each face holding an encoding, in id order.
	// A non-nil error from fn stops the scan and is returned.
	ScanEncodings(ctx context.Context, fn EncodingScanFunc) error
}

// FaceReader provides read-only access to face samples
type FaceReader interface {
	EncodingScanner

	// GetFace retrieves a face by id, returns ErrNotFound if missing
	GetFace(ctx context.Context, id int64) (*Face, error)
	// LookupFace finds a face by its natural key, returns nil if not found
	LookupFace(ctx context.Context, key FaceKey) (*Face, error)
	// EntitySummaries returns face and encoding counts grouped by entity
	EntitySummaries(ctx context.Context) ([]EntitySummary, error)
	// Stats returns corpus-wide counters
	Stats(ctx context.Context) (FaceStats, error)
}

// FaceWriter provides write access to face samples
type FaceWriter interface {
	// ApplyBatch inserts adds and applies updates in one transaction.
	// On failure nothing is written and the error wraps ErrBatchWrite.
	ApplyBatch(ctx context.Context, adds []Face, updates []FaceUpdate) error
}

// EntityReader resolves entities
type EntityReader interface {
	// GetEntity retrieves an entity by key, returns ErrNotFound if missing
	GetEntity(ctx context.Context, key string) (*Entity, error)
	// EntityForFace resolves the entity owning a face, returns ErrNotFound if either is missing
	EntityForFace(ctx context.Context, faceID int64) (*Entity, error)
}

// EntityWriter stores entities
type EntityWriter interface {
	// SaveEntities inserts entities, ignoring keys that already exist.
	// Returns the number of rows actually inserted.
	SaveEntities(ctx context.Context, entities []Entity) (int, error)
}

// IngestRunWriter records loader pass audits
type IngestRunWriter interface {
	SaveIngestRun(ctx context.Context, run *IngestRun) error
	// RecentIngestRuns returns the latest runs, newest first
	RecentIngestRuns(ctx context.Context, limit int) ([]IngestRun, error)
}

// Store is the full embedding store used by the CLI and the server.
type Store interface {
	FaceReader
	FaceWriter
	EntityReader
	EntityWriter
	IngestRunWriter
	Close() error
}
