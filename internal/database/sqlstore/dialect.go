package sqlstore

import (
	"database/sql"
	"fmt"
	"io/fs"

	sq "github.com/Masterminds/squirrel"
	"github.com/kozaktomas/clone-finder/internal/database"
)

// EmbeddingScanner is a scan destination for a nullable embedding column.
type EmbeddingScanner interface {
	sql.Scanner
	// Embedding returns the scanned value, nil for NULL. The slice may be
	// reused by the next Scan call.
	Embedding() []float32
}

// EmbeddingCodec converts embeddings to and from the column representation.
type EmbeddingCodec interface {
	// Value returns the driver value for enc, nil for a missing encoding.
	Value(enc []float32) any
	// NewScanner returns a fresh scan destination.
	NewScanner() EmbeddingScanner
}

// Dialect captures the differences between the supported SQL backends.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	// Migrations holds the *.sql files applied in lexical order.
	Migrations fs.FS
	Embeddings EmbeddingCodec
	// InsertIgnore turns an insert into an insert that skips existing keys.
	InsertIgnore func(b sq.InsertBuilder) sq.InsertBuilder
}

// Builder returns a statement builder using the dialect placeholders.
func (d Dialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// BlobCodec stores embeddings as little-endian float32 blobs.
type BlobCodec struct{}

// Value implements EmbeddingCodec.
func (BlobCodec) Value(enc []float32) any {
	if enc == nil {
		return nil
	}
	return database.EncodeEmbedding(enc)
}

// NewScanner implements EmbeddingCodec.
func (BlobCodec) NewScanner() EmbeddingScanner {
	return &blobScanner{}
}

type blobScanner struct {
	buf   []float32
	valid bool
}

func (s *blobScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.valid = false
		return nil
	case []byte:
		if len(v)%4 != 0 {
			return fmt.Errorf("embedding blob length %d is not a multiple of 4", len(v))
		}
		s.buf = database.DecodeEmbeddingInto(s.buf, v)
		s.valid = true
		return nil
	default:
		return fmt.Errorf("unsupported embedding column type %T", src)
	}
}

func (s *blobScanner) Embedding() []float32 {
	if !s.valid {
		return nil
	}
	return s.buf
}
