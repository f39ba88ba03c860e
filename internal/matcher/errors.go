package matcher

import (
	"fmt"

	"github.com/kozaktomas/clone-finder/internal/database"
)

// DimensionMismatchError reports a query whose size differs from the corpus.
type DimensionMismatchError struct {
	Query  int
	Corpus int
	FaceID int64 // first offending face for on-disk scans, 0 otherwise
}

func (e *DimensionMismatchError) Error() string {
	if e.FaceID != 0 {
		return fmt.Sprintf("query has %d dims, face %d has %d", e.Query, e.FaceID, e.Corpus)
	}
	return fmt.Sprintf("query has %d dims, corpus has %d", e.Query, e.Corpus)
}

func (e *DimensionMismatchError) Unwrap() error { return database.ErrDimensionMismatch }

// LookupError reports a candidate whose entity could not be resolved.
type LookupError struct {
	Rank   int
	FaceID int64
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolve entity of face %d (rank %d): %v", e.FaceID, e.Rank, e.Err)
}

// Unwrap exposes both the lookup sentinel and the underlying cause.
func (e *LookupError) Unwrap() []error {
	return []error{database.ErrLookupFailure, e.Err}
}
