package database

import "errors"

var (
	// ErrConnection is returned when the store cannot be reached.
	ErrConnection = errors.New("store unreachable")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch is returned when a query vector and the corpus disagree on size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrLookupFailure is returned when a face cannot be resolved to its entity.
	ErrLookupFailure = errors.New("entity lookup failed")

	// ErrBatchWrite is returned when a batched write transaction fails and is rolled back.
	ErrBatchWrite = errors.New("batch write failed")

	// ErrIndexMismatch is returned when index vectors and ids are not co-indexed.
	ErrIndexMismatch = errors.New("vectors and ids length mismatch")
)
