package loader

import (
	"errors"
	"fmt"
)

// ErrParse marks a malformed feed row.
var ErrParse = errors.New("parse failure")

// ParseError locates a malformed value in the feed.
type ParseError struct {
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d, column %s: %v", e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }
