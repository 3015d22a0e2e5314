package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is wrapped by ColumnError.
	ErrMissingColumn = errors.New("missing column")
	// ErrEmptyJoin means no indicator row matched any boundary row.
	ErrEmptyJoin = errors.New("join produced no rows")
)

// ColumnError reports an expected column (or feature property) that a source
// does not provide.
type ColumnError struct {
	Source string
	Column string
	Tried  []string
}

func (e *ColumnError) Error() string {
	if len(e.Tried) > 1 {
		return fmt.Sprintf("%s: %s column not found (tried %v)", e.Source, e.Column, e.Tried)
	}
	return fmt.Sprintf("%s: %s column not found", e.Source, e.Column)
}

func (e *ColumnError) Unwrap() error { return ErrMissingColumn }
