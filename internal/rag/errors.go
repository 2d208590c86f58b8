package rag

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the indexing and query pipelines.
// Check with errors.Is().
var (
	// ErrInvalidConfig indicates chunking or pipeline parameters are out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUpstreamTimeout indicates an external service call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// PartialIndexError reports an indexing run that failed after some records
// may have been written. Record IDs are content-derived, so re-running the
// same indexing operation is always safe.
type PartialIndexError struct {
	// Source identifies the document whose indexing failed.
	Source string

	// Confirmed lists record IDs known to be persisted before the failure.
	// Empty when the backend applies writes transactionally.
	Confirmed []string

	// Err is the underlying failure.
	Err error
}

func (e *PartialIndexError) Error() string {
	return fmt.Sprintf("indexing %q partially applied (%d records confirmed): %v",
		e.Source, len(e.Confirmed), e.Err)
}

func (e *PartialIndexError) Unwrap() error {
	return e.Err
}
