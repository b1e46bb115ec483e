// Package core provides the recall client that ties the knowledge graph,
// the memory record store, the embedding cache, similarity search and the
// chat history together behind one façade.
package core

import (
	"fmt"

	"github.com/oceanbase/powermem-recall/pkg/errs"
)

// Error taxonomy. The values are shared with the lower-level packages so
// errors.Is matches regardless of which layer produced the error.
var (
	// ErrStorage indicates that a durable store is unreachable, corrupt or
	// rejected a write.
	ErrStorage = errs.ErrStorage

	// ErrNotFound indicates that a lookup by identifier found nothing.
	ErrNotFound = errs.ErrNotFound

	// ErrEmbeddingService indicates that the embedding service failed or
	// timed out after all retries.
	ErrEmbeddingService = errs.ErrEmbeddingService

	// ErrMalformedRecord indicates that a stored record could not be parsed.
	ErrMalformedRecord = errs.ErrMalformedRecord

	// ErrMalformedExtraction indicates that extraction output did not match
	// the expected schema.
	ErrMalformedExtraction = errs.ErrMalformedExtraction

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errs.ErrInvalidInput

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errs.ErrInvalidConfig
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Search",
//	    Err: ErrEmbeddingService,
//	}
//	// Error() returns: "recall: Search: embedding service failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "recall: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	return NewMemoryError("UpsertEdge", c.graph.UpsertEdge(ctx, edge))
//
// Parameters:
//   - op: Name of the operation (e.g., "RecordExchange", "Search")
//   - err: The underlying error to wrap
//
// Returns a MemoryError, or nil if err is nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}
