// Package errs holds the sentinel errors shared by every storage and retrieval
// component.
//
// It is a leaf package so that storage backends, the record store and the
// embedding cache can wrap these values without importing the core package.
// Callers match them with errors.Is.
package errs

import "errors"

var (
	// ErrStorage indicates that a durable store is unreachable, corrupt or
	// rejected a write. It is fatal for the current operation only.
	ErrStorage = errors.New("storage operation failed")

	// ErrNotFound indicates that a lookup by identifier found nothing.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingService indicates that the external embedding service failed
	// or timed out after all retries.
	ErrEmbeddingService = errors.New("embedding service failed")

	// ErrMalformedRecord indicates that a stored record could not be parsed.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrMalformedExtraction indicates that structured model output did not
	// match the expected schema.
	ErrMalformedExtraction = errors.New("malformed extraction")

	// ErrInvalidInput indicates that the caller supplied an invalid argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
)
