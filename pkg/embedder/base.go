// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface implemented by the OpenAI and Qwen clients
// and the RetryProvider decorator that adds exponential backoff and a
// per-attempt timeout around any provider.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, Qwen, etc.) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// The returned slice has one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// StatusError is returned by providers when the embedding service answers
// with a non-success HTTP status.
type StatusError struct {
	// Provider names the service that failed.
	Provider string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error body or message returned by the service.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: request failed with status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
// Rate limiting and server-side failures are temporary; other client errors
// (bad key, bad model, bad input) are not.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}
