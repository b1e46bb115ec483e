// Package search ranks memory records by cosine similarity to a query.
//
// Searcher is the contract callers depend on; LinearSearcher is the exact,
// brute-force implementation that scans every record on each query. An
// indexed implementation can replace it without changing callers.
package search

import (
	"context"
	"time"

	"github.com/oceanbase/powermem-recall/pkg/record"
)

// DefaultTopK is used when Options.TopK is not positive.
const DefaultTopK = 5

// Options controls a search.
type Options struct {
	// TopK is the maximum number of results.
	TopK int

	// Threshold is the minimum similarity a result must reach.
	Threshold float64
}

// Result is one ranked record.
type Result struct {
	// ID is the record identifier.
	ID string `json:"id"`

	// Type is the record type.
	Type record.Type `json:"type"`

	// Content is the record text as shown to the agent.
	Content string `json:"content"`

	// Similarity is the cosine similarity to the query.
	Similarity float64 `json:"similarity"`

	// Timestamp is when the record was appended.
	Timestamp time.Time `json:"timestamp"`

	// Record is the full record.
	Record *record.Record `json:"-"`
}

// Searcher finds the records most similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, opts *Options) ([]*Result, error)
}
