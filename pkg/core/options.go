package core

import "time"

// SearchOption is a function type for configuring Search operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// TopK is the maximum number of results. Zero uses Memory.DefaultTopK.
	TopK int

	// Threshold is the minimum similarity a result must reach.
	// Nil uses Memory.SimilarityThreshold.
	Threshold *float64
}

// WithTopK sets the maximum number of search results.
//
// Example:
//
//	results, _ := client.Search(ctx, "python", core.WithTopK(3))
func WithTopK(k int) SearchOption {
	return func(opts *SearchOptions) {
		opts.TopK = k
	}
}

// WithThreshold sets the minimum similarity for search results.
//
// Example:
//
//	results, _ := client.Search(ctx, "python", core.WithThreshold(0.7))
func WithThreshold(threshold float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.Threshold = &threshold
	}
}

// GraphOption is a function type for configuring graph writes
// (AddEdge, SetAttribute and AddHierarchy).
type GraphOption func(*GraphOptions)

// GraphOptions contains configuration options for graph writes.
// Fields that do not apply to a row kind are ignored.
type GraphOptions struct {
	// Confidence defaults to 1.0.
	Confidence float64

	// Bidirectional makes an edge traversable from its target.
	Bidirectional bool

	// StartTime and EndTime bound the validity window of an edge.
	StartTime *time.Time
	EndTime   *time.Time

	// Metadata is attached to an edge.
	Metadata map[string]interface{}
}

// WithConfidence sets the confidence of the written row.
func WithConfidence(confidence float64) GraphOption {
	return func(opts *GraphOptions) {
		opts.Confidence = confidence
	}
}

// WithBidirectional marks an edge as traversable in both directions.
func WithBidirectional() GraphOption {
	return func(opts *GraphOptions) {
		opts.Bidirectional = true
	}
}

// WithValidity sets the validity window of an edge. Either bound may be nil.
//
// Example:
//
//	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
//	_ = client.AddEdge(ctx, "alice", "acme", "works_at", 0.9, core.WithValidity(&start, nil))
func WithValidity(start, end *time.Time) GraphOption {
	return func(opts *GraphOptions) {
		opts.StartTime = start
		opts.EndTime = end
	}
}

// WithEdgeMetadata attaches metadata to an edge.
func WithEdgeMetadata(metadata map[string]interface{}) GraphOption {
	return func(opts *GraphOptions) {
		opts.Metadata = metadata
	}
}

// EdgeSearchOption is a function type for configuring SearchEdges.
type EdgeSearchOption func(*EdgeSearchOptions)

// EdgeSearchOptions contains configuration options for SearchEdges.
type EdgeSearchOptions struct {
	Start         *time.Time
	End           *time.Time
	MinConfidence float64
}

// WithWindow restricts SearchEdges to edges valid at some point in [start, end].
func WithWindow(start, end *time.Time) EdgeSearchOption {
	return func(opts *EdgeSearchOptions) {
		opts.Start = start
		opts.End = end
	}
}

// WithMinConfidence drops edges whose confidence is below min.
func WithMinConfidence(min float64) EdgeSearchOption {
	return func(opts *EdgeSearchOptions) {
		opts.MinConfidence = min
	}
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	searchOpts := &SearchOptions{}
	for _, opt := range opts {
		opt(searchOpts)
	}
	return searchOpts
}

func applyGraphOptions(opts []GraphOption) *GraphOptions {
	graphOpts := &GraphOptions{Confidence: DefaultConfidence}
	for _, opt := range opts {
		opt(graphOpts)
	}
	return graphOpts
}

func applyEdgeSearchOptions(opts []EdgeSearchOption) *EdgeSearchOptions {
	searchOpts := &EdgeSearchOptions{}
	for _, opt := range opts {
		opt(searchOpts)
	}
	return searchOpts
}
