package core

import (
	"github.com/oceanbase/powermem-recall/pkg/history"
	"github.com/oceanbase/powermem-recall/pkg/record"
	"github.com/oceanbase/powermem-recall/pkg/search"
	"github.com/oceanbase/powermem-recall/pkg/storage"
)

// Aliases for the types returned by Client, so callers rarely need to import
// the component packages.
type (
	// Record is one stored memory record.
	Record = record.Record

	// SearchResult is one ranked search hit.
	SearchResult = search.Result

	// HistoryEntry is one prompt/response pair in the chat history.
	HistoryEntry = history.Entry

	// Edge is a typed, weighted relationship between two nodes.
	Edge = storage.Edge

	// Relation is one adjacency returned by GetRelated.
	Relation = storage.Relation

	// Neighbor is a node reached by Neighbors.
	Neighbor = storage.Neighbor

	// NodeAttribute is a scalar fact about a node.
	NodeAttribute = storage.NodeAttribute

	// Hierarchy is a parent/child link.
	Hierarchy = storage.Hierarchy
)

// DefaultConfidence is the confidence AddEdge and NewEdge use when none is given.
const DefaultConfidence = storage.DefaultConfidence

// NewEdge returns an edge for the triple with DefaultConfidence, ready for
// Client.UpsertEdge.
func NewEdge(source, target, relType string, strength float64) *Edge {
	return storage.NewEdge(source, target, relType, strength)
}

// IngestResult describes a document split into chunk records.
type IngestResult struct {
	// DocumentID is the identifier assigned to the document.
	DocumentID string `json:"document_id"`

	// ChunkIDs are the chunk identifiers, in document order.
	ChunkIDs []string `json:"chunk_ids"`

	// RecordIDs are the record identifiers, parallel to ChunkIDs.
	RecordIDs []string `json:"record_ids"`
}

// ExtractionSummary counts the rows written by ApplyExtraction.
type ExtractionSummary struct {
	Edges       int `json:"edges"`
	Attributes  int `json:"attributes"`
	Hierarchies int `json:"hierarchies"`
}
