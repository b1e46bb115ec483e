// Package storage provides interfaces and types for knowledge graph storage backends.
//
// It defines the GraphStore interface that all backend implementations must satisfy,
// along with the edge, attribute and hierarchy row types. Nodes are implicit: they
// exist only as opaque string identifiers referenced by rows.
package storage

import (
	"context"
	"time"
)

// Edge is a directed, typed, weighted relationship between two node identifiers.
//
// The triple (SourceID, TargetID, RelationshipType) is unique. Upserting the same
// triple again replaces every other field; prior values are not kept.
type Edge struct {
	// ID is the backend-assigned row identifier.
	ID int64 `json:"id"`

	// SourceID is the node the edge starts from.
	SourceID string `json:"source_id"`

	// TargetID is the node the edge points to.
	TargetID string `json:"target_id"`

	// RelationshipType names the relationship (e.g. "likes", "causes").
	RelationshipType string `json:"relationship_type"`

	// Strength is the edge weight, typically in [0,1] but not enforced.
	Strength float64 `json:"strength"`

	// Confidence is how certain the relationship is, in [0,1].
	Confidence float64 `json:"confidence"`

	// Bidirectional allows traversal from TargetID back to SourceID.
	Bidirectional bool `json:"bidirectional"`

	// StartTime is when the relationship becomes valid (nil = always).
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is when the relationship stops being valid (nil = forever).
	EndTime *time.Time `json:"end_time,omitempty"`

	// Metadata is an open JSON object attached to the edge.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the triple was first observed.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the row was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultConfidence is the confidence given to edges whose caller does not
// state one.
const DefaultConfidence = 1.0

// NewEdge returns an edge for the triple with the given strength and
// DefaultConfidence. Other fields keep their zero values.
func NewEdge(source, target, relType string, strength float64) *Edge {
	return &Edge{
		SourceID:         source,
		TargetID:         target,
		RelationshipType: relType,
		Strength:         strength,
		Confidence:       DefaultConfidence,
	}
}

// Relation is one adjacency returned by GetRelated.
type Relation struct {
	// OtherID is the node on the far side of the edge.
	OtherID string `json:"other_id"`

	// RelationshipType is the type of the edge that was followed.
	RelationshipType string `json:"relationship_type"`

	// Strength is the edge weight.
	Strength float64 `json:"strength"`

	// Confidence is the edge confidence.
	Confidence float64 `json:"confidence"`
}

// Neighbor is a node reached during a breadth-first traversal.
type Neighbor struct {
	// NodeID is the reached node.
	NodeID string `json:"node_id"`

	// Depth is the number of hops from the start node (>= 1).
	Depth int `json:"depth"`

	// Via is the relation that first reached the node.
	Via Relation `json:"via"`
}

// NodeAttribute is a scalar fact about a node, unique on (NodeID, Name).
type NodeAttribute struct {
	NodeID     string    `json:"node_id"`
	Name       string    `json:"attribute_name"`
	Value      string    `json:"attribute_value"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Hierarchy is a parent/child containment link, unique on (ParentID, ChildID, Type).
type Hierarchy struct {
	ParentID   string    `json:"parent_id"`
	ChildID    string    `json:"child_id"`
	Type       string    `json:"hierarchy_type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EdgeSearchOptions selects edges by validity window and confidence.
type EdgeSearchOptions struct {
	// Start is the beginning of the query window (nil = unbounded).
	Start *time.Time

	// End is the end of the query window (nil = unbounded).
	End *time.Time

	// MinConfidence excludes edges whose confidence is below it.
	MinConfidence float64
}

// GraphStore defines the interface for knowledge graph storage backends.
//
// All backends (SQLite, PostgreSQL, OceanBase) must implement this interface.
// Every mutating call persists immediately and stamps updated_at on the row.
// Implementations are safe for concurrent readers; writers are serialised by
// the caller.
type GraphStore interface {
	// UpsertEdge inserts the edge or replaces the row with the same triple.
	UpsertEdge(ctx context.Context, edge *Edge) error

	// GetEdge returns the edge for the triple, or an error wrapping errs.ErrNotFound.
	GetEdge(ctx context.Context, sourceID, targetID, relType string) (*Edge, error)

	// GetRelated returns outgoing edges of node plus incoming bidirectional edges.
	// An empty relType matches every type.
	GetRelated(ctx context.Context, node, relType string) ([]*Relation, error)

	// UpdateStrength overwrites the strength of an existing edge.
	// It reports whether a row was updated; a missing edge is not an error.
	UpdateStrength(ctx context.Context, sourceID, targetID, relType string, strength float64) (bool, error)

	// SearchEdges returns edges overlapping the window with enough confidence.
	SearchEdges(ctx context.Context, opts *EdgeSearchOptions) ([]*Edge, error)

	// Neighbors walks GetRelated breadth-first up to maxDepth hops.
	Neighbors(ctx context.Context, node string, maxDepth int, relType string) ([]*Neighbor, error)

	// UpsertAttribute inserts or replaces the attribute for (node, name).
	UpsertAttribute(ctx context.Context, attr *NodeAttribute) error

	// GetAttributes returns every attribute of the node ordered by name.
	GetAttributes(ctx context.Context, node string) ([]*NodeAttribute, error)

	// UpsertHierarchy inserts or replaces the link for (parent, child, type).
	UpsertHierarchy(ctx context.Context, link *Hierarchy) error

	// GetChildren returns links whose parent is the node. Empty hierarchyType matches all.
	GetChildren(ctx context.Context, parent, hierarchyType string) ([]*Hierarchy, error)

	// GetParents returns links whose child is the node. Empty hierarchyType matches all.
	GetParents(ctx context.Context, child, hierarchyType string) ([]*Hierarchy, error)

	// GetAncestors returns every transitive parent of the node, nearest first.
	GetAncestors(ctx context.Context, node, hierarchyType string) ([]string, error)

	// GetDescendants returns every transitive child of the node, nearest first.
	GetDescendants(ctx context.Context, node, hierarchyType string) ([]string, error)

	// Close closes the store and releases resources.
	Close() error
}
