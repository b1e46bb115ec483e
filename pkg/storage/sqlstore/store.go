// Package sqlstore implements storage.GraphStore on top of database/sql.
//
// The same queries serve SQLite, PostgreSQL and OceanBase; the backend packages
// open the connection and hand in a Dialect describing their SQL flavour.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/charmbracelet/log"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/storage"
)

// DefaultSchemaVersion is recorded in schema_meta when no version tag is configured.
const DefaultSchemaVersion = "1"

const edgeColumns = `id, source_id, target_id, relationship_type, strength, confidence,
	bidirectional, start_time, end_time, metadata, created_at, updated_at`

// Store implements storage.GraphStore over a *sql.DB.
type Store struct {
	// db is the database connection pool.
	db *sql.DB

	// dialect describes the backend's SQL flavour.
	dialect *Dialect

	// ids generates edge row identifiers.
	ids *snowflake.Node

	// logger receives schema and query diagnostics.
	logger *log.Logger

	// now returns the current time; replaced in tests.
	now func() time.Time
}

// Config contains options for New.
type Config struct {
	// SchemaVersion is the version tag stored in schema_meta.
	SchemaVersion string

	// NodeID is the snowflake node number used for edge ids (0-1023).
	NodeID int64

	// Logger receives diagnostics. Nil uses the default logger.
	Logger *log.Logger

	// Now overrides the clock used for created_at/updated_at.
	Now func() time.Time
}

// New wraps an open database, creates the schema and returns the store.
//
// The database is pinged first so an unreachable backend surfaces here as
// errs.ErrStorage rather than on the first write.
func New(ctx context.Context, db *sql.DB, dialect *Dialect, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, storageErr("New", err)
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("New: %w: %w", errs.ErrInvalidConfig, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		ids:     node,
		logger:  logger.WithPrefix("graph"),
		now:     now,
	}

	version := cfg.SchemaVersion
	if version == "" {
		version = DefaultSchemaVersion
	}
	if err := s.initSchema(ctx, version); err != nil {
		return nil, err
	}

	return s, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertEdge inserts the edge or replaces the existing row for its triple.
//
// Strength, confidence, direction, validity window and metadata are all
// overwritten; created_at and id of an existing row are kept.
func (s *Store) UpsertEdge(ctx context.Context, edge *storage.Edge) error {
	if err := validateEdge(edge); err != nil {
		return fmt.Errorf("UpsertEdge: %w", err)
	}

	metadata, err := marshalMetadata(edge.Metadata)
	if err != nil {
		return fmt.Errorf("UpsertEdge: %w: %w", errs.ErrInvalidInput, err)
	}

	now := s.now().UTC()
	query := `INSERT INTO edges (` + edgeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause(
			[]string{"source_id", "target_id", "relationship_type"},
			[]string{"strength", "confidence", "bidirectional", "start_time", "end_time", "metadata", "updated_at"},
		)

	_, err = s.db.ExecContext(ctx, s.dialect.Bind(query),
		s.ids.Generate().Int64(),
		edge.SourceID,
		edge.TargetID,
		edge.RelationshipType,
		edge.Strength,
		edge.Confidence,
		edge.Bidirectional,
		nullTime(edge.StartTime),
		nullTime(edge.EndTime),
		metadata,
		now,
		now,
	)
	if err != nil {
		return storageErr("UpsertEdge", err)
	}

	return nil
}

// GetEdge returns the edge stored for the triple.
func (s *Store) GetEdge(ctx context.Context, sourceID, targetID, relType string) (*storage.Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges
		WHERE source_id = ? AND target_id = ? AND relationship_type = ?`

	row := s.db.QueryRowContext(ctx, s.dialect.Bind(query), sourceID, targetID, relType)
	edge, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetEdge: edge %s -[%s]-> %s: %w", sourceID, relType, targetID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("GetEdge", err)
	}

	return edge, nil
}

// GetRelated returns the edges leaving node, together with the bidirectional
// edges arriving at node. When relType is set both halves are filtered by it.
func (s *Store) GetRelated(ctx context.Context, node, relType string) ([]*storage.Relation, error) {
	outgoing := `SELECT target_id AS other_id, relationship_type, strength, confidence
		FROM edges WHERE source_id = ?`
	incoming := `SELECT source_id AS other_id, relationship_type, strength, confidence
		FROM edges WHERE target_id = ? AND bidirectional = ?`
	args := []interface{}{node}

	if relType != "" {
		outgoing += " AND relationship_type = ?"
		args = append(args, relType)
	}
	args = append(args, node, true)
	if relType != "" {
		incoming += " AND relationship_type = ?"
		args = append(args, relType)
	}

	query := outgoing + " UNION " + incoming + " ORDER BY other_id, relationship_type"

	rows, err := s.db.QueryContext(ctx, s.dialect.Bind(query), args...)
	if err != nil {
		return nil, storageErr("GetRelated", err)
	}
	defer func() { _ = rows.Close() }()

	var relations []*storage.Relation
	for rows.Next() {
		var rel storage.Relation
		if err := rows.Scan(&rel.OtherID, &rel.RelationshipType, &rel.Strength, &rel.Confidence); err != nil {
			return nil, storageErr("GetRelated", err)
		}
		relations = append(relations, &rel)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("GetRelated", err)
	}

	return relations, nil
}

// UpdateStrength overwrites the strength of an existing edge and stamps
// updated_at. It returns false without error when the edge does not exist.
// The driver must count matched rows, not changed rows.
func (s *Store) UpdateStrength(ctx context.Context, sourceID, targetID, relType string, strength float64) (bool, error) {
	if math.IsNaN(strength) || math.IsInf(strength, 0) {
		return false, fmt.Errorf("UpdateStrength: %w: strength must be finite", errs.ErrInvalidInput)
	}

	query := `UPDATE edges SET strength = ?, updated_at = ?
		WHERE source_id = ? AND target_id = ? AND relationship_type = ?`

	result, err := s.db.ExecContext(ctx, s.dialect.Bind(query),
		strength, s.now().UTC(), sourceID, targetID, relType)
	if err != nil {
		return false, storageErr("UpdateStrength", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("UpdateStrength", err)
	}

	return affected > 0, nil
}

// SearchEdges returns edges whose confidence is at least opts.MinConfidence
// and whose validity window overlaps [opts.Start, opts.End]. A NULL bound on
// either side of the edge or the query is open.
func (s *Store) SearchEdges(ctx context.Context, opts *storage.EdgeSearchOptions) ([]*storage.Edge, error) {
	if opts == nil {
		opts = &storage.EdgeSearchOptions{}
	}

	conditions := []string{"confidence >= ?"}
	args := []interface{}{opts.MinConfidence}

	if opts.Start != nil {
		conditions = append(conditions, "(end_time IS NULL OR end_time >= ?)")
		args = append(args, opts.Start.UTC())
	}
	if opts.End != nil {
		conditions = append(conditions, "(start_time IS NULL OR start_time <= ?)")
		args = append(args, opts.End.UTC())
	}

	query := `SELECT ` + edgeColumns + ` FROM edges WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, s.dialect.Bind(query), args...)
	if err != nil {
		return nil, storageErr("SearchEdges", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*storage.Edge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, storageErr("SearchEdges", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("SearchEdges", err)
	}

	return edges, nil
}

// UpsertAttribute inserts or replaces the attribute for (node, name).
func (s *Store) UpsertAttribute(ctx context.Context, attr *storage.NodeAttribute) error {
	if attr == nil || attr.NodeID == "" || attr.Name == "" {
		return fmt.Errorf("UpsertAttribute: %w: node id and attribute name are required", errs.ErrInvalidInput)
	}
	if err := validateConfidence(attr.Confidence); err != nil {
		return fmt.Errorf("UpsertAttribute: %w", err)
	}

	now := s.now().UTC()
	query := `INSERT INTO node_attributes
		(node_id, attribute_name, attribute_value, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause(
			[]string{"node_id", "attribute_name"},
			[]string{"attribute_value", "confidence", "updated_at"},
		)

	_, err := s.db.ExecContext(ctx, s.dialect.Bind(query),
		attr.NodeID, attr.Name, attr.Value, attr.Confidence, now, now)
	if err != nil {
		return storageErr("UpsertAttribute", err)
	}

	return nil
}

// GetAttributes returns every attribute of the node ordered by name.
func (s *Store) GetAttributes(ctx context.Context, node string) ([]*storage.NodeAttribute, error) {
	query := `SELECT node_id, attribute_name, attribute_value, confidence, created_at, updated_at
		FROM node_attributes WHERE node_id = ? ORDER BY attribute_name`

	rows, err := s.db.QueryContext(ctx, s.dialect.Bind(query), node)
	if err != nil {
		return nil, storageErr("GetAttributes", err)
	}
	defer func() { _ = rows.Close() }()

	var attrs []*storage.NodeAttribute
	for rows.Next() {
		var attr storage.NodeAttribute
		var value sql.NullString
		if err := rows.Scan(&attr.NodeID, &attr.Name, &value, &attr.Confidence, &attr.CreatedAt, &attr.UpdatedAt); err != nil {
			return nil, storageErr("GetAttributes", err)
		}
		attr.Value = value.String
		attrs = append(attrs, &attr)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("GetAttributes", err)
	}

	return attrs, nil
}

// UpsertHierarchy inserts or replaces the link for (parent, child, type).
func (s *Store) UpsertHierarchy(ctx context.Context, link *storage.Hierarchy) error {
	if link == nil || link.ParentID == "" || link.ChildID == "" || link.Type == "" {
		return fmt.Errorf("UpsertHierarchy: %w: parent, child and hierarchy type are required", errs.ErrInvalidInput)
	}
	if err := validateConfidence(link.Confidence); err != nil {
		return fmt.Errorf("UpsertHierarchy: %w", err)
	}

	now := s.now().UTC()
	query := `INSERT INTO hierarchies
		(parent_id, child_id, hierarchy_type, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause(
			[]string{"parent_id", "child_id", "hierarchy_type"},
			[]string{"confidence", "updated_at"},
		)

	_, err := s.db.ExecContext(ctx, s.dialect.Bind(query),
		link.ParentID, link.ChildID, link.Type, link.Confidence, now, now)
	if err != nil {
		return storageErr("UpsertHierarchy", err)
	}

	return nil
}

// GetChildren returns the links whose parent is the given node.
func (s *Store) GetChildren(ctx context.Context, parent, hierarchyType string) ([]*storage.Hierarchy, error) {
	return s.queryHierarchies(ctx, "GetChildren", "parent_id", parent, hierarchyType, "child_id")
}

// GetParents returns the links whose child is the given node.
func (s *Store) GetParents(ctx context.Context, child, hierarchyType string) ([]*storage.Hierarchy, error) {
	return s.queryHierarchies(ctx, "GetParents", "child_id", child, hierarchyType, "parent_id")
}

func (s *Store) queryHierarchies(ctx context.Context, op, keyColumn, node, hierarchyType, orderColumn string) ([]*storage.Hierarchy, error) {
	query := `SELECT parent_id, child_id, hierarchy_type, confidence, created_at, updated_at
		FROM hierarchies WHERE ` + keyColumn + ` = ?`
	args := []interface{}{node}
	if hierarchyType != "" {
		query += " AND hierarchy_type = ?"
		args = append(args, hierarchyType)
	}
	query += " ORDER BY " + orderColumn + ", hierarchy_type"

	rows, err := s.db.QueryContext(ctx, s.dialect.Bind(query), args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer func() { _ = rows.Close() }()

	var links []*storage.Hierarchy
	for rows.Next() {
		var link storage.Hierarchy
		if err := rows.Scan(&link.ParentID, &link.ChildID, &link.Type, &link.Confidence, &link.CreatedAt, &link.UpdatedAt); err != nil {
			return nil, storageErr(op, err)
		}
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}

	return links, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEdge scans an edge from a database row or rows.
func scanEdge(scanner rowScanner) (*storage.Edge, error) {
	var edge storage.Edge
	var start, end sql.NullTime
	var metadata sql.NullString

	err := scanner.Scan(
		&edge.ID,
		&edge.SourceID,
		&edge.TargetID,
		&edge.RelationshipType,
		&edge.Strength,
		&edge.Confidence,
		&edge.Bidirectional,
		&start,
		&end,
		&metadata,
		&edge.CreatedAt,
		&edge.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if start.Valid {
		t := start.Time.UTC()
		edge.StartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		edge.EndTime = &t
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &edge.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	edge.CreatedAt = edge.CreatedAt.UTC()
	edge.UpdatedAt = edge.UpdatedAt.UTC()

	return &edge, nil
}

func validateEdge(edge *storage.Edge) error {
	if edge == nil {
		return fmt.Errorf("%w: edge is nil", errs.ErrInvalidInput)
	}
	if edge.SourceID == "" || edge.TargetID == "" || edge.RelationshipType == "" {
		return fmt.Errorf("%w: source, target and relationship type are required", errs.ErrInvalidInput)
	}
	if math.IsNaN(edge.Strength) || math.IsInf(edge.Strength, 0) {
		return fmt.Errorf("%w: strength must be finite", errs.ErrInvalidInput)
	}
	if err := validateConfidence(edge.Confidence); err != nil {
		return err
	}
	if edge.StartTime != nil && edge.EndTime != nil && edge.EndTime.Before(*edge.StartTime) {
		return fmt.Errorf("%w: end time precedes start time", errs.ErrInvalidInput)
	}
	return nil
}

func validateConfidence(confidence float64) error {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", errs.ErrInvalidInput, confidence)
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) (interface{}, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errs.ErrStorage, err)
}
