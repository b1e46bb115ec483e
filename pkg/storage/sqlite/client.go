// Package sqlite provides the SQLite implementation of the knowledge graph store.
//
// SQLite is the default backend: the whole graph lives in a single local file
// opened in WAL mode. Concurrent writers from several processes are only
// protected by SQLite's own file locking.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/storage"
	"github.com/oceanbase/powermem-recall/pkg/storage/sqlstore"
)

// Client implements storage.GraphStore using SQLite as the backend.
type Client struct {
	*sqlstore.Store
}

var _ storage.GraphStore = (*Client)(nil)

// Config contains configuration for creating a SQLite GraphStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// SchemaVersion is the version tag recorded in the schema_meta table.
	SchemaVersion string

	// Logger receives schema diagnostics. Nil uses the default logger.
	Logger *log.Logger
}

// Dialect describes the SQLite schema and SQL flavour.
var Dialect = &sqlstore.Dialect{
	Name: "sqlite",
	Tables: []string{
		`CREATE TABLE IF NOT EXISTS edges (
			id INTEGER PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relationship_type TEXT NOT NULL,
			strength REAL NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 1.0,
			bidirectional BOOLEAN NOT NULL DEFAULT 0,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (source_id, target_id, relationship_type)
		)`,
		`CREATE TABLE IF NOT EXISTS node_attributes (
			node_id TEXT NOT NULL,
			attribute_name TEXT NOT NULL,
			attribute_value TEXT,
			confidence REAL NOT NULL DEFAULT 1.0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (node_id, attribute_name)
		)`,
		`CREATE TABLE IF NOT EXISTS hierarchies (
			parent_id TEXT NOT NULL,
			child_id TEXT NOT NULL,
			hierarchy_type TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (parent_id, child_id, hierarchy_type)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_meta (
			meta_key TEXT PRIMARY KEY,
			meta_value TEXT NOT NULL
		)`,
	},
	Indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(relationship_type)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_start ON edges(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_end ON edges(end_time)`,
	},
	AdditiveColumns: []sqlstore.Column{
		{Table: "edges", Name: "start_time", Definition: "TIMESTAMP"},
		{Table: "edges", Name: "end_time", Definition: "TIMESTAMP"},
		{Table: "edges", Name: "metadata", Definition: "TEXT"},
	},
	ColumnsQuery: `SELECT name FROM pragma_table_info(?)`,
	UpsertClause: sqlstore.OnConflictUpdate,
}

// NewClient opens (creating if needed) the SQLite database at cfg.DBPath.
//
// Parameters:
//   - cfg: Configuration containing the database path and schema version tag
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error wrapping errs.ErrStorage if the file cannot be opened or initialised
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.DBPath == "" {
		return nil, fmt.Errorf("NewSQLiteClient: %w: db path is required", errs.ErrInvalidConfig)
	}

	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: %w: create directory: %w", errs.ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w: %w", errs.ErrStorage, err)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect, &sqlstore.Config{
		SchemaVersion: cfg.SchemaVersion,
		Logger:        cfg.Logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	return &Client{Store: store}, nil
}
