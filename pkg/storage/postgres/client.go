// Package postgres provides the PostgreSQL implementation of the knowledge graph store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/storage"
	"github.com/oceanbase/powermem-recall/pkg/storage/sqlstore"
)

// Client is a PostgreSQL graph store client.
type Client struct {
	*sqlstore.Store
}

var _ storage.GraphStore = (*Client)(nil)

// Config contains PostgreSQL configuration.
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	SchemaVersion string
	Logger        *log.Logger
}

// Dialect describes the PostgreSQL schema and SQL flavour.
var Dialect = &sqlstore.Dialect{
	Name: "postgres",
	Placeholder: func(n int) string {
		return "$" + strconv.Itoa(n)
	},
	Tables: []string{
		`CREATE TABLE IF NOT EXISTS edges (
			id BIGINT PRIMARY KEY,
			source_id VARCHAR(255) NOT NULL,
			target_id VARCHAR(255) NOT NULL,
			relationship_type VARCHAR(255) NOT NULL,
			strength DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			bidirectional BOOLEAN NOT NULL DEFAULT FALSE,
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (source_id, target_id, relationship_type)
		)`,
		`CREATE TABLE IF NOT EXISTS node_attributes (
			node_id VARCHAR(255) NOT NULL,
			attribute_name VARCHAR(255) NOT NULL,
			attribute_value TEXT,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (node_id, attribute_name)
		)`,
		`CREATE TABLE IF NOT EXISTS hierarchies (
			parent_id VARCHAR(255) NOT NULL,
			child_id VARCHAR(255) NOT NULL,
			hierarchy_type VARCHAR(255) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (parent_id, child_id, hierarchy_type)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_meta (
			meta_key VARCHAR(64) PRIMARY KEY,
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
		{Table: "edges", Name: "start_time", Definition: "TIMESTAMPTZ"},
		{Table: "edges", Name: "end_time", Definition: "TIMESTAMPTZ"},
		{Table: "edges", Name: "metadata", Definition: "JSONB"},
	},
	ColumnsQuery: `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ?`,
	UpsertClause: sqlstore.OnConflictUpdate,
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w: %w", errs.ErrStorage, err)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect, &sqlstore.Config{
		SchemaVersion: cfg.SchemaVersion,
		Logger:        cfg.Logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	return &Client{Store: store}, nil
}
