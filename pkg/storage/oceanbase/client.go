// Package oceanbase provides the OceanBase (MySQL protocol) implementation of
// the knowledge graph store.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/powermem-recall/pkg/errs"
	"github.com/oceanbase/powermem-recall/pkg/storage"
	"github.com/oceanbase/powermem-recall/pkg/storage/sqlstore"
)

// Client is an OceanBase graph store client.
type Client struct {
	*sqlstore.Store
}

var _ storage.GraphStore = (*Client)(nil)

// Config contains OceanBase configuration.
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SchemaVersion string
	Logger        *log.Logger
}

// Dialect describes the OceanBase schema. Indexes are declared inline because
// MySQL mode has no CREATE INDEX IF NOT EXISTS.
var Dialect = &sqlstore.Dialect{
	Name: "oceanbase",
	Tables: []string{
		`CREATE TABLE IF NOT EXISTS edges (
			id BIGINT PRIMARY KEY,
			source_id VARCHAR(255) NOT NULL,
			target_id VARCHAR(255) NOT NULL,
			relationship_type VARCHAR(255) NOT NULL,
			strength DOUBLE NOT NULL DEFAULT 0,
			confidence DOUBLE NOT NULL DEFAULT 1.0,
			bidirectional TINYINT(1) NOT NULL DEFAULT 0,
			start_time DATETIME(6) NULL,
			end_time DATETIME(6) NULL,
			metadata JSON,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uk_edges_triple (source_id, target_id, relationship_type),
			KEY idx_edges_source (source_id),
			KEY idx_edges_target (target_id),
			KEY idx_edges_type (relationship_type),
			KEY idx_edges_start (start_time),
			KEY idx_edges_end (end_time)
		)`,
		`CREATE TABLE IF NOT EXISTS node_attributes (
			node_id VARCHAR(255) NOT NULL,
			attribute_name VARCHAR(255) NOT NULL,
			attribute_value TEXT,
			confidence DOUBLE NOT NULL DEFAULT 1.0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (node_id, attribute_name)
		)`,
		`CREATE TABLE IF NOT EXISTS hierarchies (
			parent_id VARCHAR(255) NOT NULL,
			child_id VARCHAR(255) NOT NULL,
			hierarchy_type VARCHAR(255) NOT NULL,
			confidence DOUBLE NOT NULL DEFAULT 1.0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (parent_id, child_id, hierarchy_type)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_meta (
			meta_key VARCHAR(64) PRIMARY KEY,
			meta_value TEXT NOT NULL
		)`,
	},
	AdditiveColumns: []sqlstore.Column{
		{Table: "edges", Name: "start_time", Definition: "DATETIME(6) NULL"},
		{Table: "edges", Name: "end_time", Definition: "DATETIME(6) NULL"},
		{Table: "edges", Name: "metadata", Definition: "JSON"},
	},
	ColumnsQuery: `SELECT column_name FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?`,
	UpsertClause: sqlstore.OnDuplicateKeyUpdate,
}

// DSN returns the driver connection string for cfg. Times are parsed as UTC,
// and affected-row counts report matched rows so an update that leaves a row
// unchanged still counts as a hit.
func DSN(cfg *Config) string {
	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dsnCfg.DBName = cfg.DBName
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC
	dsnCfg.ClientFoundRows = true
	return dsnCfg.FormatDSN()
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w: %w", errs.ErrStorage, err)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect, &sqlstore.Config{
		SchemaVersion: cfg.SchemaVersion,
		Logger:        cfg.Logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	return &Client{Store: store}, nil
}
