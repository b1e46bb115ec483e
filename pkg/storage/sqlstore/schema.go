package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// initSchema creates the tables, records the schema version, adds any
// missing additive columns and finally creates indexes.
func (s *Store) initSchema(ctx context.Context, version string) error {
	for _, stmt := range s.dialect.Tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("initSchema", err)
		}
	}

	if err := s.ensureColumns(ctx); err != nil {
		return err
	}

	for _, stmt := range s.dialect.Indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("initSchema", err)
		}
	}

	return s.ensureVersion(ctx, version)
}

// ensureColumns adds every additive column that the existing table lacks.
// Databases created by an older version gain the columns in place; no other
// migration is attempted.
func (s *Store) ensureColumns(ctx context.Context) error {
	if s.dialect.ColumnsQuery == "" || len(s.dialect.AdditiveColumns) == 0 {
		return nil
	}

	existing := make(map[string]map[string]bool)
	for _, col := range s.dialect.AdditiveColumns {
		if _, ok := existing[col.Table]; !ok {
			names, err := s.columnNames(ctx, col.Table)
			if err != nil {
				return err
			}
			existing[col.Table] = names
		}
		if existing[col.Table][col.Name] {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.Table, col.Name, col.Definition)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("ensureColumns", err)
		}
		existing[col.Table][col.Name] = true
		s.logger.Info("added missing column", "backend", s.dialect.Name, "table", col.Table, "column", col.Name)
	}

	return nil
}

func (s *Store) columnNames(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Bind(s.dialect.ColumnsQuery), table)
	if err != nil {
		return nil, storageErr("columnNames", err)
	}
	defer func() { _ = rows.Close() }()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("columnNames", err)
		}
		names[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("columnNames", err)
	}

	return names, nil
}

// ensureVersion records the configured version tag. A database carrying a
// different tag is re-tagged after a warning.
func (s *Store) ensureVersion(ctx context.Context, version string) error {
	stored, err := s.SchemaVersion(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			s.dialect.Bind("INSERT INTO schema_meta (meta_key, meta_value) VALUES (?, ?)"),
			"schema_version", version)
		if err != nil {
			return storageErr("ensureVersion", err)
		}
		return nil
	case err != nil:
		return err
	case stored == version:
		return nil
	}

	s.logger.Warn("schema version changed", "backend", s.dialect.Name, "stored", stored, "configured", version)
	_, err = s.db.ExecContext(ctx,
		s.dialect.Bind("UPDATE schema_meta SET meta_value = ? WHERE meta_key = ?"),
		version, "schema_version")
	if err != nil {
		return storageErr("ensureVersion", err)
	}
	return nil
}

// SchemaVersion returns the version tag recorded in schema_meta. It returns
// sql.ErrNoRows when no tag has been written yet.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		s.dialect.Bind("SELECT meta_value FROM schema_meta WHERE meta_key = ?"),
		"schema_version").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", storageErr("SchemaVersion", err)
	}
	return version, nil
}
