package sqlstore

import (
	"strings"
)

// Column is a column that may be missing from databases created by older
// schema versions. It is added with ALTER TABLE when absent.
type Column struct {
	Table      string
	Name       string
	Definition string
}

// Dialect captures the SQL differences between backends.
//
// Queries in this package are written with '?' placeholders and rewritten by
// Bind for drivers that use a different syntax.
type Dialect struct {
	// Name identifies the backend in logs and errors.
	Name string

	// Placeholder renders the n-th (1-based) bind parameter. Nil means '?'.
	Placeholder func(n int) string

	// Tables creates the schema. Statements must be idempotent.
	Tables []string

	// Indexes run after Tables and the additive column check.
	Indexes []string

	// AdditiveColumns are checked on open and added when missing.
	AdditiveColumns []Column

	// ColumnsQuery lists the column names of the table bound to its single parameter.
	ColumnsQuery string

	// UpsertClause renders the conflict clause that turns an INSERT into an
	// upsert keyed on conflict, overwriting the update columns.
	UpsertClause func(conflict, update []string) string
}

// Bind rewrites '?' placeholders into the dialect's syntax.
func (d *Dialect) Bind(query string) string {
	if d.Placeholder == nil {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OnConflictUpdate renders "ON CONFLICT (...) DO UPDATE SET col = excluded.col"
// as understood by SQLite and PostgreSQL.
func OnConflictUpdate(conflict, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = col + " = excluded." + col
	}
	return "ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// OnDuplicateKeyUpdate renders the MySQL/OceanBase upsert clause. The conflict
// columns are implied by the table's unique keys.
func OnDuplicateKeyUpdate(_, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = col + " = VALUES(" + col + ")"
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}
