// Package catalog enumerates the base tables of a source schema.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgmirror/pgmirror/internal/database"
)

// DefaultSchema is used when no schema is configured.
const DefaultSchema = "public"

const listTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1 AND table_type = 'BASE TABLE'
	ORDER BY table_name`

// CatalogError is returned when the table list cannot be read.
type CatalogError struct {
	Schema string
	Err    error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("listing tables in schema %q: %v", e.Schema, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// ListBaseTables returns the base tables in schema, ordered by name.
// Views, foreign tables and other relation kinds are excluded.
func ListBaseTables(ctx context.Context, q database.Queryer, schema string) ([]string, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	rows, err := q.Query(ctx, listTablesQuery, schema)
	if err != nil {
		return nil, &CatalogError{Schema: schema, Err: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &CatalogError{Schema: schema, Err: fmt.Errorf("scanning table name: %w", err)}
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &CatalogError{Schema: schema, Err: err}
	}
	return tables, nil
}

// Filter keeps tables matching include (all when include is empty) and drops
// tables matching exclude. Matching is case-insensitive and a pattern may
// start or end with * ("audit_*", "*_log"). Order is preserved.
func Filter(tables, include, exclude []string) []string {
	inc := patterns(include)
	exc := patterns(exclude)
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		key := strings.ToLower(t)
		if len(inc) > 0 && !matchAny(key, inc) {
			continue
		}
		if matchAny(key, exc) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Unmatched returns the literal (non-glob) include entries that match none of
// tables and are not excluded, in the order given.
func Unmatched(tables, include, exclude []string) []string {
	have := make(map[string]bool, len(tables))
	for _, t := range tables {
		have[strings.ToLower(t)] = true
	}
	exc := patterns(exclude)
	var out []string
	for _, n := range include {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || strings.Contains(n, "*") || have[key] || matchAny(key, exc) {
			continue
		}
		have[key] = true
		out = append(out, n)
	}
	return out
}

func patterns(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			out = append(out, strings.ToLower(n))
		}
	}
	return out
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if matchGlob(name, p) {
			return true
		}
	}
	return false
}

func matchGlob(name, pattern string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	}
	return name == pattern
}

// Lister lists base tables. It lets callers substitute the catalog in tests.
type Lister interface {
	ListBaseTables(ctx context.Context, q database.Queryer, schema string) ([]string, error)
}

// Reader is the default Lister.
type Reader struct{}

func (Reader) ListBaseTables(ctx context.Context, q database.Queryer, schema string) ([]string, error) {
	return ListBaseTables(ctx, q, schema)
}
