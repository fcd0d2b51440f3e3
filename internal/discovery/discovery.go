// Package discovery builds recreate definitions for source tables.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

var (
	// ErrTableNotFound is returned when no base table matches the requested name.
	ErrTableNotFound = errors.New("table not found")

	// ErrNoColumns is returned for tables that have no columns.
	ErrNoColumns = errors.New("table has no columns")
)

// ExtractionError is returned when a table's metadata cannot be read or rendered.
type ExtractionError struct {
	Table string
	Stage string // resolve, columns, primary key, render
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s (%s): %v", e.Table, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsSkippable reports whether err means the table should be skipped rather
// than failed.
func IsSkippable(err error) bool {
	var ee *ExtractionError
	return errors.Is(err, ErrTableNotFound) || errors.Is(err, ErrNoColumns) || errors.As(err, &ee)
}

// Extractor produces table definitions.
type Extractor interface {
	Extract(ctx context.Context, q database.Queryer, schemaName, table string) (*schema.Table, error)
}

// Postgres extracts definitions from the PostgreSQL information schema.
type Postgres struct{}

func (Postgres) Extract(ctx context.Context, q database.Queryer, schemaName, table string) (*schema.Table, error) {
	return Extract(ctx, q, schemaName, table)
}

// Skipped records a table that could not be extracted.
type Skipped struct {
	Table string
	Err   error
}

// DiscoverSchema extracts every named table. Tables that cannot be extracted
// are returned in skipped rather than failing the whole call; other errors
// abort.
func DiscoverSchema(ctx context.Context, q database.Queryer, ex Extractor, schemaName string, tables []string) (*schema.Schema, []Skipped, error) {
	s := &schema.Schema{SchemaName: schemaName}
	var skipped []Skipped
	for _, name := range tables {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		def, err := ex.Extract(ctx, q, schemaName, name)
		if err != nil {
			if IsSkippable(err) {
				skipped = append(skipped, Skipped{Table: name, Err: err})
				continue
			}
			return nil, nil, err
		}
		s.Tables = append(s.Tables, *def)
	}
	return s, skipped, nil
}
