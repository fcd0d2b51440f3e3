package discovery

import (
	"context"
	"fmt"

	"github.com/pgmirror/pgmirror/internal/catalog"
	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

const resolveQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1
	  AND table_type = 'BASE TABLE'
	  AND lower(table_name) = lower($2)
	ORDER BY table_name`

const columnsQuery = `
	SELECT
		column_name,
		data_type,
		udt_name,
		is_nullable,
		column_default,
		character_maximum_length,
		numeric_precision,
		numeric_scale,
		datetime_precision,
		interval_type
	FROM information_schema.columns
	WHERE table_schema = $1
	  AND table_name = $2
	ORDER BY ordinal_position`

const primaryKeyQuery = `
	SELECT
		tc.constraint_name,
		kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
	  ON tc.constraint_name = kcu.constraint_name
	  AND tc.table_schema = kcu.table_schema
	  AND tc.table_name = kcu.table_name
	WHERE tc.constraint_type = 'PRIMARY KEY'
	  AND tc.table_schema = $1
	  AND tc.table_name = $2
	ORDER BY kcu.ordinal_position`

// Extract reads the definition of one base table. The name is matched
// case-insensitively and the returned definition carries its exact form.
func Extract(ctx context.Context, q database.Queryer, schemaName, table string) (*schema.Table, error) {
	if schemaName == "" {
		schemaName = catalog.DefaultSchema
	}

	exact, err := resolveName(ctx, q, schemaName, table)
	if err != nil {
		return nil, err
	}

	t := &schema.Table{Schema: schemaName, Name: exact}
	if err := readColumns(ctx, q, t); err != nil {
		return nil, &ExtractionError{Table: exact, Stage: "columns", Err: err}
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%s: %w", exact, ErrNoColumns)
	}
	if err := readPrimaryKey(ctx, q, t); err != nil {
		return nil, &ExtractionError{Table: exact, Stage: "primary key", Err: err}
	}

	// Rendering validates declared types.
	if _, err := t.CreateStatement(); err != nil {
		return nil, &ExtractionError{Table: exact, Stage: "render", Err: err}
	}
	return t, nil
}

// resolveName prefers an exact-case match over other case variants.
func resolveName(ctx context.Context, q database.Queryer, schemaName, table string) (string, error) {
	rows, err := q.Query(ctx, resolveQuery, schemaName, table)
	if err != nil {
		return "", &ExtractionError{Table: table, Stage: "resolve", Err: err}
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", &ExtractionError{Table: table, Stage: "resolve", Err: err}
		}
		candidates = append(candidates, name)
	}
	if err := rows.Err(); err != nil {
		return "", &ExtractionError{Table: table, Stage: "resolve", Err: err}
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("%s.%s: %w", schemaName, table, ErrTableNotFound)
	}
	for _, c := range candidates {
		if c == table {
			return c, nil
		}
	}
	return candidates[0], nil
}

func readColumns(ctx context.Context, q database.Queryer, t *schema.Table) error {
	rows, err := q.Query(ctx, columnsQuery, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			colName, dataType, udtName, nullable string
			defaultVal, intervalType             *string
			maxLen, precision, scale, dtPrec     *int
		)
		if err := rows.Scan(&colName, &dataType, &udtName, &nullable, &defaultVal, &maxLen, &precision, &scale, &dtPrec, &intervalType); err != nil {
			return err
		}
		var fields string
		if intervalType != nil {
			fields = *intervalType
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:         colName,
			DataType:     dataType,
			UDTName:      udtName,
			Nullable:     nullable == "YES",
			DefaultValue: defaultVal,
			MaxLength:    maxLen,
			Precision:    precision,
			Scale:        scale,

			DatetimePrecision: dtPrec,
			IntervalFields:    fields,
		})
	}
	return rows.Err()
}

func readPrimaryKey(ctx context.Context, q database.Queryer, t *schema.Table) error {
	rows, err := q.Query(ctx, primaryKeyQuery, t.Schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var constraintName, colName string
		if err := rows.Scan(&constraintName, &colName); err != nil {
			return err
		}
		if t.PrimaryKey == nil {
			t.PrimaryKey = &schema.PrimaryKey{Name: constraintName}
		}
		t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, colName)
	}
	return rows.Err()
}
