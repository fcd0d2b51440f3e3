// Package copier streams table rows from a source to a target database in
// committed batches.
package copier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

// DefaultBatchSize is the number of rows committed per target transaction.
const DefaultBatchSize = 5000

// MaxBindParams is the PostgreSQL limit on parameters in one statement.
const MaxBindParams = 65535

// Method selects how batches are written.
type Method string

const (
	MethodInsert Method = "insert"
	MethodCopy   Method = "copy"
)

// ParseMethod validates a method name. Empty means insert.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(s)) {
	case "", MethodInsert:
		return MethodInsert, nil
	case MethodCopy:
		return MethodCopy, nil
	}
	return "", fmt.Errorf("unknown copy method %q (want insert or copy)", s)
}

// ErrColumnMismatch means the source result columns no longer match the
// extracted definition.
var ErrColumnMismatch = errors.New("source columns do not match table definition")

// CopyError is returned when a table copy stops early. Batches committed
// before the failure remain in the target.
type CopyError struct {
	Table         string
	Batch         int // 1-based batch that failed, 0 before the first batch
	RowsCommitted int64
	Err           error
}

func (e *CopyError) Error() string {
	if e.Batch == 0 {
		return fmt.Sprintf("copying %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("copying %s: batch %d (%d rows already committed): %v", e.Table, e.Batch, e.RowsCommitted, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// Stats summarizes a copy. Method is the write method actually used.
type Stats struct {
	Rows    int64
	Batches int
	Method  Method
}

// BatchFunc is called after each committed batch.
type BatchFunc func(table string, batchRows int, totalRows int64)

// Options configures a copy.
type Options struct {
	BatchSize int
	Method    Method
	OnBatch   BatchFunc
}

func (o Options) batchSize() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Copier copies one table's rows.
type Copier interface {
	Copy(ctx context.Context, src, dst database.Session, def *schema.Table, onBatch BatchFunc) (Stats, error)
}

// Postgres is the default Copier.
type Postgres struct {
	BatchSize int
	Method    Method
}

func (p *Postgres) Copy(ctx context.Context, src, dst database.Session, def *schema.Table, onBatch BatchFunc) (Stats, error) {
	return Copy(ctx, src, dst, def, Options{BatchSize: p.BatchSize, Method: p.Method, OnBatch: onBatch})
}

// Copy reads every row of def from src inside one read-only snapshot and
// writes them to dst. Each batch is its own target transaction. ctx is
// checked between batches; a batch that has started runs to completion.
func Copy(ctx context.Context, src, dst database.Session, def *schema.Table, opts Options) (Stats, error) {
	var stats Stats
	name := def.QualifiedName()
	fail := func(batch int, err error) (Stats, error) {
		return stats, &CopyError{Table: name, Batch: batch, RowsCommitted: stats.Rows, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(0, err)
	}

	// Reads are paced by the batch loop, so they must not be interrupted
	// halfway through a batch either.
	readCtx := context.WithoutCancel(ctx)
	srcTx, err := src.BeginTx(readCtx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fail(0, fmt.Errorf("opening source snapshot: %w", err))
	}
	defer func() { _ = srcTx.Rollback(readCtx) }()

	rows, err := srcTx.Query(readCtx, "SELECT * FROM "+name)
	if err != nil {
		return fail(0, fmt.Errorf("reading source rows: %w", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, 0, len(fields))
	for _, fd := range fields {
		columns = append(columns, fd.Name)
	}
	if !sameColumns(columns, def.ColumnNames()) {
		return fail(0, fmt.Errorf("%w: source has %v, definition has %v", ErrColumnMismatch, columns, def.ColumnNames()))
	}
	rawJSON := jsonColumns(fields)

	size := opts.batchSize()
	stats.Method = writeMethod(opts.Method, fields)
	w := &writer{dst: dst, table: def.Identifier(), columns: columns, method: stats.Method}
	batch := make([][]any, 0, size)

	flush := func() error {
		n, err := w.write(readCtx, batch)
		if err != nil {
			return err
		}
		stats.Rows += n
		stats.Batches++
		if opts.OnBatch != nil {
			opts.OnBatch(def.Name, len(batch), stats.Rows)
		}
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return fail(stats.Batches+1, fmt.Errorf("decoding row: %w", err))
		}
		if len(rawJSON) > 0 {
			keepJSONText(vals, rows.RawValues(), fields, rawJSON)
		}
		batch = append(batch, vals)
		if len(batch) < size {
			continue
		}
		if err := flush(); err != nil {
			return fail(stats.Batches+1, err)
		}
		if err := ctx.Err(); err != nil {
			return fail(stats.Batches+1, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fail(stats.Batches+1, fmt.Errorf("reading source rows: %w", err))
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return fail(stats.Batches+1, err)
		}
	}
	return stats, nil
}

// firstUserOID is the lowest OID PostgreSQL assigns to objects created after
// initdb. Types below it are built in and have the same OID everywhere.
const firstUserOID = 16384

// writeMethod returns the method used for a result with the given fields.
// COPY encodes in binary by target type OID. Enum, composite and extension
// values arrive as text and pgx has no binary encoder for types it has not
// loaded, so those tables are written with INSERT and the server parses the
// text.
func writeMethod(requested Method, fields []pgconn.FieldDescription) Method {
	if requested != MethodCopy {
		return MethodInsert
	}
	for _, fd := range fields {
		if fd.DataTypeOID >= firstUserOID {
			return MethodInsert
		}
	}
	return MethodCopy
}

// jsonColumns returns the indexes of json and jsonb fields.
func jsonColumns(fields []pgconn.FieldDescription) []int {
	var idx []int
	for i, fd := range fields {
		if fd.DataTypeOID == pgtype.JSONOID || fd.DataTypeOID == pgtype.JSONBOID {
			idx = append(idx, i)
		}
	}
	return idx
}

// keepJSONText replaces decoded json and jsonb values with the source text.
// Decoding goes through encoding/json into any, which rounds integers past
// 2^53 and reorders json object keys.
func keepJSONText(vals []any, raw [][]byte, fields []pgconn.FieldDescription, idx []int) {
	for _, i := range idx {
		if i >= len(raw) || raw[i] == nil || vals[i] == nil {
			continue
		}
		b := raw[i]
		// Binary jsonb carries a one byte version header.
		if fields[i].DataTypeOID == pgtype.JSONBOID && fields[i].Format == pgtype.BinaryFormatCode && len(b) > 0 {
			b = b[1:]
		}
		vals[i] = string(b)
	}
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type writer struct {
	dst     database.Session
	table   pgx.Identifier
	columns []string
	method  Method
}

// write commits one batch in a single target transaction.
func (w *writer) write(ctx context.Context, batch [][]any) (int64, error) {
	tx, err := w.dst.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var n int64
	if w.method == MethodCopy {
		n, err = tx.CopyFrom(ctx, w.table, w.columns, pgx.CopyFromRows(batch))
		if err != nil {
			return 0, fmt.Errorf("copy: %w", err)
		}
	} else {
		for _, chunk := range splitByParams(batch, len(w.columns)) {
			sql, args := insertStatement(w.table, w.columns, chunk)
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return 0, fmt.Errorf("insert: %w", err)
			}
			n += int64(len(chunk))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return n, nil
}

// splitByParams divides rows so no statement exceeds MaxBindParams.
func splitByParams(rows [][]any, ncols int) [][][]any {
	if ncols == 0 || len(rows)*ncols <= MaxBindParams {
		return [][][]any{rows}
	}
	per := MaxBindParams / ncols
	chunks := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

// insertStatement builds a multi-row INSERT with positional parameters.
func insertStatement(table pgx.Identifier, columns []string, rows [][]any) (string, []any) {
	quoted := database.QuoteIdents(columns)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table.Sanitize())
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			args = append(args, row[c])
			b.WriteString("$")
			b.WriteString(strconv.Itoa(len(args)))
		}
		b.WriteString(")")
	}
	return b.String(), args
}
