package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Statement is a recorded SQL statement. Tx is the 1-based transaction number
// the statement ran in, or 0 outside a transaction.
type Statement struct {
	SQL  string
	Args []any
	Tx   int
}

// CopyCall is a recorded CopyFrom invocation.
type CopyCall struct {
	Table   pgx.Identifier
	Columns []string
	Rows    [][]any
	Tx      int
}

// MockSession is a test double for Session. Queries and execs are answered by
// the handler funcs and recorded in order.
type MockSession struct {
	QueryHandler  func(sql string, args []any) (pgx.Rows, error)
	ExecHandler   func(sql string, args []any) (pgconn.CommandTag, error)
	CopyHandler   func(table pgx.Identifier, columns []string, rows [][]any) (int64, error)
	CommitHandler func(tx *MockTx) error
	BeginErr      error
	CloseErr      error

	mu         sync.Mutex
	Statements []Statement
	Copies     []CopyCall
	Txs        []*MockTx
	Closed     bool
}

func (m *MockSession) record(sql string, args []any, tx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statements = append(m.Statements, Statement{SQL: sql, Args: args, Tx: tx})
}

func (m *MockSession) exec(sql string, args []any, tx int) (pgconn.CommandTag, error) {
	m.record(sql, args, tx)
	if m.ExecHandler != nil {
		return m.ExecHandler(sql, args)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (m *MockSession) query(sql string, args []any, tx int) (pgx.Rows, error) {
	m.record(sql, args, tx)
	if m.QueryHandler != nil {
		return m.QueryHandler(sql, args)
	}
	return NewMockRows(nil), nil
}

func (m *MockSession) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.exec(sql, args, 0)
}

func (m *MockSession) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return m.query(sql, args, 0)
}

func (m *MockSession) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	rows, err := m.query(sql, args, 0)
	return &MockRow{rows: rows, err: err}
}

func (m *MockSession) Begin(ctx context.Context) (Tx, error) {
	return m.BeginTx(ctx, pgx.TxOptions{})
}

func (m *MockSession) BeginTx(_ context.Context, opts pgx.TxOptions) (Tx, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &MockTx{session: m, ID: len(m.Txs) + 1, Options: opts}
	m.Txs = append(m.Txs, tx)
	return tx, nil
}

func (m *MockSession) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return m.CloseErr
}

// ExecutedSQL returns the recorded statement texts in order.
func (m *MockSession) ExecutedSQL() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Statements))
	for i, s := range m.Statements {
		out[i] = s.SQL
	}
	return out
}

// MockTx is the transaction handed out by MockSession.
type MockTx struct {
	session    *MockSession
	ID         int
	Options    pgx.TxOptions
	Committed  bool
	RolledBack bool
}

func (t *MockTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.session.exec(sql, args, t.ID)
}

func (t *MockTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.session.query(sql, args, t.ID)
}

func (t *MockTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	rows, err := t.session.query(sql, args, t.ID)
	return &MockRow{rows: rows, err: err}
}

func (t *MockTx) CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	var rows [][]any
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, vals)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	t.session.mu.Lock()
	t.session.Copies = append(t.session.Copies, CopyCall{Table: table, Columns: columns, Rows: rows, Tx: t.ID})
	t.session.mu.Unlock()
	if t.session.CopyHandler != nil {
		return t.session.CopyHandler(table, columns, rows)
	}
	return int64(len(rows)), nil
}

func (t *MockTx) Commit(_ context.Context) error {
	if t.Committed || t.RolledBack {
		return pgx.ErrTxClosed
	}
	if t.session.CommitHandler != nil {
		if err := t.session.CommitHandler(t); err != nil {
			t.RolledBack = true
			return err
		}
	}
	t.Committed = true
	return nil
}

func (t *MockTx) Rollback(_ context.Context) error {
	if t.Committed || t.RolledBack {
		return pgx.ErrTxClosed
	}
	t.RolledBack = true
	return nil
}

// MockRows is an in-memory pgx.Rows. OIDs and Raw are optional: OIDs sets
// each field's type OID and Raw holds the wire bytes behind each row of Data.
type MockRows struct {
	Fields []string
	Data   [][]any
	OIDs   []uint32
	Raw    [][][]byte

	// IterErr is reported by Err once ErrAfter rows have been read.
	IterErr  error
	ErrAfter int

	pos    int
	closed bool
}

// NewMockRows builds rows with the given field names.
func NewMockRows(fields []string, data ...[]any) *MockRows {
	return &MockRows{Fields: fields, Data: data}
}

func (r *MockRows) Close() { r.closed = true }

func (r *MockRows) Err() error {
	if r.IterErr != nil && r.pos >= r.ErrAfter {
		return r.IterErr
	}
	return nil
}

func (r *MockRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.Data)))
}

func (r *MockRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.Fields))
	for i, f := range r.Fields {
		fds[i] = pgconn.FieldDescription{Name: f}
		if i < len(r.OIDs) {
			fds[i].DataTypeOID = r.OIDs[i]
		}
	}
	return fds
}

func (r *MockRows) Next() bool {
	if r.closed {
		return false
	}
	if r.IterErr != nil && r.pos >= r.ErrAfter {
		r.closed = true
		return false
	}
	if r.pos >= len(r.Data) {
		r.closed = true
		return false
	}
	r.pos++
	return true
}

func (r *MockRows) current() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.Data) {
		return nil, errors.New("no current row")
	}
	return r.Data[r.pos-1], nil
}

func (r *MockRows) Scan(dest ...any) error {
	row, err := r.current()
	if err != nil {
		return err
	}
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for i := range dest {
		if err := assign(dest[i], row[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func (r *MockRows) Values() ([]any, error) {
	row, err := r.current()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(row))
	copy(out, row)
	return out, nil
}

func (r *MockRows) RawValues() [][]byte {
	if r.pos == 0 || r.pos > len(r.Raw) {
		return nil
	}
	return r.Raw[r.pos-1]
}

func (r *MockRows) Conn() *pgx.Conn { return nil }

// Closed reports whether Close was called or the rows were exhausted.
func (r *MockRows) Closed() bool { return r.closed }

// MockRow is the pgx.Row returned by QueryRow on mocks.
type MockRow struct {
	rows pgx.Rows
	err  error
}

func (r *MockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func assign(dst, src any) error {
	switch d := dst.(type) {
	case *any:
		*d = src
	case *string:
		s, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to *string", src)
		}
		*d = s
	case **string:
		if src == nil {
			*d = nil
			return nil
		}
		s, ok := src.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to **string", src)
		}
		*d = &s
	case *bool:
		b, ok := src.(bool)
		if !ok {
			return fmt.Errorf("cannot assign %T to *bool", src)
		}
		*d = b
	case *int64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		*d = n
	case *int:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		*d = int(n)
	case **int:
		if src == nil {
			*d = nil
			return nil
		}
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		v := int(n)
		*d = &v
	default:
		return fmt.Errorf("unsupported scan destination %T", dst)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", v)
	}
}

var (
	_ Session  = (*MockSession)(nil)
	_ Tx       = (*MockTx)(nil)
	_ pgx.Rows = (*MockRows)(nil)
)
