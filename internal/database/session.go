package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryer is the statement surface shared by sessions and transactions.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is an open transaction. pgx.Tx satisfies it.
type Tx interface {
	Queryer
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Session is a single exclusive database connection.
type Session interface {
	Queryer
	Begin(ctx context.Context) (Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (Tx, error)
	Close(ctx context.Context) error
}

// Role identifies which side of a transfer a connection serves.
type Role string

const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

// ConnectionError is returned when a source or target connection cannot be opened.
type ConnectionError struct {
	Role     Role
	Endpoint string // redacted
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("connecting to %s: %v", e.Role, e.Err)
	}
	return fmt.Sprintf("connecting to %s %s: %v", e.Role, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Connect opens and pings a connection. A connection that fails the ping is
// closed before returning.
func Connect(ctx context.Context, role Role, connString string) (Session, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, &ConnectionError{Role: role, Err: fmt.Errorf("parsing connection string: %w", err)}
	}
	endpoint := redactConfig(cfg)

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{Role: role, Endpoint: endpoint, Err: err}
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(context.WithoutCancel(ctx))
		return nil, &ConnectionError{Role: role, Endpoint: endpoint, Err: fmt.Errorf("ping: %w", err)}
	}
	return &pgSession{conn: conn}, nil
}

// ConnectFunc opens a session for a role. Connect satisfies it.
type ConnectFunc func(ctx context.Context, role Role, connString string) (Session, error)

type pgSession struct {
	conn *pgx.Conn
}

func (s *pgSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

func (s *pgSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

func (s *pgSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn.QueryRow(ctx, sql, args...)
}

func (s *pgSession) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *pgSession) BeginTx(ctx context.Context, opts pgx.TxOptions) (Tx, error) {
	tx, err := s.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *pgSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// compile-time interface check
var _ Session = (*pgSession)(nil)
