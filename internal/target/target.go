// Package target recreates tables in the target database.
package target

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

// State is the condition of a target table.
type State string

const (
	StateAbsent  State = "absent"
	StatePresent State = "present"
	StateEmpty   State = "empty"
)

// Transition is the destructive change applied to a target table.
type Transition struct {
	Table string `json:"table" yaml:"table"`
	From  State  `json:"from" yaml:"from"`
	To    State  `json:"to" yaml:"to"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s: %s -> %s", t.Table, t.From, t.To)
}

// DDLError is returned when a table cannot be cleared or recreated.
type DDLError struct {
	Table string
	Kind  string // probe, drop, create sequence, create table, commit
	Err   error
}

func (e *DDLError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Table, e.Err)
}

func (e *DDLError) Unwrap() error { return e.Err }

// Preparer clears and recreates target tables.
type Preparer interface {
	Prepare(ctx context.Context, s database.Session, def *schema.Table) (Transition, error)
}

// Postgres is the default Preparer.
type Postgres struct{}

func (Postgres) Prepare(ctx context.Context, s database.Session, def *schema.Table) (Transition, error) {
	return Prepare(ctx, s, def)
}

// Prepare drops any existing table of the same name, creates the sequences
// its defaults reference, and creates the table, all in one transaction.
// Any existing rows are lost.
func Prepare(ctx context.Context, s database.Session, def *schema.Table) (Transition, error) {
	name := def.QualifiedName()
	tr := Transition{Table: name, From: StateAbsent, To: StateEmpty}

	create, err := def.CreateStatement()
	if err != nil {
		return tr, &DDLError{Table: name, Kind: "render", Err: err}
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return tr, &DDLError{Table: name, Kind: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", name).Scan(&exists); err != nil {
		return tr, &DDLError{Table: name, Kind: "probe", Err: err}
	}
	if exists {
		tr.From = StatePresent
	}

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+name+" CASCADE"); err != nil {
		return tr, &DDLError{Table: name, Kind: "drop", Err: err}
	}
	for _, seq := range def.Sequences() {
		if _, err := tx.Exec(ctx, "CREATE SEQUENCE IF NOT EXISTS "+seq.QualifiedName()); err != nil {
			return tr, &DDLError{Table: name, Kind: "create sequence", Err: err}
		}
	}
	if _, err := tx.Exec(ctx, create); err != nil {
		return tr, &DDLError{Table: name, Kind: "create table", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return tr, &DDLError{Table: name, Kind: "commit", Err: err}
	}
	committed = true
	return tr, nil
}

// IsDDLError reports whether err came from Prepare.
func IsDDLError(err error) bool {
	var de *DDLError
	return errors.As(err, &de)
}
