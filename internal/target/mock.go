package target

import (
	"context"
	"sync"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

// MockPreparer is a test double for Preparer. Errors are keyed by exact
// table name.
type MockPreparer struct {
	Errors  map[string]error
	Present map[string]bool

	mu       sync.Mutex
	Prepared []string
}

func (m *MockPreparer) Prepare(_ context.Context, _ database.Session, def *schema.Table) (Transition, error) {
	m.mu.Lock()
	m.Prepared = append(m.Prepared, def.Name)
	m.mu.Unlock()

	tr := Transition{Table: def.QualifiedName(), From: StateAbsent, To: StateEmpty}
	if m.Present[def.Name] {
		tr.From = StatePresent
	}
	if err := m.Errors[def.Name]; err != nil {
		return tr, &DDLError{Table: def.QualifiedName(), Kind: "create table", Err: err}
	}
	return tr, nil
}

// MockSequenceSyncer returns fixed warnings and records the tables it saw.
type MockSequenceSyncer struct {
	Warnings []string

	mu     sync.Mutex
	Synced []string
}

func (m *MockSequenceSyncer) SyncSequences(_ context.Context, _, _ database.Queryer, def *schema.Table) []string {
	m.mu.Lock()
	m.Synced = append(m.Synced, def.Name)
	m.mu.Unlock()
	return m.Warnings
}
