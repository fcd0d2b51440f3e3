package copier

import (
	"context"
	"sync"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

// MockCopier is a test double for Copier. Rows maps a table name to the row
// count it reports; Errors maps a table name to a failure.
type MockCopier struct {
	BatchSize int
	Rows      map[string]int64
	Errors    map[string]error

	// Before runs at the start of each Copy. Tests use it to cancel mid-run.
	Before func(table string)

	mu     sync.Mutex
	Copied []string
}

func (m *MockCopier) Copy(ctx context.Context, _, _ database.Session, def *schema.Table, onBatch BatchFunc) (Stats, error) {
	m.mu.Lock()
	m.Copied = append(m.Copied, def.Name)
	m.mu.Unlock()
	if m.Before != nil {
		m.Before(def.Name)
	}

	if err := m.Errors[def.Name]; err != nil {
		return Stats{}, &CopyError{Table: def.QualifiedName(), Batch: 1, Err: err}
	}

	size := int64(m.BatchSize)
	if size <= 0 {
		size = DefaultBatchSize
	}
	var stats Stats
	for remaining := m.Rows[def.Name]; remaining > 0; {
		n := min(remaining, size)
		remaining -= n
		stats.Rows += n
		stats.Batches++
		if onBatch != nil {
			onBatch(def.Name, int(n), stats.Rows)
		}
	}
	return stats, nil
}
