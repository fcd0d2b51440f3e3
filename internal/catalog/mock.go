package catalog

import (
	"context"

	"github.com/pgmirror/pgmirror/internal/database"
)

// MockLister is a test double for Lister returning a fixed table list.
type MockLister struct {
	Tables []string
	Err    error
}

func (m MockLister) ListBaseTables(_ context.Context, _ database.Queryer, schema string) ([]string, error) {
	if m.Err != nil {
		return nil, &CatalogError{Schema: schema, Err: m.Err}
	}
	return m.Tables, nil
}
