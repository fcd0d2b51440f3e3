package discovery

import (
	"context"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

// MockExtractor is a test double for Extractor. Every table gets a single
// integer id column unless Errors names it.
type MockExtractor struct {
	Errors map[string]error
}

func (m MockExtractor) Extract(_ context.Context, _ database.Queryer, schemaName, table string) (*schema.Table, error) {
	if err := m.Errors[table]; err != nil {
		return nil, err
	}
	return &schema.Table{
		Schema:     schemaName,
		Name:       table,
		Columns:    []schema.Column{{Name: "id", DataType: "integer"}},
		PrimaryKey: &schema.PrimaryKey{Name: table + "_pkey", Columns: []string{"id"}},
	}, nil
}
