// Package validation compares copied tables against their source.
package validation

import (
	"context"
	"time"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// Result holds the outcome of a validation pass.
type Result struct {
	Status      string        `json:"status"` // PASS, FAIL
	Tables      []TableResult `json:"tables"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// TableResult holds validation results for a single table.
type TableResult struct {
	Name          string         `json:"name"`
	RowCountCheck *RowCountCheck `json:"row_count_check,omitempty"`
	Error         string         `json:"error,omitempty"`
	Status        string         `json:"status"`
}

// Validator compares row counts between two databases.
type Validator struct {
	Source   database.Queryer
	Target   database.Queryer
	Callback func(table string, passed bool)
}

// Validate checks each table. A table that cannot be counted on either side
// fails without stopping the others; only cancellation aborts.
func (v *Validator) Validate(ctx context.Context, tables []schema.Table) (*Result, error) {
	result := &Result{Status: StatusPass, StartedAt: time.Now()}

	for i := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		def := &tables[i]
		tr := TableResult{Name: def.Name, Status: StatusPass}

		rc, err := CompareRowCounts(ctx, v.Source, v.Target, def)
		switch {
		case err != nil:
			tr.Status = StatusFail
			tr.Error = err.Error()
		case !rc.Match:
			tr.Status = StatusFail
			tr.RowCountCheck = rc
		default:
			tr.RowCountCheck = rc
		}
		if tr.Status == StatusFail {
			result.Status = StatusFail
		}
		v.notify(def.Name, tr.Status == StatusPass)
		result.Tables = append(result.Tables, tr)
	}

	result.CompletedAt = time.Now()
	return result, nil
}

func (v *Validator) notify(table string, passed bool) {
	if v.Callback != nil {
		v.Callback(table, passed)
	}
}
