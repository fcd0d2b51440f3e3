package validation

import (
	"context"
	"fmt"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

// RowCountCheck holds the result of a row count comparison.
type RowCountCheck struct {
	SourceCount int64  `json:"source_count"`
	TargetCount int64  `json:"target_count"`
	Match       bool   `json:"match"`
	Message     string `json:"message,omitempty"`
}

// MismatchError is returned by Verify when the target row count differs from
// the source.
type MismatchError struct {
	Table  string
	Source int64
	Target int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("row count mismatch for %s: source=%d, target=%d (diff=%d)",
		e.Table, e.Source, e.Target, e.Source-e.Target)
}

// RowCount returns the exact number of rows in the table.
func RowCount(ctx context.Context, q database.Queryer, def *schema.Table) (int64, error) {
	var n int64
	if err := q.QueryRow(ctx, "SELECT count(*) FROM "+def.QualifiedName()).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", def.QualifiedName(), err)
	}
	return n, nil
}

// CompareRowCounts counts def in both databases.
func CompareRowCounts(ctx context.Context, src, dst database.Queryer, def *schema.Table) (*RowCountCheck, error) {
	sourceCount, err := RowCount(ctx, src, def)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	targetCount, err := RowCount(ctx, dst, def)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	check := &RowCountCheck{
		SourceCount: sourceCount,
		TargetCount: targetCount,
		Match:       sourceCount == targetCount,
	}
	if !check.Match {
		check.Message = fmt.Sprintf("count mismatch: source=%d, target=%d (diff=%d)",
			sourceCount, targetCount, sourceCount-targetCount)
	}
	return check, nil
}

// Verifier checks a copied table.
type Verifier interface {
	Verify(ctx context.Context, src, dst database.Queryer, def *schema.Table) error
}

// RowCounts is the default Verifier.
type RowCounts struct{}

// Verify returns a *MismatchError when the counts differ.
func (RowCounts) Verify(ctx context.Context, src, dst database.Queryer, def *schema.Table) error {
	check, err := CompareRowCounts(ctx, src, dst, def)
	if err != nil {
		return err
	}
	if !check.Match {
		return &MismatchError{Table: def.QualifiedName(), Source: check.SourceCount, Target: check.TargetCount}
	}
	return nil
}
