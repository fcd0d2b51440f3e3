package target

import (
	"context"
	"fmt"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/schema"
)

// SequenceSyncer copies sequence positions after a table copy.
type SequenceSyncer interface {
	SyncSequences(ctx context.Context, src, dst database.Queryer, def *schema.Table) []string
}

// Sequences is the default SequenceSyncer.
type Sequences struct{}

func (Sequences) SyncSequences(ctx context.Context, src, dst database.Queryer, def *schema.Table) []string {
	return SyncSequences(ctx, src, dst, def)
}

// SyncSequences sets each sequence referenced by def in the target to the
// source's position so new rows do not collide with copied keys. Failures are
// returned as warnings.
func SyncSequences(ctx context.Context, src, dst database.Queryer, def *schema.Table) []string {
	var warnings []string
	for _, seq := range def.Sequences() {
		name := seq.QualifiedName()
		var (
			last     int64
			isCalled bool
		)
		err := src.QueryRow(ctx, "SELECT last_value, is_called FROM "+name).Scan(&last, &isCalled)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("reading sequence %s: %v", name, err))
			continue
		}
		if _, err := dst.Exec(ctx, "SELECT setval($1::text::regclass, $2, $3)", name, last, isCalled); err != nil {
			warnings = append(warnings, fmt.Sprintf("setting sequence %s: %v", name, err))
		}
	}
	return warnings
}
