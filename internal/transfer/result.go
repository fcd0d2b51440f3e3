package transfer

import (
	"time"

	"github.com/pgmirror/pgmirror/internal/target"
)

// Status is the final state of one table in a run.
type Status string

const (
	StatusCopied  Status = "copied"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of transferring one table.
type Outcome struct {
	Table      string             `json:"table"`
	Status     Status             `json:"status"`
	Rows       int64              `json:"rows"`
	Batches    int                `json:"batches"`
	Error      string             `json:"error,omitempty"`
	Transition *target.Transition `json:"transition,omitempty"`
	Duration   time.Duration      `json:"duration"`
	Warnings   []string           `json:"warnings,omitempty"`

	Err error `json:"-"`
}

// Result aggregates the outcomes of a run.
type Result struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"` // redacted
	Target     string    `json:"target"` // redacted
	Schema     string    `json:"schema"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
	Cancelled  bool      `json:"cancelled"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// Count returns the number of tables with the given status.
func (r *Result) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// TotalRows is the number of rows committed across all tables.
func (r *Result) TotalRows() int64 {
	var n int64
	for _, o := range r.Outcomes {
		n += o.Rows
	}
	return n
}

// HasFailures reports whether any table failed.
func (r *Result) HasFailures() bool {
	return r.Count(StatusFailed) > 0
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
