// Package report records the outcome of a transfer run.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pgmirror/pgmirror/internal/target"
	"github.com/pgmirror/pgmirror/internal/transfer"
)

// Run statuses.
const (
	StatusCompleted             = "completed"
	StatusCompletedWithFailures = "completed_with_failures"
	StatusCancelled             = "cancelled"
	StatusFailed                = "failed"
)

// RunReport is the persisted record of one run.
type RunReport struct {
	Version     string        `json:"version"`
	GeneratedAt time.Time     `json:"generated_at"`
	RunID       string        `json:"run_id"`
	Status      string        `json:"status"`
	Source      string        `json:"source"`
	Target      string        `json:"target"`
	Schema      string        `json:"schema"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	DurationMS  int64         `json:"duration_ms"`
	Summary     Summary       `json:"summary"`
	Tables      []TableReport `json:"tables"`
	Error       string        `json:"error,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	ArchiveURI  string        `json:"archive_uri,omitempty"`
}

// Summary counts tables by status.
type Summary struct {
	Tables  int   `json:"tables"`
	Copied  int   `json:"copied"`
	Skipped int   `json:"skipped"`
	Failed  int   `json:"failed"`
	Rows    int64 `json:"rows"`
}

// TableReport describes one table's outcome.
type TableReport struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	Rows       int64              `json:"rows"`
	Batches    int                `json:"batches"`
	DurationMS int64              `json:"duration_ms"`
	Transition *target.Transition `json:"transition,omitempty"`
	Error      string             `json:"error,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// FromResult builds a report. runErr is the fatal error, if the run stopped.
func FromResult(res *transfer.Result, runErr error) *RunReport {
	r := &RunReport{
		Version:     "1",
		GeneratedAt: time.Now(),
		RunID:       res.RunID,
		Source:      res.Source,
		Target:      res.Target,
		Schema:      res.Schema,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		DurationMS:  res.Duration().Milliseconds(),
		Warnings:    res.Warnings,
		Summary: Summary{
			Tables:  len(res.Outcomes),
			Copied:  res.Count(transfer.StatusCopied),
			Skipped: res.Count(transfer.StatusSkipped),
			Failed:  res.Count(transfer.StatusFailed),
			Rows:    res.TotalRows(),
		},
	}
	for _, o := range res.Outcomes {
		r.Tables = append(r.Tables, TableReport{
			Name:       o.Table,
			Status:     string(o.Status),
			Rows:       o.Rows,
			Batches:    o.Batches,
			DurationMS: o.Duration.Milliseconds(),
			Transition: o.Transition,
			Error:      o.Error,
			Warnings:   o.Warnings,
		})
	}

	switch {
	case runErr != nil:
		r.Status = StatusFailed
		r.Error = runErr.Error()
	case res.Cancelled:
		r.Status = StatusCancelled
	case r.Summary.Failed > 0:
		r.Status = StatusCompletedWithFailures
	default:
		r.Status = StatusCompleted
	}
	return r
}

// WriteJSON writes the report as JSON.
func WriteJSON(report *RunReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a report from a JSON file.
func ReadJSON(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &RunReport{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// ErrNoReports is returned by Latest when the store is empty.
var ErrNoReports = errors.New("no run reports found")

// Store keeps reports as <dir>/<run-id>.json.
type Store struct {
	Dir string
}

// Path returns the file for a run.
func (s *Store) Path(runID string) string {
	return filepath.Join(s.Dir, runID+".json")
}

// Save writes the report and returns its path.
func (s *Store) Save(r *RunReport) (string, error) {
	p := s.Path(r.RunID)
	return p, WriteJSON(r, p)
}

// Load reads one run's report.
func (s *Store) Load(runID string) (*RunReport, error) {
	return ReadJSON(s.Path(runID))
}

// List returns all reports, newest first. Unreadable files are skipped.
func (s *Store) List() ([]*RunReport, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading report directory: %w", err)
	}
	var reports []*RunReport
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		r, err := ReadJSON(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			continue
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	return reports, nil
}

// Latest returns the most recently started run's report.
func (s *Store) Latest() (*RunReport, error) {
	reports, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, ErrNoReports
	}
	return reports[0], nil
}
