// Package engine runs transfers in the background and tracks their status.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pgmirror/pgmirror/internal/config"
	"github.com/pgmirror/pgmirror/internal/copier"
	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/lock"
	"github.com/pgmirror/pgmirror/internal/report"
	"github.com/pgmirror/pgmirror/internal/transfer"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
)

// StateRunning marks a run still in progress. Finished runs carry one of the
// report statuses.
const StateRunning = "running"

// Request names the databases of one transfer.
type Request struct {
	SourceURL string
	TargetURL string
}

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	ID           string             `json:"id"`
	State        string             `json:"state"`
	Source       string             `json:"source"`
	Target       string             `json:"target"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	Tables       []string           `json:"tables,omitempty"`
	CurrentTable string             `json:"current_table,omitempty"`
	RowsCopied   int64              `json:"rows_copied"`
	Outcomes     []transfer.Outcome `json:"outcomes"`
	Error        string             `json:"error,omitempty"`
	ReportPath   string             `json:"report_path,omitempty"`
	ArchiveURI   string             `json:"archive_uri,omitempty"`
}

// Finished reports whether the run has ended.
func (s *RunStatus) Finished() bool { return s.State != StateRunning }

func (s *RunStatus) clone() RunStatus {
	c := *s
	c.Tables = append([]string(nil), s.Tables...)
	c.Outcomes = append([]transfer.Outcome(nil), s.Outcomes...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// EventType identifies a progress event.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventTablesListed   EventType = "tables_listed"
	EventTableStarted   EventType = "table_started"
	EventBatchCommitted EventType = "batch_committed"
	EventTableOutcome   EventType = "table_outcome"
	EventRunFinished    EventType = "run_finished"
)

// Event reports run progress to observers.
type Event struct {
	Type      EventType         `json:"type"`
	RunID     string            `json:"run_id"`
	Table     string            `json:"table,omitempty"`
	Tables    []string          `json:"tables,omitempty"`
	BatchRows int               `json:"batch_rows,omitempty"`
	TableRows int64             `json:"table_rows,omitempty"`
	Outcome   *transfer.Outcome `json:"outcome,omitempty"`
	Status    *RunStatus        `json:"status,omitempty"`
}

// Archiver copies a finished report elsewhere. *aws.ReportUploader satisfies it.
type Archiver interface {
	Upload(ctx context.Context, runID string, data []byte) (string, error)
}

// Engine dispatches transfers and keeps their status.
type Engine struct {
	Config   *config.Config
	Logger   *slog.Logger
	Leases   *lock.Manager
	Reports  *report.Store
	Archiver Archiver

	// OnEvent receives progress from every run. It is called from run
	// goroutines and must not block.
	OnEvent func(Event)

	// NewOrchestrator builds the orchestrator for one run.
	NewOrchestrator func() *transfer.Orchestrator

	mu    sync.Mutex
	runs  map[string]*runEntry
	order []string
	wg    sync.WaitGroup
}

type runEntry struct {
	status RunStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Engine using cfg's lease and report directories.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		Config:  cfg,
		Logger:  logger,
		Leases:  lock.NewManager(cfg.Lock.Directory),
		Reports: &report.Store{Dir: cfg.Reports.Directory},
		runs:    make(map[string]*runEntry),
	}
	e.NewOrchestrator = e.defaultOrchestrator
	return e
}

func (e *Engine) defaultOrchestrator() *transfer.Orchestrator {
	method, err := copier.ParseMethod(e.Config.Transfer.Method)
	if err != nil {
		method = copier.MethodInsert
	}
	return transfer.New(transfer.OptionsFromConfig(e.Config), e.Config.Transfer.BatchSize, method, e.Leases, e.Logger)
}

// Start begins a run in the background. Lease and connection failures are
// returned directly; everything after that is reported through the run's
// status.
func (e *Engine) Start(ctx context.Context, req Request) (*RunStatus, error) {
	o := e.NewOrchestrator()
	run, err := o.Begin(ctx, req.SourceURL, req.TargetURL)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	entry := e.register(run.ID(), o, req, cancel)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(entry.done)
		defer cancel()
		res, err := run.Execute(runCtx)
		e.finish(run.ID(), res, err)
	}()

	st, _ := e.Status(run.ID())
	return st, nil
}

// RunSync runs a transfer in the caller's goroutine and returns its report.
// ctx cancellation stops the run at the next table or batch boundary.
func (e *Engine) RunSync(ctx context.Context, req Request) (*transfer.Result, *report.RunReport, error) {
	o := e.NewOrchestrator()
	run, err := o.Begin(ctx, req.SourceURL, req.TargetURL)
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	entry := e.register(run.ID(), o, req, cancel)
	defer close(entry.done)

	res, err := run.Execute(runCtx)
	rep := e.finish(run.ID(), res, err)
	return res, rep, err
}

func (e *Engine) register(id string, o *transfer.Orchestrator, req Request, cancel context.CancelFunc) *runEntry {
	entry := &runEntry{
		status: RunStatus{
			ID:        id,
			State:     StateRunning,
			Source:    database.Redact(req.SourceURL),
			Target:    database.Redact(req.TargetURL),
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.Hooks = transfer.Hooks{
		OnTables: func(tables []string) {
			e.update(id, func(s *RunStatus) { s.Tables = tables })
			e.emit(Event{Type: EventTablesListed, RunID: id, Tables: tables})
		},
		OnTableStart: func(table string) {
			e.update(id, func(s *RunStatus) { s.CurrentTable = table })
			e.emit(Event{Type: EventTableStarted, RunID: id, Table: table})
		},
		OnBatch: func(table string, batchRows int, tableRows int64) {
			e.update(id, func(s *RunStatus) { s.RowsCopied += int64(batchRows) })
			e.emit(Event{Type: EventBatchCommitted, RunID: id, Table: table, BatchRows: batchRows, TableRows: tableRows})
		},
		OnOutcome: func(out transfer.Outcome) {
			e.update(id, func(s *RunStatus) {
				s.CurrentTable = ""
				s.Outcomes = append(s.Outcomes, out)
			})
			e.emit(Event{Type: EventTableOutcome, RunID: id, Table: out.Table, Outcome: &out})
		},
	}

	e.mu.Lock()
	e.runs[id] = entry
	e.order = append(e.order, id)
	snap := entry.status.clone()
	e.mu.Unlock()

	e.emit(Event{Type: EventRunStarted, RunID: id, Status: &snap})
	return entry
}

// finish records the result, writes the report and archives it.
func (e *Engine) finish(id string, res *transfer.Result, runErr error) *report.RunReport {
	var rep *report.RunReport
	if res != nil {
		rep = report.FromResult(res, runErr)
	}

	var reportPath, archiveURI string
	if rep != nil && e.Reports != nil {
		p, err := e.Reports.Save(rep)
		if err != nil {
			e.Logger.Error("saving run report", "run_id", id, "error", err)
		} else {
			reportPath = p
		}
		if e.Archiver != nil {
			archiveURI = e.archive(rep)
			if archiveURI != "" && reportPath != "" {
				if _, err := e.Reports.Save(rep); err != nil {
					e.Logger.Warn("recording archive location", "run_id", id, "error", err)
				}
			}
		}
	}

	now := time.Now()
	e.update(id, func(s *RunStatus) {
		s.FinishedAt = &now
		s.CurrentTable = ""
		s.ReportPath = reportPath
		s.ArchiveURI = archiveURI
		switch {
		case rep != nil:
			s.State = rep.Status
		default:
			s.State = report.StatusFailed
		}
		if runErr != nil {
			s.Error = runErr.Error()
		}
	})

	st, _ := e.Status(id)
	e.emit(Event{Type: EventRunFinished, RunID: id, Status: st})
	return rep
}

func (e *Engine) archive(rep *report.RunReport) string {
	data, err := json.Marshal(rep)
	if err != nil {
		e.Logger.Error("encoding report for archive", "run_id", rep.RunID, "error", err)
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	uri, err := e.Archiver.Upload(ctx, rep.RunID, data)
	if err != nil {
		e.Logger.Warn("archiving run report", "run_id", rep.RunID, "error", err)
		return ""
	}
	rep.ArchiveURI = uri
	return uri
}

func (e *Engine) update(id string, fn func(*RunStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.runs[id]; ok {
		fn(&entry.status)
	}
}

func (e *Engine) emit(ev Event) {
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}

// Status returns a snapshot of one run.
func (e *Engine) Status(id string) (*RunStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.runs[id]
	if !ok {
		return nil, false
	}
	s := entry.status.clone()
	return &s, true
}

// List returns snapshots of all runs in start order.
func (e *Engine) List() []RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RunStatus, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.runs[id].status.clone())
	}
	return out
}

// Cancel asks a running transfer to stop at the next table or batch
// boundary.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if entry.status.Finished() {
		return fmt.Errorf("%w: %s", ErrRunFinished, id)
	}
	entry.cancel()
	return nil
}

// Wait blocks until the background run finishes or ctx ends.
func (e *Engine) Wait(ctx context.Context, id string) error {
	e.mu.Lock()
	entry, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	select {
	case <-entry.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running transfer and waits for them to stop.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, entry := range e.runs {
		if !entry.status.Finished() {
			entry.cancel()
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
