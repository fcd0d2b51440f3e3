// Package transfer copies every base table of a source schema into a target
// database, one table at a time, isolating failures per table.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pgmirror/pgmirror/internal/catalog"
	"github.com/pgmirror/pgmirror/internal/config"
	"github.com/pgmirror/pgmirror/internal/copier"
	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/discovery"
	"github.com/pgmirror/pgmirror/internal/lock"
	"github.com/pgmirror/pgmirror/internal/schema"
	"github.com/pgmirror/pgmirror/internal/target"
	"github.com/pgmirror/pgmirror/internal/validation"
)

// ErrAlreadyExecuted is returned when Execute is called on a finished run.
var ErrAlreadyExecuted = errors.New("run already executed")

// ErrSameDatabase is returned when the source and target address the same
// database. Preparing the target would drop the source tables.
var ErrSameDatabase = errors.New("source and target are the same database")

// Leaser hands out target leases. *lock.Manager satisfies it.
type Leaser interface {
	Acquire(identity string) (*lock.Lease, error)
}

// Options select which tables are transferred and what happens after a copy.
type Options struct {
	Schema         string
	Tables         []string
	ExcludeTables  []string
	OnCatalogError string // fail or empty
	Verify         bool
	SyncSequences  bool
}

// OptionsFromConfig maps the transfer section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Schema:         cfg.Source.Schema,
		Tables:         cfg.Transfer.Tables,
		ExcludeTables:  cfg.Transfer.ExcludeTables,
		OnCatalogError: cfg.Transfer.OnCatalogError,
		Verify:         cfg.Transfer.VerifyRowCounts,
		SyncSequences:  cfg.Transfer.SequenceSync(),
	}
}

// Hooks observe a run's progress. All are optional and called from the run's
// goroutine.
type Hooks struct {
	OnTables     func(tables []string)
	OnTableStart func(table string)
	OnBatch      copier.BatchFunc
	OnOutcome    func(Outcome)
}

// Orchestrator sequences the transfer of each table.
type Orchestrator struct {
	Connect   database.ConnectFunc
	Leases    Leaser
	Catalog   catalog.Lister
	Extractor discovery.Extractor
	Preparer  target.Preparer
	Copier    copier.Copier
	Sequences target.SequenceSyncer
	Verifier  validation.Verifier

	Options Options
	Hooks   Hooks
	Logger  *slog.Logger
}

// New returns an Orchestrator wired to PostgreSQL.
func New(opts Options, batchSize int, method copier.Method, leases Leaser, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Connect:   database.Connect,
		Leases:    leases,
		Catalog:   catalog.Reader{},
		Extractor: discovery.Postgres{},
		Preparer:  target.Postgres{},
		Copier:    &copier.Postgres{BatchSize: batchSize, Method: method},
		Sequences: target.Sequences{},
		Verifier:  validation.RowCounts{},
		Options:   opts,
		Logger:    logger,
	}
}

// Run is a transfer that holds its lease and both connections.
type Run struct {
	o      *Orchestrator
	src    database.Session
	dst    database.Session
	lease  *lock.Lease
	result *Result

	mu       sync.Mutex
	executed bool
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.result.RunID }

// Begin acquires the target lease and opens both connections. Errors are
// fatal to the run: *database.ConnectionError, ErrSameDatabase or lock.ErrHeld.
func (o *Orchestrator) Begin(ctx context.Context, sourceURL, targetURL string) (*Run, error) {
	identity, err := database.Identity(targetURL)
	if err != nil {
		return nil, &database.ConnectionError{Role: database.RoleTarget, Err: err}
	}
	sourceIdentity, err := database.Identity(sourceURL)
	if err != nil {
		return nil, &database.ConnectionError{Role: database.RoleSource, Err: err}
	}
	if sourceIdentity == identity {
		return nil, fmt.Errorf("%w: %s", ErrSameDatabase, identity)
	}

	lease, err := o.Leases.Acquire(identity)
	if err != nil {
		return nil, err
	}

	src, err := o.Connect(ctx, database.RoleSource, sourceURL)
	if err != nil {
		lease.Release()
		return nil, err
	}
	dst, err := o.Connect(ctx, database.RoleTarget, targetURL)
	if err != nil {
		src.Close(context.WithoutCancel(ctx))
		lease.Release()
		return nil, err
	}

	schemaName := o.Options.Schema
	if schemaName == "" {
		schemaName = catalog.DefaultSchema
	}
	return &Run{
		o:     o,
		src:   src,
		dst:   dst,
		lease: lease,
		result: &Result{
			RunID:     uuid.NewString(),
			Source:    database.Redact(sourceURL),
			Target:    database.Redact(targetURL),
			Schema:    schemaName,
			StartedAt: time.Now(),
		},
	}, nil
}

// Run begins and executes a transfer.
func (o *Orchestrator) Run(ctx context.Context, sourceURL, targetURL string) (*Result, error) {
	run, err := o.Begin(ctx, sourceURL, targetURL)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// Execute transfers every selected table and releases the run's resources.
// Table failures are recorded in the result; only a catalog failure under the
// fail policy returns an error. Cancellation stops before the next table or
// batch and sets Result.Cancelled.
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.executed {
		r.mu.Unlock()
		return nil, ErrAlreadyExecuted
	}
	r.executed = true
	r.mu.Unlock()
	defer r.release(ctx)

	o := r.o
	res := r.result
	log := o.Logger.With("run_id", res.RunID)
	log.Info("transfer started", "source", res.Source, "target", res.Target, "schema", res.Schema)

	tables, err := o.Catalog.ListBaseTables(ctx, r.src, res.Schema)
	if err != nil {
		if o.Options.OnCatalogError != config.OnCatalogErrorEmpty {
			res.FinishedAt = time.Now()
			log.Error("listing tables failed", "error", err)
			return res, err
		}
		log.Warn("listing tables failed, transferring nothing", "error", err)
		res.Warnings = append(res.Warnings, err.Error())
		tables = nil
	} else {
		tables = o.selectTables(tables)
	}
	if o.Hooks.OnTables != nil {
		o.Hooks.OnTables(tables)
	}

	for _, name := range tables {
		if ctx.Err() != nil {
			break
		}
		out := r.transferTable(ctx, log, name)
		res.Outcomes = append(res.Outcomes, out)
		if o.Hooks.OnOutcome != nil {
			o.Hooks.OnOutcome(out)
		}
	}
	if ctx.Err() != nil {
		res.Cancelled = true
	}

	res.FinishedAt = time.Now()
	log.Info("transfer finished",
		"copied", res.Count(StatusCopied),
		"skipped", res.Count(StatusSkipped),
		"failed", res.Count(StatusFailed),
		"rows", res.TotalRows(),
		"cancelled", res.Cancelled,
		"duration", res.Duration().Round(time.Millisecond),
	)
	return res, nil
}

// selectTables filters the listed tables. Requested names missing from the
// listing are kept at the end so extraction reports them as skipped.
func (o *Orchestrator) selectTables(listed []string) []string {
	inc, exc := o.Options.Tables, o.Options.ExcludeTables
	return append(catalog.Filter(listed, inc, exc), catalog.Unmatched(listed, inc, exc)...)
}

func (r *Run) release(ctx context.Context) {
	closeCtx := context.WithoutCancel(ctx)
	if err := r.src.Close(closeCtx); err != nil {
		r.o.Logger.Warn("closing source connection", "error", err)
	}
	if err := r.dst.Close(closeCtx); err != nil {
		r.o.Logger.Warn("closing target connection", "error", err)
	}
	if err := r.lease.Release(); err != nil {
		r.o.Logger.Warn("releasing target lease", "error", err)
	}
}

func (r *Run) transferTable(ctx context.Context, log *slog.Logger, name string) Outcome {
	o := r.o
	if o.Hooks.OnTableStart != nil {
		o.Hooks.OnTableStart(name)
	}
	start := time.Now()
	out := Outcome{Table: name}
	finish := func(status Status, err error) Outcome {
		out.Status = status
		out.Duration = time.Since(start)
		if err != nil {
			out.Err = err
			out.Error = err.Error()
		}
		attrs := []any{"table", out.Table, "status", out.Status, "rows", out.Rows}
		switch status {
		case StatusCopied:
			log.Info("table transferred", attrs...)
		case StatusSkipped:
			log.Warn("table skipped", append(attrs, "error", err)...)
		default:
			log.Error("table failed", append(attrs, "error", err)...)
		}
		return out
	}

	def, err := o.Extractor.Extract(ctx, r.src, r.result.Schema, name)
	if err != nil {
		return finish(StatusSkipped, err)
	}
	out.Table = def.Name

	tr, err := o.Preparer.Prepare(ctx, r.dst, def)
	if err != nil {
		return finish(StatusFailed, err)
	}
	out.Transition = &tr

	stats, err := o.Copier.Copy(ctx, r.src, r.dst, def, o.Hooks.OnBatch)
	out.Rows, out.Batches = stats.Rows, stats.Batches
	if err != nil {
		return finish(StatusFailed, err)
	}

	if o.Options.SyncSequences && o.Sequences != nil {
		out.Warnings = append(out.Warnings, o.Sequences.SyncSequences(ctx, r.src, r.dst, def)...)
	}
	if o.Options.Verify && o.Verifier != nil {
		if err := o.Verifier.Verify(ctx, r.src, r.dst, def); err != nil {
			return finish(StatusFailed, err)
		}
	}
	return finish(StatusCopied, nil)
}

// Plan connects to the source only and extracts the definition of every
// selected table without touching any target.
func (o *Orchestrator) Plan(ctx context.Context, sourceURL string) (*schema.Schema, []discovery.Skipped, error) {
	src, err := o.Connect(ctx, database.RoleSource, sourceURL)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close(context.WithoutCancel(ctx))

	schemaName := o.Options.Schema
	if schemaName == "" {
		schemaName = catalog.DefaultSchema
	}
	tables, err := o.Catalog.ListBaseTables(ctx, src, schemaName)
	if err != nil {
		if o.Options.OnCatalogError != config.OnCatalogErrorEmpty {
			return nil, nil, err
		}
		o.Logger.Warn("listing tables failed", "error", err)
	} else {
		tables = o.selectTables(tables)
	}
	if o.Hooks.OnTables != nil {
		o.Hooks.OnTables(tables)
	}

	s, skipped, err := discovery.DiscoverSchema(ctx, src, o.Extractor, schemaName, tables)
	if err != nil {
		return nil, nil, fmt.Errorf("extracting definitions: %w", err)
	}
	if id, err := database.Identity(sourceURL); err == nil {
		s.Database = id
	}
	return s, skipped, nil
}
