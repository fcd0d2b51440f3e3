package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pgmirror/pgmirror/internal/config"
	"github.com/pgmirror/pgmirror/internal/copier"
	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/report"
	"github.com/pgmirror/pgmirror/internal/transfer"
	"github.com/pgmirror/pgmirror/internal/tui"
)

var (
	transferBatchSize int
	transferTables    []string
	transferExclude   []string
	transferVerify    bool
	transferDryRun    bool
	transferTUI       bool
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Copy every base table from the source to the target",
	Long: `Recreate each base table of the source schema in the target and copy its rows.
Existing target tables with the same name are dropped first. A table that fails
is recorded and the run continues with the next one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyTransferFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if transferDryRun {
			if cfg.Source.ConnectionString == "" {
				return errors.New("source.connection_string is required")
			}
			return runDryRun(ctx, cfg)
		}
		if err := cfg.RequireConnections(); err != nil {
			return err
		}

		var console io.Writer = os.Stderr
		if transferTUI {
			console = nil
		}
		logger, closeLog, err := setupLogger(cfg, console)
		if err != nil {
			return err
		}
		defer closeLog()

		eng, err := newEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		req := engine.Request{SourceURL: cfg.Source.ConnectionString, TargetURL: cfg.Target.ConnectionString}

		var rep *report.RunReport
		if transferTUI {
			_, rep, err = tui.Run(ctx, eng, os.Stdout, func(ctx context.Context) (*transfer.Result, *report.RunReport, error) {
				return eng.RunSync(ctx, req)
			})
		} else {
			_, rep, err = eng.RunSync(ctx, req)
		}
		if rep != nil {
			fmt.Println(report.Render(rep))
		}
		if err != nil {
			return err
		}
		if rep.Summary.Failed > 0 {
			return errTablesFailed
		}
		return nil
	},
}

func applyTransferFlags(cmd *cobra.Command, cfg *config.Config) {
	cfg.Source.ConnectionString = stringFlag(cmd, "source", cfg.Source.ConnectionString)
	cfg.Target.ConnectionString = stringFlag(cmd, "target", cfg.Target.ConnectionString)
	cfg.Source.Schema = stringFlag(cmd, "schema", cfg.Source.Schema)
	cfg.Transfer.Method = stringFlag(cmd, "method", cfg.Transfer.Method)
	if cmd.Flags().Changed("batch-size") {
		cfg.Transfer.BatchSize = transferBatchSize
	}
	if cmd.Flags().Changed("tables") {
		cfg.Transfer.Tables = transferTables
	}
	if cmd.Flags().Changed("exclude-tables") {
		cfg.Transfer.ExcludeTables = transferExclude
	}
	if cmd.Flags().Changed("verify") {
		cfg.Transfer.VerifyRowCounts = transferVerify
	}
}

// runDryRun extracts every selected definition from the source and prints
// the statements a transfer would run against the target.
func runDryRun(ctx context.Context, cfg *config.Config) error {
	logger, closeLog, err := setupLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	method, err := copier.ParseMethod(cfg.Transfer.Method)
	if err != nil {
		return err
	}
	o := transfer.New(transfer.OptionsFromConfig(cfg), cfg.Transfer.BatchSize, method, nil, logger)
	s, skipped, err := o.Plan(ctx, cfg.Source.ConnectionString)
	if err != nil {
		return err
	}

	fmt.Println("Dry run — no changes made to the target.")
	fmt.Println(s.Summary())
	fmt.Println()
	for _, t := range s.Tables {
		fmt.Printf("-- %s: drop and recreate\n", t.QualifiedName())
	}
	for _, sk := range skipped {
		fmt.Printf("-- %s: skipped (%v)\n", sk.Table, sk.Err)
	}
	fmt.Println()

	ddl, err := s.DDL()
	if err != nil {
		return err
	}
	fmt.Println(ddl)
	return nil
}

func init() {
	f := transferCmd.Flags()
	f.String("source", "", "source connection string (overrides config)")
	f.String("target", "", "target connection string (overrides config)")
	f.String("schema", "", "source schema (default public)")
	f.String("method", "", "write method: insert or copy")
	f.IntVar(&transferBatchSize, "batch-size", config.DefaultBatchSize, "rows per committed batch")
	f.StringSliceVar(&transferTables, "tables", nil, "only transfer these tables")
	f.StringSliceVar(&transferExclude, "exclude-tables", nil, "skip these tables")
	f.BoolVar(&transferVerify, "verify", false, "compare row counts after each table")
	f.BoolVar(&transferDryRun, "dry-run", false, "print the plan and DDL without touching the target")
	f.BoolVar(&transferTUI, "tui", false, "show a live progress view")
	rootCmd.AddCommand(transferCmd)
}
