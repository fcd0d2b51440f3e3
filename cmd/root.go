package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

// errTablesFailed makes the process exit 1 after a run that finished with
// failed tables. The report has already been printed.
var errTablesFailed = errors.New("one or more tables failed")

var rootCmd = &cobra.Command{
	Use:   "pgmirror",
	Short: "pgmirror — PostgreSQL to PostgreSQL schema and data copy",
	Long: `pgmirror replicates the base tables of one PostgreSQL schema into another
database: it discovers each table's definition, recreates it in the target
and copies every row in batches, isolating failures per table.`,
	SilenceUsage: true,
}

func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.pgmirror/pgmirror.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}
