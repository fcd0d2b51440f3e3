package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/lock"
	"github.com/pgmirror/pgmirror/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the target lease and the latest run report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if cfg.Target.ConnectionString != "" {
			identity, err := database.Identity(cfg.Target.ConnectionString)
			if err != nil {
				return fmt.Errorf("target connection string: %w", err)
			}
			held, pid, err := lock.NewManager(cfg.Lock.Directory).IsHeld(identity)
			if err != nil {
				return fmt.Errorf("checking lease: %w", err)
			}
			fmt.Printf("Target: %s\n", database.Redact(cfg.Target.ConnectionString))
			if held {
				fmt.Printf("Lease:  held by pid %d (a transfer is running)\n", pid)
			} else {
				fmt.Println("Lease:  free")
			}
			fmt.Println()
		}

		store := &report.Store{Dir: cfg.Reports.Directory}
		rep, err := store.Latest()
		if errors.Is(err, report.ErrNoReports) {
			fmt.Println("No transfers have run yet.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(report.Render(rep))
		fmt.Printf("Report: %s\n", store.Path(rep.RunID))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
