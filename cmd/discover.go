package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgmirror/pgmirror/internal/copier"
	"github.com/pgmirror/pgmirror/internal/transfer"
)

var (
	discoverOutput string
	discoverDDL    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Extract the source schema's table definitions",
	Long:  `Connect to the source database and extract every base table's columns, primary key and owned sequences.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Source.ConnectionString = stringFlag(cmd, "source", cfg.Source.ConnectionString)
		cfg.Source.Schema = stringFlag(cmd, "schema", cfg.Source.Schema)
		if cfg.Source.ConnectionString == "" {
			return fmt.Errorf("source.connection_string is required")
		}

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

		s, skipped, err := o.Plan(context.Background(), cfg.Source.ConnectionString)
		if err != nil {
			return fmt.Errorf("discovering schema: %w", err)
		}
		for _, sk := range skipped {
			fmt.Fprintf(os.Stderr, "skipped %s: %v\n", sk.Table, sk.Err)
		}

		if discoverDDL {
			ddl, err := s.DDL()
			if err != nil {
				return err
			}
			fmt.Println(ddl)
			return nil
		}

		if discoverOutput == "" {
			data, err := s.ToYAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}

		if err := s.WriteYAML(discoverOutput); err != nil {
			return fmt.Errorf("writing schema: %w", err)
		}
		fmt.Fprintln(os.Stderr, s.Summary())
		fmt.Fprintf(os.Stderr, "Schema written to %s\n", discoverOutput)
		return nil
	},
}

func init() {
	discoverCmd.Flags().String("source", "", "source connection string (overrides config)")
	discoverCmd.Flags().String("schema", "", "source schema (default public)")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "", "write the schema YAML to this file (default stdout)")
	discoverCmd.Flags().BoolVar(&discoverDDL, "ddl", false, "print CREATE statements instead of YAML")
	rootCmd.AddCommand(discoverCmd)
}
