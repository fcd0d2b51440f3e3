package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgmirror/pgmirror/internal/catalog"
	"github.com/pgmirror/pgmirror/internal/database"
	"github.com/pgmirror/pgmirror/internal/discovery"
	"github.com/pgmirror/pgmirror/internal/schema"
	"github.com/pgmirror/pgmirror/internal/validation"
)

var (
	validateSchemaFile string
	validateJSON       bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare source and target row counts",
	Long: `Count the rows of every selected table in both databases and report any
difference. Tables come from the source catalog, or from a schema file written
by discover.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Source.ConnectionString = stringFlag(cmd, "source", cfg.Source.ConnectionString)
		cfg.Target.ConnectionString = stringFlag(cmd, "target", cfg.Target.ConnectionString)
		if err := cfg.RequireConnections(); err != nil {
			return err
		}

		ctx := context.Background()
		src, err := database.Connect(ctx, database.RoleSource, cfg.Source.ConnectionString)
		if err != nil {
			return err
		}
		defer src.Close(ctx)
		dst, err := database.Connect(ctx, database.RoleTarget, cfg.Target.ConnectionString)
		if err != nil {
			return err
		}
		defer dst.Close(ctx)

		var tables []schema.Table
		if validateSchemaFile != "" {
			s, err := schema.LoadYAML(validateSchemaFile)
			if err != nil {
				return err
			}
			tables = s.Tables
		} else {
			names, err := catalog.ListBaseTables(ctx, src, cfg.Source.Schema)
			if err != nil {
				return err
			}
			names = catalog.Filter(names, cfg.Transfer.Tables, cfg.Transfer.ExcludeTables)
			s, skipped, err := discovery.DiscoverSchema(ctx, src, discovery.Postgres{}, cfg.Source.Schema, names)
			if err != nil {
				return err
			}
			for _, sk := range skipped {
				fmt.Fprintf(os.Stderr, "skipped %s: %v\n", sk.Table, sk.Err)
			}
			tables = s.Tables
		}

		v := &validation.Validator{
			Source: src,
			Target: dst,
			Callback: func(table string, passed bool) {
				if validateJSON {
					return
				}
				status := validation.StatusPass
				if !passed {
					status = validation.StatusFail
				}
				fmt.Printf("  [%s] %s\n", status, table)
			},
		}
		if !validateJSON {
			fmt.Printf("Validating %d tables...\n", len(tables))
		}
		result, err := v.Validate(ctx, tables)
		if err != nil {
			return fmt.Errorf("validation: %w", err)
		}

		if validateJSON {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
		} else {
			for _, t := range result.Tables {
				switch {
				case t.Error != "":
					fmt.Printf("  %s: %s\n", t.Name, t.Error)
				case t.RowCountCheck != nil && !t.RowCountCheck.Match:
					rc := t.RowCountCheck
					fmt.Printf("  %s: source %d rows, target %d rows\n", t.Name, rc.SourceCount, rc.TargetCount)
				}
			}
			fmt.Printf("\nOverall: %s\n", result.Status)
		}

		if result.Status != validation.StatusPass {
			return errors.New("row counts differ")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("source", "", "source connection string (overrides config)")
	validateCmd.Flags().String("target", "", "target connection string (overrides config)")
	validateCmd.Flags().StringVarP(&validateSchemaFile, "schema-file", "f", "", "validate the tables listed in this schema YAML")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(validateCmd)
}
