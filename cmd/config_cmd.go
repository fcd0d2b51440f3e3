package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pgmirror/pgmirror/internal/config"
	"github.com/pgmirror/pgmirror/internal/database"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View, validate, and create the pgmirror configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  Source:\n")
		fmt.Printf("    Connection:     %s\n", maskConnection(cfg.Source.ConnectionString))
		fmt.Printf("    Schema:         %s\n", cfg.Source.Schema)
		fmt.Println()
		fmt.Printf("  Target:\n")
		fmt.Printf("    Connection:     %s\n", maskConnection(cfg.Target.ConnectionString))
		fmt.Println()
		fmt.Printf("  Transfer:\n")
		fmt.Printf("    Batch Size:     %d\n", cfg.Transfer.BatchSize)
		fmt.Printf("    Method:         %s\n", cfg.Transfer.Method)
		fmt.Printf("    Tables:         %s\n", listOrAll(cfg.Transfer.Tables))
		fmt.Printf("    Exclude:        %s\n", strings.Join(cfg.Transfer.ExcludeTables, ", "))
		fmt.Printf("    Catalog Error:  %s\n", cfg.Transfer.OnCatalogError)
		fmt.Printf("    Verify Counts:  %t\n", cfg.Transfer.VerifyRowCounts)
		fmt.Printf("    Sync Sequences: %t\n", cfg.Transfer.SequenceSync())
		fmt.Println()
		fmt.Printf("  Server:           %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  Leases:           %s\n", cfg.Lock.Directory)
		fmt.Printf("  Reports:          %s\n", cfg.Reports.Directory)
		if cfg.Reports.S3Bucket != "" {
			fmt.Printf("  Report Archive:   s3://%s/%s (%s)\n", cfg.Reports.S3Bucket, cfg.Reports.S3Prefix, cfg.Reports.Region)
			if cfg.Reports.S3Endpoint != "" {
				fmt.Printf("    Endpoint:       %s\n", cfg.Reports.S3Endpoint)
			}
			if cfg.Reports.Profile != "" {
				fmt.Printf("    Profile:        %s\n", cfg.Reports.Profile)
			}
		}
		fmt.Printf("  Logs:             %s (level %s, keep %d days)\n", cfg.Logging.Directory, cfg.Logging.Level, cfg.Logging.RetentionDays)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}

		var problems []string
		for _, err := range []error{cfg.Validate(), cfg.RequireConnections()} {
			if err != nil {
				problems = append(problems, strings.Split(err.Error(), "\n")...)
			}
		}
		for _, conn := range []string{cfg.Source.ConnectionString, cfg.Target.ConnectionString} {
			if conn == "" {
				continue
			}
			if _, err := database.Identity(conn); err != nil {
				problems = append(problems, err.Error())
			}
		}

		if len(problems) > 0 {
			fmt.Println("Validation errors:")
			for _, p := range problems {
				fmt.Printf("  - %s\n", p)
			}
			return fmt.Errorf("%d validation error(s)", len(problems))
		}

		fmt.Println("Configuration is valid.")
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long:  `Walk through prompts to create a pgmirror configuration file at ~/.pgmirror/pgmirror.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		fmt.Println("pgmirror Configuration Setup")
		fmt.Println("============================")
		fmt.Println()
		fmt.Println("Connection strings may reference secrets: ${ENV:NAME}, ${VAULT:path#key}, ${AWS_SM:secret-id}.")
		fmt.Println()

		cfg := config.Default()
		cfg.Source.ConnectionString = prompt(reader, "Source connection string", "postgres://localhost:5432/postgres")
		cfg.Source.Schema = prompt(reader, "Source schema", config.DefaultSchema)
		cfg.Target.ConnectionString = prompt(reader, "Target connection string", "")
		batch := prompt(reader, "Batch size", strconv.Itoa(config.DefaultBatchSize))
		n, err := strconv.Atoi(batch)
		if err != nil {
			return fmt.Errorf("invalid batch size: %s", batch)
		}
		cfg.Transfer.BatchSize = n
		cfg.Transfer.Method = prompt(reader, "Write method (insert/copy)", config.DefaultMethod)
		fmt.Println()

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid answers: %w", err)
		}

		cfgPath := config.ExpandHome(config.DefaultPath)
		if cfgFile != "" {
			cfgPath = cfgFile
		}
		if err := cfg.Save(cfgPath); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Printf("Config written to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  pgmirror discover            Inspect the source tables")
		fmt.Println("  pgmirror transfer --dry-run  Preview the recreate statements")
		fmt.Println("  pgmirror transfer            Copy every table")
		return nil
	},
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("  %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("  %s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// maskConnection hides the password of a parsable connection string and
// masks anything else, such as a secret reference.
func maskConnection(s string) string {
	if s == "" {
		return "(not set)"
	}
	if _, err := database.Identity(s); err == nil {
		return database.Redact(s)
	}
	return maskSecret(s)
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func listOrAll(tables []string) string {
	if len(tables) == 0 {
		return "(all)"
	}
	return strings.Join(tables, ", ")
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
