package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgmirror/pgmirror/internal/aws"
	"github.com/pgmirror/pgmirror/internal/config"
	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/logging"
)

// loadConfig reads --config (or the default path), falling back to defaults
// when no file exists, and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogger builds the process logger and prunes expired log files.
// console may be nil to log to the file only.
func setupLogger(cfg *config.Config, console io.Writer) (*slog.Logger, func(), error) {
	logger, closer, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory, console)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	if n, err := logging.Prune(cfg.Logging.Directory, cfg.Logging.RetentionDays, time.Now()); err != nil {
		logger.Warn("pruning old log files", "error", err)
	} else if n > 0 {
		logger.Debug("pruned old log files", "count", n)
	}
	return logger, func() { closer.Close() }, nil
}

// newEngine builds the run manager, archiving reports to S3 when a bucket
// is configured.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	eng := engine.New(cfg, logger)
	if cfg.Reports.S3Bucket != "" {
		client, err := aws.NewRealClient(ctx, aws.Options{
			Region:   cfg.Reports.Region,
			Profile:  cfg.Reports.Profile,
			Endpoint: cfg.Reports.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring report archive: %w", err)
		}
		eng.Archiver = aws.NewReportUploader(client, cfg.Reports.S3Bucket, cfg.Reports.S3Prefix)
	}
	return eng, nil
}

// stringFlag returns the flag's value if it was set on the command line.
func stringFlag(cmd *cobra.Command, name string, current string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return current
}
