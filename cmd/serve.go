package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgmirror/pgmirror/internal/api"
	"github.com/pgmirror/pgmirror/internal/ws"
)

var (
	servePort    int
	serveDevMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve the transfer API. POST /transfer starts a run in the background and
/api/ws streams its progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, closeLog, err := setupLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, err := newEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}

		hubCtx, stopHub := context.WithCancel(context.Background())
		defer stopHub()
		hub := ws.NewHub(logger)
		go hub.Run(hubCtx)

		srv := api.New(eng, logger, cfg.Server.Port,
			api.WithHost(cfg.Server.Host),
			api.WithHub(hub),
			api.WithDevMode(serveDevMode),
		)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		fmt.Fprintf(os.Stderr, "pgmirror API: http://%s\n", srv.Addr())

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			if err := eng.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("stopping running transfers: %w", err)
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8230, "port for the API server")
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "enable CORS for development mode")
	rootCmd.AddCommand(serveCmd)
}
