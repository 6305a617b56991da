/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payment and margin engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and configuration (file, PAYFLOW_ env, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --port     HTTP server port (default: 8080)
  --db       SQLite database path (default: payflow.db)
             Use ":memory:" for in-memory database
  --config   Config file (default: ./config.toml when present)
  --env-file .env file to load first (default: .env when present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./payflow-server --db=./data/payflow.db

  # Run with in-memory database on another port
  ./payflow-server --db=":memory:" --port=3000

  # Environment overrides
  PAYFLOW_WORKFLOW_SPLIT_STRICT=false ./payflow-server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/payment-engine/api"
	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/config"
	"github.com/warp/payment-engine/logger"
	"github.com/warp/payment-engine/store/sqlite"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile, envFile string

	cmd := &cobra.Command{
		Use:   "payflow-server",
		Short: "Payment workflow and margin calculation engine",
		Long: `payflow-server calculates invoice margins and turns invoices into
payment records under the GROSS, PAYROLL, PAYROLL_WE_PAY and SPLIT models.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var envFiles []string
			if envFile != "" {
				envFiles = append(envFiles, envFile)
			}
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("port", "", "HTTP server port (default 8080)")
	flags.String("db", "", `SQLite database path, ":memory:" for in-memory (default payflow.db)`)
	flags.StringVar(&configFile, "config", "", "config file (default ./config.toml when present)")
	flags.StringVar(&envFile, "env-file", "", "env file loaded before configuration (default .env when present)")
	v.BindPFlag("app.port", flags.Lookup("port"))
	v.BindPFlag("database.path", flags.Lookup("db"))

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Logger())
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	audit := billing.MultiSink{store, logger.NewAuditSink(log)}
	handler := api.NewHandler(store, audit, log, cfg.Dispatch())
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         log,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		AllowedMethods: cfg.HTTP.CORSAllowMethods,
		AllowedHeaders: cfg.HTTP.CORSAllowHeaders,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
