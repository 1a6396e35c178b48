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
	"github.com/spf13/viper"

	"github.com/ameliahq/amelia/internal/adapters/state"
	"github.com/ameliahq/amelia/internal/api"
	"github.com/ameliahq/amelia/internal/config"
	"github.com/ameliahq/amelia/internal/core"
	"github.com/ameliahq/amelia/internal/events"
	"github.com/ameliahq/amelia/internal/logging"
	"github.com/ameliahq/amelia/internal/service/orchestrator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workflow orchestrator server",
	Long: `Start the Amelia server.

The server exposes the workflow REST API and SSE event stream, runs the
worktree health checker, and drains active workflows gracefully on
SIGINT/SIGTERM.

Examples:
  # Start with defaults (127.0.0.1:7420)
  amelia serve

  # Custom listen address
  amelia serve --addr 0.0.0.0:8080`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"listen address (default from config, 127.0.0.1:7420)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	})

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := state.NewSQLiteEventStore(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("closing event store", "error", closeErr)
		}
	}()

	bus := events.NewBus(logger.Logger)
	orch := orchestrator.New(store, bus, cfg.Orchestrator, stagedRunner(), logger.Logger)
	checker := orchestrator.NewHealthChecker(orch, cfg.Orchestrator.HealthCheckInterval, logger.Logger)
	retention := orchestrator.NewRetentionCollector(store, cfg.Retention, logger.Logger)
	lifecycle := orchestrator.NewLifecycle(orch, checker, retention, cfg.Orchestrator.ShutdownTimeout, logger.Logger)

	ctx := context.Background()
	if err := lifecycle.Startup(ctx); err != nil {
		return fmt.Errorf("starting lifecycle: %w", err)
	}

	apiServer := api.NewServer(orch, lifecycle, bus, api.WithLogger(logger.Logger))
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"addr", cfg.Server.Addr,
		"state_path", cfg.State.Path,
		"max_concurrent", cfg.Orchestrator.MaxConcurrent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// Drain workflows first so in-flight SSE clients see the terminal
	// events, then stop accepting connections.
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("lifecycle shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// stagedRunner is the built-in workflow body: an architect stage whose
// output is gated on human approval, then developer and reviewer
// stages. Deployments embedding amelia swap in their own runner.
func stagedRunner() orchestrator.Runner {
	return func(ctx context.Context, rc *orchestrator.RunContext) error {
		stages := []string{"architect", "developer", "reviewer"}

		for i, agent := range stages {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := rc.Emit(ctx, core.EventStageStarted, agent+" stage started",
				orchestrator.WithAgent(agent)); err != nil {
				return err
			}

			// The plan produced by the architect needs a human sign-off
			// before any code is touched.
			if i == 0 {
				decision, err := rc.AwaitApproval(ctx)
				if err != nil {
					return err
				}
				if !decision.Approved {
					return errors.New("plan rejected: " + decision.Feedback)
				}
			}

			if err := rc.Emit(ctx, core.EventStageCompleted, agent+" stage completed",
				orchestrator.WithAgent(agent)); err != nil {
				return err
			}
		}
		return nil
	}
}
