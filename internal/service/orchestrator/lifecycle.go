package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Lifecycle coordinates startup recovery and bounded graceful shutdown.
// The shutting-down flag is observable by transport middleware so new
// workflow starts can be rejected while the server drains.
type Lifecycle struct {
	orch      *Orchestrator
	health    *HealthChecker
	retention *RetentionCollector
	logger    *slog.Logger

	shutdownTimeout time.Duration
	shuttingDown    atomic.Bool
}

// NewLifecycle wires the lifecycle manager.
func NewLifecycle(orch *Orchestrator, health *HealthChecker, retention *RetentionCollector, shutdownTimeout time.Duration, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		orch:            orch,
		health:          health,
		retention:       retention,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// ShuttingDown reports whether shutdown has begun.
func (l *Lifecycle) ShuttingDown() bool {
	return l.shuttingDown.Load()
}

// Startup recovers workflows interrupted by the previous process and
// starts the health checker.
func (l *Lifecycle) Startup(ctx context.Context) error {
	recovered, err := l.orch.RecoverInterruptedWorkflows(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		l.logger.Warn("previous run left interrupted workflows", "count", recovered)
	}

	l.health.Start()
	l.logger.Info("orchestrator lifecycle started")
	return nil
}

// Shutdown drains gracefully: reject new starts, wait up to the
// shutdown timeout for active workflows to finish, force-cancel the
// stragglers, stop the health checker and run retention.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	if !l.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	l.logger.Info("shutting down",
		"active_workflows", l.orch.ActiveCount(),
		"timeout", l.shutdownTimeout.String())

	l.waitForDrain(ctx)

	if remaining := l.orch.ActiveCount(); remaining > 0 {
		l.logger.Warn("forcing cancellation of remaining workflows", "count", remaining)
		l.orch.CancelAllWorkflows(2 * time.Second)
	}

	l.health.Stop()

	// Retention must run even when the shutdown context is cancelled.
	events, workflows, err := l.retention.CleanupOnShutdown(context.WithoutCancel(ctx))
	if err != nil {
		l.logger.Error("retention cleanup failed", "error", err)
	} else {
		l.logger.Info("shutdown complete",
			"events_pruned", events, "workflows_pruned", workflows)
	}
	return nil
}

// waitForDrain polls the active count until it reaches zero or the
// shutdown timeout elapses.
func (l *Lifecycle) waitForDrain(ctx context.Context) {
	deadline := time.After(l.shutdownTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.orch.ActiveCount() == 0 {
			return
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}
