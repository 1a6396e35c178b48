package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// worktreeCancelReason is recorded when a health sweep finds an active
// workflow's worktree gone.
const worktreeCancelReason = "Worktree directory no longer exists"

// HealthChecker periodically verifies that every active workflow's
// worktree still exists and looks like a git working tree. Workflows
// whose worktree disappeared are cancelled.
type HealthChecker struct {
	orch         *Orchestrator
	interval     time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewHealthChecker creates a health checker sweeping at interval.
func NewHealthChecker(orch *Orchestrator, interval time.Duration, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		orch:         orch,
		interval:     interval,
		probeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Start launches the background sweep loop. Calling Start on a running
// checker is a no-op.
func (h *HealthChecker) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return
	}
	h.stop = make(chan struct{})
	h.stopped = make(chan struct{})
	go h.loop(h.stop, h.stopped)
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	stop, stopped := h.stop, h.stopped
	h.stop, h.stopped = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

func (h *HealthChecker) loop(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep(context.Background())
		case <-stop:
			return
		}
	}
}

// Sweep probes every active worktree in parallel and cancels workflows
// whose worktree is gone. Exported for tests and the doctor command.
func (h *HealthChecker) Sweep(ctx context.Context) {
	worktrees := h.orch.ActiveWorktrees()
	if len(worktrees) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, path := range worktrees {
		g.Go(func() error {
			if h.probe(gctx, path) {
				return nil
			}
			h.cancelDead(gctx, path)
			return nil
		})
	}
	_ = g.Wait()
}

// probe reports whether path is a directory containing a .git entry.
// The stat runs on its own goroutine so a hung network filesystem
// cannot stall the sweep past the probe timeout.
func (h *HealthChecker) probe(ctx context.Context, path string) bool {
	result := make(chan bool, 1)
	go func() {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			result <- false
			return
		}
		// .git may be a directory or a file (linked worktrees).
		_, err = os.Stat(filepath.Join(path, ".git"))
		result <- err == nil
	}()

	select {
	case ok := <-result:
		return ok
	case <-time.After(h.probeTimeout):
		h.logger.Warn("worktree probe timed out", "worktree_path", path)
		return true // inconclusive, do not kill the workflow
	case <-ctx.Done():
		return true
	}
}

func (h *HealthChecker) cancelDead(ctx context.Context, path string) {
	wf, err := h.orch.WorkflowByWorktree(ctx, path)
	if err != nil {
		h.logger.Error("resolving workflow for dead worktree failed",
			"worktree_path", path, "error", err)
		return
	}
	if wf == nil {
		return
	}

	h.logger.Warn("worktree disappeared, cancelling workflow",
		"workflow_id", string(wf.ID), "worktree_path", path)
	h.orch.CancelWorkflow(wf.ID, worktreeCancelReason)
}
