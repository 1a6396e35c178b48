// Package orchestrator owns the active workflow set: admission, the
// per-workflow event sequence discipline, approval gates, cancellation
// and startup recovery.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ameliahq/amelia/internal/config"
	"github.com/ameliahq/amelia/internal/core"
	"github.com/google/uuid"
)

// Orchestrator coordinates workflow execution against isolated worktrees.
// It is the only writer of the event store and the only producer on the
// event bus.
type Orchestrator struct {
	store  core.EventStore
	bus    core.EventSink
	logger *slog.Logger
	cfg    config.OrchestratorConfig
	runner Runner

	mu        sync.Mutex
	byPath    map[string]*activeTask
	byID      map[core.WorkflowID]*activeTask
	sequences map[core.WorkflowID]*sequenceState

	approvals *approvalRegistry
}

// activeTask tracks one running workflow goroutine.
type activeTask struct {
	workflowID   core.WorkflowID
	worktreePath string
	cancel       context.CancelCauseFunc
	done         chan struct{}
}

// sequenceState serializes event emission for one workflow. The mutex is
// held across counter increment and the durable write, never across
// broadcast.
type sequenceState struct {
	mu          sync.Mutex
	initialized bool
	next        int64

	// broadcastMu orders bus delivery by sequence. It is acquired while
	// mu is still held and released after broadcast, so a slow
	// subscriber delays only delivery for this workflow, never sequence
	// assignment or persistence.
	broadcastMu sync.Mutex
}

// StartRequest carries the admission parameters for a new workflow.
type StartRequest struct {
	IssueID      string
	WorktreePath string
	WorktreeName string
	Profile      string
}

// New creates an orchestrator. runner is the default workflow body used
// when StartWorkflow is called without an explicit one.
func New(store core.EventStore, bus core.EventSink, cfg config.OrchestratorConfig, runner Runner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		runner:    runner,
		byPath:    make(map[string]*activeTask),
		byID:      make(map[core.WorkflowID]*activeTask),
		sequences: make(map[core.WorkflowID]*sequenceState),
		approvals: newApprovalRegistry(),
	}
}

// StartWorkflow admits and launches a new workflow. Admission checks run
// in order: worktree exclusivity first, then the global ceiling. The
// runner goroutine is started only after the pending row is durable.
func (o *Orchestrator) StartWorkflow(ctx context.Context, req StartRequest, runner Runner) (core.WorkflowID, error) {
	if runner == nil {
		runner = o.runner
	}
	if runner == nil {
		return "", core.ErrValidation("RUNNER_REQUIRED", "no workflow runner configured")
	}

	id := core.WorkflowID(uuid.NewString())
	task := &activeTask{
		workflowID:   id,
		worktreePath: req.WorktreePath,
		done:         make(chan struct{}),
	}

	// Admission and registration are atomic so concurrent starts on the
	// same worktree cannot both pass.
	o.mu.Lock()
	if existing, ok := o.byPath[req.WorktreePath]; ok {
		o.mu.Unlock()
		return "", core.ErrWorkflowConflict(req.WorktreePath, existing.workflowID)
	}
	if len(o.byPath) >= o.cfg.MaxConcurrent {
		o.mu.Unlock()
		return "", core.ErrConcurrencyLimit(o.cfg.MaxConcurrent)
	}
	o.byPath[req.WorktreePath] = task
	o.byID[id] = task
	o.mu.Unlock()

	wf := &core.Workflow{
		ID:           id,
		IssueID:      req.IssueID,
		WorktreePath: req.WorktreePath,
		WorktreeName: req.WorktreeName,
		Profile:      req.Profile,
		Status:       core.WorkflowStatusPending,
		StartedAt:    time.Now().UTC(),
	}
	if err := o.store.CreateWorkflow(ctx, wf); err != nil {
		o.removeTask(task)
		return "", err
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	task.cancel = cancel
	go o.runWorkflow(runCtx, task, wf, runner)

	return id, nil
}

// runWorkflow drives one workflow goroutine from start to its terminal
// state. The deferred completion hook runs regardless of outcome.
func (o *Orchestrator) runWorkflow(ctx context.Context, task *activeTask, wf *core.Workflow, runner Runner) {
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("workflow runner panicked: %v", r)
			o.logger.Error("workflow runner panicked",
				"workflow_id", string(wf.ID), "panic", r)
		}
		o.finishWorkflow(ctx, task, wf.ID, runErr)
	}()

	if err := o.store.UpdateStatus(ctx, wf.ID, core.WorkflowStatusInProgress, ""); err != nil {
		runErr = err
		return
	}
	if err := o.Emit(ctx, wf.ID, core.EventWorkflowStarted,
		fmt.Sprintf("workflow started for %s", wf.IssueID)); err != nil {
		o.logger.Warn("emitting workflow_started failed",
			"workflow_id", string(wf.ID), "error", err)
	}

	runErr = runner(ctx, &RunContext{orch: o, workflow: *wf})
}

// finishWorkflow is the completion hook: it settles the terminal status,
// emits the matching terminal event and releases every registration the
// workflow held.
func (o *Orchestrator) finishWorkflow(ctx context.Context, task *activeTask, id core.WorkflowID, runErr error) {
	// Terminal bookkeeping must survive cancellation of the run context.
	saveCtx := context.WithoutCancel(ctx)

	status, reason := o.settleOutcome(saveCtx, ctx, id, runErr)

	eventType := core.EventWorkflowCompleted
	message := "workflow completed"
	switch status {
	case core.WorkflowStatusFailed:
		eventType = core.EventWorkflowFailed
		message = "workflow failed"
		if reason != "" {
			message = "workflow failed: " + reason
		}
	case core.WorkflowStatusCancelled:
		eventType = core.EventWorkflowCancelled
		message = "workflow cancelled"
		if reason != "" {
			message = "workflow cancelled: " + reason
		}
	}
	if err := o.Emit(saveCtx, id, eventType, message); err != nil {
		o.logger.Warn("emitting terminal event failed",
			"workflow_id", string(id), "error", err)
	}

	o.removeTask(task)
	o.approvals.remove(id)
	close(task.done)

	o.logger.Info("workflow finished",
		"workflow_id", string(id),
		"status", string(status),
		"worktree_path", task.worktreePath)
}

// settleOutcome maps the runner result to a terminal status and persists
// it unless the workflow already reached one (e.g. via rejectWorkflow).
func (o *Orchestrator) settleOutcome(saveCtx, runCtx context.Context, id core.WorkflowID, runErr error) (core.WorkflowStatus, string) {
	if wf, err := o.store.GetWorkflow(saveCtx, id); err == nil && wf.Status.IsTerminal() {
		return wf.Status, wf.FailureReason
	}

	status := core.WorkflowStatusCompleted
	reason := ""
	switch {
	case runCtx.Err() != nil:
		status = core.WorkflowStatusCancelled
		if cause := context.Cause(runCtx); cause != nil && cause != context.Canceled {
			reason = cause.Error()
		}
	case runErr != nil:
		status = core.WorkflowStatusFailed
		reason = runErr.Error()
	}

	if err := o.store.UpdateStatus(saveCtx, id, status, reason); err != nil {
		o.logger.Error("persisting terminal status failed",
			"workflow_id", string(id), "status", string(status), "error", err)
	}
	return status, reason
}

// removeTask drops every in-memory registration the workflow held.
// Idempotent; safe to call from both admission failure and the hook.
func (o *Orchestrator) removeTask(task *activeTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.byPath[task.worktreePath]; ok && cur == task {
		delete(o.byPath, task.worktreePath)
	}
	delete(o.byID, task.workflowID)
	delete(o.sequences, task.workflowID)
}

// EmitOption customizes an emitted event.
type EmitOption func(*core.WorkflowEvent)

// WithAgent sets the acting agent name (default "system").
func WithAgent(agent string) EmitOption {
	return func(ev *core.WorkflowEvent) { ev.Agent = agent }
}

// WithData attaches a structured JSON payload.
func WithData(data json.RawMessage) EmitOption {
	return func(ev *core.WorkflowEvent) { ev.Data = data }
}

// WithCorrelationID tags the event for tracing related events.
func WithCorrelationID(id string) EmitOption {
	return func(ev *core.WorkflowEvent) { ev.CorrelationID = id }
}

// Emit assigns the next sequence number for the workflow, persists the
// event, and broadcasts it. The per-workflow serializer is held across
// counter increment and the durable write only; broadcast happens
// outside it so a slow subscriber never delays sequence assignment.
// On a persistence failure the counter is rolled back so the next
// attempt reuses the number, and nothing is broadcast.
func (o *Orchestrator) Emit(ctx context.Context, id core.WorkflowID, eventType core.EventType, message string, opts ...EmitOption) error {
	st := o.sequenceFor(id)

	st.mu.Lock()
	if !st.initialized {
		max, err := o.store.GetMaxEventSequence(ctx, id)
		if err != nil {
			st.mu.Unlock()
			return err
		}
		st.next = max
		st.initialized = true
	}
	st.next++

	ev := &core.WorkflowEvent{
		ID:         core.EventID(uuid.NewString()),
		WorkflowID: id,
		Sequence:   st.next,
		Timestamp:  time.Now().UTC(),
		Agent:      "system",
		Type:       eventType,
		Message:    message,
	}
	for _, opt := range opts {
		opt(ev)
	}

	if err := o.store.SaveEvent(ctx, ev); err != nil {
		st.next--
		st.mu.Unlock()
		o.logger.Error("persisting event failed, sequence rolled back",
			"workflow_id", string(id),
			"sequence", ev.Sequence,
			"event_type", string(eventType),
			"error", err)
		return err
	}
	// Lock handoff: take the broadcast mutex before releasing the
	// serializer so deliveries leave in sequence order.
	st.broadcastMu.Lock()
	st.mu.Unlock()

	o.bus.Emit(ev)
	st.broadcastMu.Unlock()
	return nil
}

// sequenceFor returns the workflow's serializer, creating it lazily.
func (o *Orchestrator) sequenceFor(id core.WorkflowID) *sequenceState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sequences[id]
	if !ok {
		st = &sequenceState{}
		o.sequences[id] = st
	}
	return st
}

// CancelWorkflow cooperatively cancels a running workflow. Unknown ids
// and workflows without an active task are a no-op.
func (o *Orchestrator) CancelWorkflow(id core.WorkflowID, reason string) {
	o.mu.Lock()
	task, ok := o.byID[id]
	o.mu.Unlock()
	if !ok || task.cancel == nil {
		return
	}

	if reason == "" {
		reason = "workflow cancelled"
	}
	o.logger.Info("cancelling workflow",
		"workflow_id", string(id), "reason", reason)
	task.cancel(fmt.Errorf("%s", reason))
}

// CancelAllWorkflows cancels every active task and waits up to timeout
// for each to finish. Tasks that ignore cancellation are abandoned.
func (o *Orchestrator) CancelAllWorkflows(timeout time.Duration) {
	o.mu.Lock()
	tasks := make([]*activeTask, 0, len(o.byID))
	for _, task := range o.byID {
		tasks = append(tasks, task)
	}
	o.mu.Unlock()

	for _, task := range tasks {
		if task.cancel != nil {
			task.cancel(fmt.Errorf("server shutting down"))
		}
	}
	for _, task := range tasks {
		select {
		case <-task.done:
		case <-time.After(timeout):
			o.logger.Warn("workflow did not stop within cancel timeout",
				"workflow_id", string(task.workflowID),
				"worktree_path", task.worktreePath)
		}
	}
}

// ActiveWorktrees returns the worktree paths with a registered task.
func (o *Orchestrator) ActiveWorktrees() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	paths := make([]string, 0, len(o.byPath))
	for path := range o.byPath {
		paths = append(paths, path)
	}
	return paths
}

// ActiveCount returns the number of registered tasks.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byPath)
}

// WorkflowByWorktree resolves the active workflow claiming a worktree.
// The persistent store is the source of truth; the in-memory task map
// can lag during startup. Returns nil when the worktree is unclaimed.
func (o *Orchestrator) WorkflowByWorktree(ctx context.Context, worktreePath string) (*core.Workflow, error) {
	return o.store.FindActiveByWorktree(ctx, worktreePath)
}

// GetWorkflow reads a workflow row.
func (o *Orchestrator) GetWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	return o.store.GetWorkflow(ctx, id)
}

// ListActiveWorkflows enumerates non-terminal workflows from the store.
func (o *Orchestrator) ListActiveWorkflows(ctx context.Context) ([]*core.Workflow, error) {
	return o.store.ListActive(ctx)
}

// ListEvents replays a workflow's persisted events with sequence > after.
func (o *Orchestrator) ListEvents(ctx context.Context, id core.WorkflowID, after int64) ([]*core.WorkflowEvent, error) {
	return o.store.ListEvents(ctx, id, after)
}

// RecoverInterruptedWorkflows marks every persisted non-terminal
// workflow failed. Called once at startup: any in-memory state those
// workflows had died with the previous process.
func (o *Orchestrator) RecoverInterruptedWorkflows(ctx context.Context) (int, error) {
	active, err := o.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing interrupted workflows: %w", err)
	}

	recovered := 0
	for _, wf := range active {
		if err := o.store.UpdateStatus(ctx, wf.ID, core.WorkflowStatusFailed, "interrupted by server restart"); err != nil {
			o.logger.Error("recovering interrupted workflow failed",
				"workflow_id", string(wf.ID), "error", err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		o.logger.Info("recovered interrupted workflows", "count", recovered)
	}
	return recovered, nil
}
