package orchestrator

import (
	"context"

	"github.com/ameliahq/amelia/internal/core"
)

// Runner is the opaque body that advances a workflow through its
// stages. It must call Emit for every externally visible step, call
// AwaitApproval when a human decision is required, and observe ctx
// cancellation at every suspension point. A nil return means the
// workflow completed; a non-nil return fails it with the error as
// reason, unless a terminal status was already recorded.
type Runner func(ctx context.Context, rc *RunContext) error

// RunContext is the orchestrator-side handle handed to a runner.
type RunContext struct {
	orch     *Orchestrator
	workflow core.Workflow
}

// Workflow returns a snapshot of the workflow taken at admission.
func (rc *RunContext) Workflow() core.Workflow {
	return rc.workflow
}

// Emit records one workflow event: durably persisted, then broadcast.
func (rc *RunContext) Emit(ctx context.Context, eventType core.EventType, message string, opts ...EmitOption) error {
	return rc.orch.Emit(ctx, rc.workflow.ID, eventType, message, opts...)
}

// AwaitApproval blocks until a human approves or rejects the workflow,
// or ctx is cancelled.
func (rc *RunContext) AwaitApproval(ctx context.Context) (Decision, error) {
	return rc.orch.AwaitApproval(ctx, rc.workflow.ID)
}

// SetStatus transitions the workflow through a non-terminal status.
// Terminal outcomes belong to the orchestrator's completion hook.
func (rc *RunContext) SetStatus(ctx context.Context, status core.WorkflowStatus) error {
	if status.IsTerminal() {
		return core.ErrInvalidTransition(rc.workflow.ID, rc.workflow.Status, status)
	}
	return rc.orch.store.UpdateStatus(ctx, rc.workflow.ID, status, "")
}
