package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ameliahq/amelia/internal/core"
)

// Decision is the outcome of an approval gate.
type Decision struct {
	Approved      bool
	Feedback      string
	CorrelationID string
}

// approvalSlot is a single-shot rendezvous between one waiting runner
// and the first approve/reject caller. The buffered channel lets the
// resolver signal without blocking.
type approvalSlot struct {
	ch chan Decision
}

// approvalRegistry maps workflow ids to their pending approval slot.
// Every mutation happens under the one registry mutex; atomic removal
// in take is the commit point that makes approve/reject races safe.
type approvalRegistry struct {
	mu    sync.Mutex
	slots map[core.WorkflowID]*approvalSlot
}

func newApprovalRegistry() *approvalRegistry {
	return &approvalRegistry{slots: make(map[core.WorkflowID]*approvalSlot)}
}

// create registers a slot for the workflow. A slot already present is a
// runner bug (two concurrent awaits on one workflow).
func (r *approvalRegistry) create(id core.WorkflowID) (*approvalSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slots[id]; exists {
		return nil, fmt.Errorf("workflow %s is already awaiting approval", id)
	}
	slot := &approvalSlot{ch: make(chan Decision, 1)}
	r.slots[id] = slot
	return slot, nil
}

// take atomically removes and returns the slot, or nil if none is
// registered. The caller that gets a non-nil slot owns the decision.
func (r *approvalRegistry) take(id core.WorkflowID) *approvalSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[id]
	delete(r.slots, id)
	return slot
}

// remove discards a slot if still present. Idempotent; used by the
// waiter's exit path and the completion hook.
func (r *approvalRegistry) remove(id core.WorkflowID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
}

// pending reports whether a slot is registered, for tests and handlers.
func (r *approvalRegistry) pending(id core.WorkflowID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[id]
	return ok
}

// AwaitApproval blocks the calling runner until a human decision
// arrives, the workflow is cancelled, or the process shuts down. The
// workflow is moved to blocked for the duration of the wait.
func (o *Orchestrator) AwaitApproval(ctx context.Context, id core.WorkflowID) (Decision, error) {
	slot, err := o.approvals.create(id)
	if err != nil {
		return Decision{}, err
	}
	// The winner of approve/reject removes the slot; this covers the
	// cancellation and error paths.
	defer o.approvals.remove(id)

	if err := o.store.UpdateStatus(ctx, id, core.WorkflowStatusBlocked, ""); err != nil {
		return Decision{}, err
	}
	if err := o.Emit(ctx, id, core.EventApprovalRequired, "workflow is awaiting approval"); err != nil {
		return Decision{}, err
	}

	select {
	case decision := <-slot.ch:
		return decision, nil
	case <-ctx.Done():
		// A decision signalled just before cancellation still wins.
		select {
		case decision := <-slot.ch:
			return decision, nil
		default:
		}
		return Decision{}, ctx.Err()
	}
}

// ApproveWorkflow resolves a pending approval gate positively. Returns
// false when the workflow exists but is not awaiting approval; a
// not-found error when it does not exist at all.
func (o *Orchestrator) ApproveWorkflow(ctx context.Context, id core.WorkflowID, correlationID string) (bool, error) {
	if _, err := o.store.GetWorkflow(ctx, id); err != nil {
		return false, err
	}

	slot := o.approvals.take(id)
	if slot == nil {
		return false, nil
	}

	if err := o.store.UpdateStatus(ctx, id, core.WorkflowStatusInProgress, ""); err != nil {
		o.logger.Error("resuming approved workflow failed",
			"workflow_id", string(id), "error", err)
	}
	if err := o.Emit(ctx, id, core.EventApprovalGranted, "approval granted",
		WithCorrelationID(correlationID)); err != nil {
		o.logger.Warn("emitting approval_granted failed",
			"workflow_id", string(id), "error", err)
	}

	// Signal outside the registry lock; the buffered channel cannot block.
	slot.ch <- Decision{Approved: true, CorrelationID: correlationID}
	return true, nil
}

// RejectWorkflow resolves a pending approval gate negatively: the
// workflow fails with the feedback as reason and its task is cancelled.
func (o *Orchestrator) RejectWorkflow(ctx context.Context, id core.WorkflowID, feedback string) (bool, error) {
	if _, err := o.store.GetWorkflow(ctx, id); err != nil {
		return false, err
	}

	slot := o.approvals.take(id)
	if slot == nil {
		return false, nil
	}

	if err := o.store.UpdateStatus(ctx, id, core.WorkflowStatusFailed, feedback); err != nil {
		o.logger.Error("failing rejected workflow failed",
			"workflow_id", string(id), "error", err)
	}
	if err := o.Emit(ctx, id, core.EventApprovalRejected, "approval rejected: "+feedback); err != nil {
		o.logger.Warn("emitting approval_rejected failed",
			"workflow_id", string(id), "error", err)
	}

	slot.ch <- Decision{Approved: false, Feedback: feedback}
	o.CancelWorkflow(id, "approval rejected")
	return true, nil
}
