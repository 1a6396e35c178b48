package core

import (
	"context"
	"time"
)

// EventStore is the persistence port for workflows and their events.
// The orchestrator is the only writer; read-side collaborators (HTTP
// handlers, replaying subscribers) share the query methods.
type EventStore interface {
	// CreateWorkflow inserts a new workflow row. The workflow must be pending.
	CreateWorkflow(ctx context.Context, wf *Workflow) error

	// UpdateStatus transitions a workflow's status, stamping completed_at on
	// terminal transitions. failureReason is recorded only when non-empty.
	UpdateStatus(ctx context.Context, id WorkflowID, status WorkflowStatus, failureReason string) error

	// GetWorkflow reads the current row, or a not-found error.
	GetWorkflow(ctx context.Context, id WorkflowID) (*Workflow, error)

	// ListActive enumerates workflows in non-terminal status.
	ListActive(ctx context.Context) ([]*Workflow, error)

	// FindActiveByWorktree returns the non-terminal workflow claiming the
	// given worktree path, or nil if none exists.
	FindActiveByWorktree(ctx context.Context, worktreePath string) (*Workflow, error)

	// ListEvents returns the events of a workflow with sequence > after,
	// ordered by sequence.
	ListEvents(ctx context.Context, id WorkflowID, after int64) ([]*WorkflowEvent, error)

	// SaveEvent inserts one event row; durable before returning.
	SaveEvent(ctx context.Context, ev *WorkflowEvent) error

	// GetMaxEventSequence returns the current maximum sequence for a
	// workflow, or 0 when it has no events.
	GetMaxEventSequence(ctx context.Context, id WorkflowID) (int64, error)

	// PruneEventsBefore deletes events whose workflow finished before cutoff.
	// Returns the number of deleted events.
	PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// PruneOrphanWorkflows deletes finished workflows with no remaining
	// events. Returns the number of deleted workflows.
	PruneOrphanWorkflows(ctx context.Context) (int64, error)
}

// EventSink receives every persisted event for in-process fan-out.
type EventSink interface {
	Emit(ev *WorkflowEvent)
}
