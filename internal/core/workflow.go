// Package core contains the domain types and ports for the Amelia
// workflow orchestrator. It has no dependencies on adapters or transport.
package core

import "time"

// WorkflowID uniquely identifies a workflow run.
type WorkflowID string

// WorkflowStatus represents the current state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusBlocked    WorkflowStatus = "blocked"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"
)

// IsTerminal returns true for statuses that end a workflow.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted ||
		s == WorkflowStatusFailed ||
		s == WorkflowStatusCancelled
}

// Valid reports whether s is a known status value.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusPending, WorkflowStatusInProgress, WorkflowStatusBlocked,
		WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transition from s to next is allowed.
// Transitions are monotonic toward a terminal state: any non-terminal status
// may move to a terminal one, and pending/blocked may swap with in_progress.
// Terminal statuses never transition.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	switch s {
	case WorkflowStatusPending, WorkflowStatusBlocked:
		return next == WorkflowStatusInProgress
	case WorkflowStatusInProgress:
		return next == WorkflowStatusBlocked || next == WorkflowStatusPending
	}
	return false
}

// Workflow represents one staged execution against a single worktree.
type Workflow struct {
	ID            WorkflowID     `json:"id"`
	IssueID       string         `json:"issue_id"`
	WorktreePath  string         `json:"worktree_path"`
	WorktreeName  string         `json:"worktree_name"`
	Profile       string         `json:"profile,omitempty"`
	Status        WorkflowStatus `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// IsActive returns true while the workflow holds its worktree.
func (w *Workflow) IsActive() bool {
	return !w.Status.IsTerminal()
}

// Validate checks required fields before persistence.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrValidation("WORKFLOW_ID_REQUIRED", "workflow ID cannot be empty")
	}
	if w.IssueID == "" || len(w.IssueID) > MaxIssueIDLength {
		return ErrValidation("ISSUE_ID_INVALID", "issue ID must be 1-100 characters")
	}
	if w.WorktreePath == "" {
		return ErrValidation("WORKTREE_PATH_REQUIRED", "worktree path cannot be empty")
	}
	if !w.Status.Valid() {
		return ErrValidation("STATUS_INVALID", "unknown workflow status")
	}
	// completed_at is set iff the status is terminal.
	if w.Status.IsTerminal() != (w.CompletedAt != nil) {
		return ErrValidation("COMPLETED_AT_INCONSISTENT",
			"completed_at must be set exactly for terminal statuses")
	}
	return nil
}

// MaxIssueIDLength is the maximum allowed issue tag length.
const MaxIssueIDLength = 100
