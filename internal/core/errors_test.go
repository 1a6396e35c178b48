package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDomainError_Is(t *testing.T) {
	t.Parallel()
	err := ErrWorkflowConflict("/tmp/wt1", "wf-9")
	if !errors.Is(err, &DomainError{Category: ErrCatConflict, Code: CodeWorkflowConflict}) {
		t.Error("Is should match on category and code")
	}
	if errors.Is(err, &DomainError{Category: ErrCatCapacity, Code: CodeConcurrencyLimit}) {
		t.Error("Is should not match a different category/code")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("disk full")
	err := ErrPersistence("saving event", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Error() should include the cause, got %q", err.Error())
	}
}

func TestDomainError_WrappedThroughFmt(t *testing.T) {
	t.Parallel()
	inner := ErrConcurrencyLimit(5)
	outer := fmt.Errorf("starting workflow: %w", inner)

	var domErr *DomainError
	if !errors.As(outer, &domErr) {
		t.Fatal("As should find DomainError through fmt wrapping")
	}
	if domErr.Details["limit"] != 5 {
		t.Errorf("limit detail = %v, want 5", domErr.Details["limit"])
	}
}

func TestErrWorkflowConflict_Details(t *testing.T) {
	t.Parallel()
	err := ErrWorkflowConflict("/tmp/wt1", "wf-1")
	if err.Details["worktree_path"] != "/tmp/wt1" {
		t.Errorf("worktree_path detail = %v", err.Details["worktree_path"])
	}
	if err.Details["workflow_id"] != "wf-1" {
		t.Errorf("workflow_id detail = %v", err.Details["workflow_id"])
	}
}

func TestGetCategory(t *testing.T) {
	t.Parallel()
	if got := GetCategory(ErrNotFound("workflow", "wf-1")); got != ErrCatNotFound {
		t.Errorf("GetCategory = %s, want %s", got, ErrCatNotFound)
	}
	if got := GetCategory(errors.New("plain")); got != ErrCatInternal {
		t.Errorf("GetCategory(plain) = %s, want %s", got, ErrCatInternal)
	}
	if !IsCategory(ErrInvalidTransition("wf-1", WorkflowStatusCompleted, WorkflowStatusPending), ErrCatState) {
		t.Error("IsCategory should match state errors")
	}
}
