package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ameliahq/amelia/internal/core"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteEventStore {
	t.Helper()
	store, err := NewSQLiteEventStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteEventStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestWorkflow(worktree string) *core.Workflow {
	return &core.Workflow{
		ID:           core.WorkflowID(uuid.NewString()),
		IssueID:      "ISSUE-42",
		WorktreePath: worktree,
		WorktreeName: filepath.Base(worktree),
		Status:       core.WorkflowStatusPending,
		StartedAt:    time.Now().UTC(),
	}
}

func newTestEvent(wfID core.WorkflowID, seq int64) *core.WorkflowEvent {
	return &core.WorkflowEvent{
		ID:         core.EventID(uuid.NewString()),
		WorkflowID: wfID,
		Sequence:   seq,
		Timestamp:  time.Now().UTC(),
		Agent:      "planner",
		Type:       core.EventStageStarted,
		Message:    "planning",
	}
}

func TestCreateAndGetWorkflow(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/alpha")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}

	got, err := store.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow error: %v", err)
	}
	if got.ID != wf.ID || got.IssueID != wf.IssueID || got.WorktreePath != wf.WorktreePath {
		t.Errorf("roundtrip mismatch: got %+v", got)
	}
	if got.Status != core.WorkflowStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("completed_at should be nil for a pending workflow")
	}
}

func TestGetWorkflow_NotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.GetWorkflow(context.Background(), "nope")
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("error = %v, want not_found category", err)
	}
}

func TestUpdateStatus_TerminalStampsCompletedAt(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/beta")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}

	if err := store.UpdateStatus(ctx, wf.ID, core.WorkflowStatusInProgress, ""); err != nil {
		t.Fatalf("UpdateStatus to in_progress error: %v", err)
	}
	got, _ := store.GetWorkflow(ctx, wf.ID)
	if got.CompletedAt != nil {
		t.Error("completed_at must stay nil while non-terminal")
	}

	if err := store.UpdateStatus(ctx, wf.ID, core.WorkflowStatusFailed, "agent crashed"); err != nil {
		t.Fatalf("UpdateStatus to failed error: %v", err)
	}
	got, _ = store.GetWorkflow(ctx, wf.ID)
	if got.Status != core.WorkflowStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at must be set on terminal transition")
	}
	if got.FailureReason != "agent crashed" {
		t.Errorf("failure_reason = %q", got.FailureReason)
	}
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/gamma")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}
	if err := store.UpdateStatus(ctx, wf.ID, core.WorkflowStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus to completed error: %v", err)
	}

	err := store.UpdateStatus(ctx, wf.ID, core.WorkflowStatusInProgress, "")
	if !core.IsCategory(err, core.ErrCatState) {
		t.Fatalf("error = %v, want state category", err)
	}

	// The terminal row is unchanged.
	got, _ := store.GetWorkflow(ctx, wf.ID)
	if got.Status != core.WorkflowStatusCompleted || got.CompletedAt == nil {
		t.Errorf("terminal row mutated: %+v", got)
	}
}

func TestFindActiveByWorktree(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/delta")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}

	got, err := store.FindActiveByWorktree(ctx, "/tmp/wt/delta")
	if err != nil {
		t.Fatalf("FindActiveByWorktree error: %v", err)
	}
	if got == nil || got.ID != wf.ID {
		t.Fatalf("got %+v, want workflow %s", got, wf.ID)
	}

	// Terminal workflows release the worktree.
	if err := store.UpdateStatus(ctx, wf.ID, core.WorkflowStatusCancelled, ""); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	got, err = store.FindActiveByWorktree(ctx, "/tmp/wt/delta")
	if err != nil {
		t.Fatalf("FindActiveByWorktree error: %v", err)
	}
	if got != nil {
		t.Errorf("worktree still claimed by %s after cancellation", got.ID)
	}
}

func TestListActive(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	active := newTestWorkflow("/tmp/wt/e1")
	done := newTestWorkflow("/tmp/wt/e2")
	for _, wf := range []*core.Workflow{active, done} {
		if err := store.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("CreateWorkflow error: %v", err)
		}
	}
	if err := store.UpdateStatus(ctx, done.ID, core.WorkflowStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}

	got, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("ListActive = %+v, want only %s", got, active.ID)
	}
}

func TestSaveAndListEvents(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/zeta")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}

	for seq := int64(1); seq <= 5; seq++ {
		if err := store.SaveEvent(ctx, newTestEvent(wf.ID, seq)); err != nil {
			t.Fatalf("SaveEvent %d error: %v", seq, err)
		}
	}

	events, err := store.ListEvents(ctx, wf.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	for i, ev := range events {
		if ev.Sequence != int64(i+1) {
			t.Errorf("events[%d].Sequence = %d, want %d", i, ev.Sequence, i+1)
		}
	}

	tail, err := store.ListEvents(ctx, wf.ID, 3)
	if err != nil {
		t.Fatalf("ListEvents after=3 error: %v", err)
	}
	if len(tail) != 2 || tail[0].Sequence != 4 {
		t.Errorf("after=3 returned %d events starting at %d", len(tail), tail[0].Sequence)
	}
}

func TestSaveEvent_DuplicateSequenceRejected(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/eta")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}
	if err := store.SaveEvent(ctx, newTestEvent(wf.ID, 1)); err != nil {
		t.Fatalf("SaveEvent error: %v", err)
	}

	err := store.SaveEvent(ctx, newTestEvent(wf.ID, 1))
	if !core.IsCategory(err, core.ErrCatPersistence) {
		t.Fatalf("error = %v, want persistence category", err)
	}
}

func TestGetMaxEventSequence(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/theta")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}

	max, err := store.GetMaxEventSequence(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetMaxEventSequence error: %v", err)
	}
	if max != 0 {
		t.Errorf("max = %d, want 0 with no events", max)
	}

	for seq := int64(1); seq <= 3; seq++ {
		if err := store.SaveEvent(ctx, newTestEvent(wf.ID, seq)); err != nil {
			t.Fatalf("SaveEvent error: %v", err)
		}
	}
	max, err = store.GetMaxEventSequence(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetMaxEventSequence error: %v", err)
	}
	if max != 3 {
		t.Errorf("max = %d, want 3", max)
	}
}

func TestPruneEventsBefore(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	old := newTestWorkflow("/tmp/wt/old")
	recent := newTestWorkflow("/tmp/wt/recent")
	running := newTestWorkflow("/tmp/wt/running")
	for _, wf := range []*core.Workflow{old, recent, running} {
		if err := store.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("CreateWorkflow error: %v", err)
		}
		if err := store.SaveEvent(ctx, newTestEvent(wf.ID, 1)); err != nil {
			t.Fatalf("SaveEvent error: %v", err)
		}
	}
	if err := store.UpdateStatus(ctx, old.ID, core.WorkflowStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	if err := store.UpdateStatus(ctx, recent.ID, core.WorkflowStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}

	// Backdate the old workflow's completion.
	if _, err := store.db.Exec(
		"UPDATE workflows SET completed_at = ? WHERE id = ?",
		time.Now().UTC().Add(-90*24*time.Hour), string(old.ID),
	); err != nil {
		t.Fatalf("backdating completed_at: %v", err)
	}

	pruned, err := store.PruneEventsBefore(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneEventsBefore error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d events, want 1", pruned)
	}

	// Only the backdated workflow lost its events.
	for _, tc := range []struct {
		wf   *core.Workflow
		want int
	}{
		{old, 0},
		{recent, 1},
		{running, 1},
	} {
		events, err := store.ListEvents(ctx, tc.wf.ID, 0)
		if err != nil {
			t.Fatalf("ListEvents error: %v", err)
		}
		if len(events) != tc.want {
			t.Errorf("workflow %s has %d events, want %d", tc.wf.WorktreePath, len(events), tc.want)
		}
	}

	orphans, err := store.PruneOrphanWorkflows(ctx)
	if err != nil {
		t.Fatalf("PruneOrphanWorkflows error: %v", err)
	}
	if orphans != 1 {
		t.Errorf("pruned %d orphan workflows, want 1", orphans)
	}
	if _, err := store.GetWorkflow(ctx, old.ID); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("old workflow still present: %v", err)
	}
}

func TestEventDataRoundtrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	wf := newTestWorkflow("/tmp/wt/iota")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}

	ev := newTestEvent(wf.ID, 1)
	ev.Data = []byte(`{"path":"plan.md","bytes":2048}`)
	ev.CorrelationID = "corr-7"
	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("SaveEvent error: %v", err)
	}

	events, err := store.ListEvents(ctx, wf.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if string(got.Data) != `{"path":"plan.md","bytes":2048}` {
		t.Errorf("data = %s", got.Data)
	}
	if got.CorrelationID != "corr-7" {
		t.Errorf("correlation_id = %q", got.CorrelationID)
	}
	if got.Agent != "planner" || got.Type != core.EventStageStarted {
		t.Errorf("agent/type = %q/%q", got.Agent, got.Type)
	}
}

func TestReopenPreservesData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	store, err := NewSQLiteEventStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore error: %v", err)
	}
	wf := newTestWorkflow("/tmp/wt/kappa")
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow error: %v", err)
	}
	if err := store.SaveEvent(ctx, newTestEvent(wf.ID, 1)); err != nil {
		t.Fatalf("SaveEvent error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	reopened, err := NewSQLiteEventStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow after reopen: %v", err)
	}
	if got.WorktreePath != wf.WorktreePath {
		t.Errorf("worktree_path = %q", got.WorktreePath)
	}
	max, err := reopened.GetMaxEventSequence(ctx, wf.ID)
	if err != nil || max != 1 {
		t.Errorf("max sequence after reopen = %d (%v), want 1", max, err)
	}
}

func TestCreateWorkflow_RejectsInvalid(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	wf := newTestWorkflow("/tmp/wt/lambda")
	wf.IssueID = ""
	err := store.CreateWorkflow(context.Background(), wf)
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr.Category != core.ErrCatValidation {
		t.Fatalf("error = %v, want validation DomainError", err)
	}
}
