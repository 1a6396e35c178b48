// Package state persists workflows and their event logs in SQLite.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ameliahq/amelia/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteEventStore implements core.EventStore with SQLite storage.
// A single connection pool is shared; writes are serialized with a
// mutex because SQLite allows only one writer at a time.
type SQLiteEventStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

var _ core.EventStore = (*SQLiteEventStore)(nil)

// NewSQLiteEventStore opens (creating if needed) the database at dbPath
// and applies pending migrations.
func NewSQLiteEventStore(dbPath string) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{dbPath: dbPath}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL mode so readers do not block the writer
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteEventStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate runs pending migrations.
func (s *SQLiteEventStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}

	return nil
}

// CreateWorkflow inserts a new workflow row.
func (s *SQLiteEventStore) CreateWorkflow(ctx context.Context, wf *core.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := wf.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (
			id, issue_id, worktree_path, worktree_name, profile,
			status, started_at, completed_at, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(wf.ID), wf.IssueID, wf.WorktreePath, wf.WorktreeName,
		nullableString(wf.Profile), string(wf.Status), wf.StartedAt.UTC(),
		nullableTime(wf.CompletedAt), nullableString(wf.FailureReason),
	)
	if err != nil {
		return core.ErrPersistence("inserting workflow", err)
	}
	return nil
}

// UpdateStatus transitions a workflow's status. Terminal transitions
// stamp completed_at in the same statement so the row is never visible
// in a half-finished shape.
func (s *SQLiteEventStore) UpdateStatus(ctx context.Context, id core.WorkflowID, status core.WorkflowStatus, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrPersistence("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM workflows WHERE id = ?", string(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound("workflow", string(id))
	}
	if err != nil {
		return core.ErrPersistence("reading workflow status", err)
	}

	from := core.WorkflowStatus(current)
	if !from.CanTransitionTo(status) {
		return core.ErrInvalidTransition(id, from, status)
	}

	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflows
		SET status = ?, completed_at = ?, failure_reason = ?
		WHERE id = ?
	`,
		string(status), completedAt, nullableString(failureReason), string(id),
	)
	if err != nil {
		return core.ErrPersistence("updating workflow status", err)
	}

	if err := tx.Commit(); err != nil {
		return core.ErrPersistence("committing status update", err)
	}
	return nil
}

// GetWorkflow reads a workflow row.
func (s *SQLiteEventStore) GetWorkflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, worktree_path, worktree_name, profile,
		       status, started_at, completed_at, failure_reason
		FROM workflows WHERE id = ?
	`, string(id))

	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("workflow", string(id))
	}
	if err != nil {
		return nil, core.ErrPersistence("reading workflow", err)
	}
	return wf, nil
}

// ListActive enumerates workflows in non-terminal status.
func (s *SQLiteEventStore) ListActive(ctx context.Context) ([]*core.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, worktree_path, worktree_name, profile,
		       status, started_at, completed_at, failure_reason
		FROM workflows
		WHERE status IN (?, ?, ?)
		ORDER BY started_at
	`,
		string(core.WorkflowStatusPending), string(core.WorkflowStatusInProgress), string(core.WorkflowStatusBlocked),
	)
	if err != nil {
		return nil, core.ErrPersistence("listing active workflows", err)
	}
	defer func() { _ = rows.Close() }()

	var workflows []*core.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, core.ErrPersistence("scanning workflow", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrPersistence("iterating workflows", err)
	}
	return workflows, nil
}

// FindActiveByWorktree returns the non-terminal workflow claiming the
// given worktree path, or nil if none exists.
func (s *SQLiteEventStore) FindActiveByWorktree(ctx context.Context, worktreePath string) (*core.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, worktree_path, worktree_name, profile,
		       status, started_at, completed_at, failure_reason
		FROM workflows
		WHERE worktree_path = ? AND status IN (?, ?, ?)
		LIMIT 1
	`,
		worktreePath,
		string(core.WorkflowStatusPending), string(core.WorkflowStatusInProgress), string(core.WorkflowStatusBlocked),
	)

	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.ErrPersistence("finding workflow by worktree", err)
	}
	return wf, nil
}

// SaveEvent inserts one event row. The UNIQUE (workflow_id, sequence)
// constraint backstops the in-memory sequence discipline.
func (s *SQLiteEventStore) SaveEvent(ctx context.Context, ev *core.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data any
	if len(ev.Data) > 0 {
		data = string(ev.Data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, workflow_id, sequence, timestamp, agent,
			event_type, message, data, correlation_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(ev.ID), string(ev.WorkflowID), ev.Sequence, ev.Timestamp.UTC(),
		nullableString(ev.Agent), string(ev.Type), nullableString(ev.Message),
		data, nullableString(ev.CorrelationID),
	)
	if err != nil {
		return core.ErrPersistence("inserting event", err)
	}
	return nil
}

// ListEvents returns the events of a workflow with sequence > after,
// ordered by sequence.
func (s *SQLiteEventStore) ListEvents(ctx context.Context, id core.WorkflowID, after int64) ([]*core.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, sequence, timestamp, agent,
		       event_type, message, data, correlation_id
		FROM events
		WHERE workflow_id = ? AND sequence > ?
		ORDER BY sequence
	`, string(id), after)
	if err != nil {
		return nil, core.ErrPersistence("listing events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*core.WorkflowEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, core.ErrPersistence("scanning event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrPersistence("iterating events", err)
	}
	return events, nil
}

// GetMaxEventSequence returns the current maximum sequence for a
// workflow, or 0 when it has no events.
func (s *SQLiteEventStore) GetMaxEventSequence(ctx context.Context, id core.WorkflowID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM events WHERE workflow_id = ?",
		string(id),
	).Scan(&max)
	if err != nil {
		return 0, core.ErrPersistence("reading max event sequence", err)
	}
	return max, nil
}

// PruneEventsBefore deletes events belonging to workflows that finished
// before cutoff. Active workflows are never touched.
func (s *SQLiteEventStore) PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE workflow_id IN (
			SELECT id FROM workflows
			WHERE completed_at IS NOT NULL AND completed_at < ?
		)
	`, cutoff.UTC())
	if err != nil {
		return 0, core.ErrPersistence("pruning events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.ErrPersistence("counting pruned events", err)
	}
	return n, nil
}

// PruneOrphanWorkflows deletes finished workflows with no remaining events.
func (s *SQLiteEventStore) PruneOrphanWorkflows(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflows
		WHERE completed_at IS NOT NULL
		  AND id NOT IN (SELECT DISTINCT workflow_id FROM events)
	`)
	if err != nil {
		return 0, core.ErrPersistence("pruning orphan workflows", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.ErrPersistence("counting pruned workflows", err)
	}
	return n, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*core.Workflow, error) {
	var (
		wf            core.Workflow
		id, status    string
		profile       sql.NullString
		completedAt   sql.NullTime
		failureReason sql.NullString
	)
	err := row.Scan(
		&id, &wf.IssueID, &wf.WorktreePath, &wf.WorktreeName, &profile,
		&status, &wf.StartedAt, &completedAt, &failureReason,
	)
	if err != nil {
		return nil, err
	}
	wf.ID = core.WorkflowID(id)
	wf.Status = core.WorkflowStatus(status)
	wf.Profile = profile.String
	wf.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		wf.CompletedAt = &t
	}
	return &wf, nil
}

func scanEvent(row scanner) (*core.WorkflowEvent, error) {
	var (
		ev             core.WorkflowEvent
		id, workflowID string
		eventType      string
		agent, message sql.NullString
		data           sql.NullString
		correlationID  sql.NullString
	)
	err := row.Scan(
		&id, &workflowID, &ev.Sequence, &ev.Timestamp, &agent,
		&eventType, &message, &data, &correlationID,
	)
	if err != nil {
		return nil, err
	}
	ev.ID = core.EventID(id)
	ev.WorkflowID = core.WorkflowID(workflowID)
	ev.Type = core.EventType(eventType)
	ev.Agent = agent.String
	ev.Message = message.String
	ev.CorrelationID = correlationID.String
	if data.Valid {
		ev.Data = []byte(data.String)
	}
	return &ev, nil
}

// nullableString converts an empty string to nil for SQL parameters.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime converts a nil time pointer to nil for SQL parameters.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
