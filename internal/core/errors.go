package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input
	ErrCatConflict    ErrorCategory = "conflict"    // Worktree already claimed
	ErrCatCapacity    ErrorCategory = "capacity"    // Concurrency ceiling reached
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource not found
	ErrCatState       ErrorCategory = "state"       // Disallowed status transition
	ErrCatPersistence ErrorCategory = "persistence" // Event store failure
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	Details  map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on Category and Code only, so callers can compare against a
// sentinel built with an empty message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes used by the orchestrator core.
const (
	CodeWorkflowConflict  = "WORKFLOW_CONFLICT"
	CodeConcurrencyLimit  = "CONCURRENCY_LIMIT"
	CodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodePersistence       = "PERSISTENCE_FAILURE"
	CodeShuttingDown      = "SHUTTING_DOWN"
)

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrWorkflowConflict reports that a worktree already has an active workflow.
func ErrWorkflowConflict(worktreePath string, existing WorkflowID) *DomainError {
	e := &DomainError{
		Category: ErrCatConflict,
		Code:     CodeWorkflowConflict,
		Message:  fmt.Sprintf("worktree %s already has an active workflow", worktreePath),
	}
	e.WithDetail("worktree_path", worktreePath)
	if existing != "" {
		e.WithDetail("workflow_id", string(existing))
	}
	return e
}

// ErrConcurrencyLimit reports that the global workflow ceiling was reached.
func ErrConcurrencyLimit(limit int) *DomainError {
	e := &DomainError{
		Category: ErrCatCapacity,
		Code:     CodeConcurrencyLimit,
		Message:  fmt.Sprintf("maximum of %d concurrent workflows reached", limit),
	}
	return e.WithDetail("limit", limit)
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeWorkflowNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrInvalidTransition reports a disallowed status transition.
func ErrInvalidTransition(id WorkflowID, from, to WorkflowStatus) *DomainError {
	e := &DomainError{
		Category: ErrCatState,
		Code:     CodeInvalidTransition,
		Message:  fmt.Sprintf("workflow %s cannot transition from %s to %s", id, from, to),
	}
	e.WithDetail("from", string(from))
	return e.WithDetail("to", string(to))
}

// ErrPersistence wraps an event-store failure.
func ErrPersistence(message string, cause error) *DomainError {
	return &DomainError{
		Category: ErrCatPersistence,
		Code:     CodePersistence,
		Message:  message,
		Cause:    cause,
	}
}

// ErrShuttingDown reports that the server is draining and rejects new work.
func ErrShuttingDown() *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     CodeShuttingDown,
		Message:  "server is shutting down",
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}
