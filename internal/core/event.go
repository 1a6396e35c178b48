package core

import (
	"encoding/json"
	"time"
)

// EventID uniquely identifies a workflow event.
type EventID string

// EventType tags a workflow event. The orchestrator emits the fixed set
// below; runners may add their own tags, which the core treats as opaque.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventStageStarted      EventType = "stage_started"
	EventStageCompleted    EventType = "stage_completed"
	EventStageFailed       EventType = "stage_failed"
	EventApprovalRequired  EventType = "approval_required"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalRejected  EventType = "approval_rejected"
	EventFileCreated       EventType = "file_created"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
)

// WorkflowEvent is an ordered, durable record of a workflow-visible step.
// Sequence numbers are 1-based and gap-free per workflow.
type WorkflowEvent struct {
	ID            EventID         `json:"id"`
	WorkflowID    WorkflowID      `json:"workflow_id"`
	Sequence      int64           `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
	Agent         string          `json:"agent"`
	Type          EventType       `json:"event_type"`
	Message       string          `json:"message"`
	Data          json.RawMessage `json:"data,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}
