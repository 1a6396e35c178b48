package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ameliahq/amelia/internal/core"
	"github.com/ameliahq/amelia/internal/service/orchestrator"
)

// startWorkflowRequest is the POST /workflows body.
type startWorkflowRequest struct {
	IssueID      string `json:"issue_id"`
	WorktreePath string `json:"worktree_path"`
	WorktreeName string `json:"worktree_name"`
	Profile      string `json:"profile,omitempty"`
}

// handleStartWorkflow admits a new workflow. Starts are rejected while
// the server is draining.
func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.lifecycle.ShuttingDown() {
		respondError(w, core.ErrShuttingDown())
		return
	}

	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, core.ErrValidation("INVALID_BODY", "request body is not valid JSON"))
		return
	}

	id, err := s.orch.StartWorkflow(r.Context(), orchestrator.StartRequest{
		IssueID:      req.IssueID,
		WorktreePath: req.WorktreePath,
		WorktreeName: req.WorktreeName,
		Profile:      req.Profile,
	}, nil)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"workflow_id": string(id)})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.orch.ListActiveWorkflows(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if workflows == nil {
		workflows = []*core.Workflow{}
	}
	respondJSON(w, http.StatusOK, workflows)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	wf, err := s.orch.GetWorkflow(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

// handleListEvents replays a workflow's persisted events. The optional
// ?after=N query returns only events with a greater sequence, which is
// how reconnecting stream clients catch up.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			respondError(w, core.ErrValidation("INVALID_AFTER", "after must be a non-negative integer"))
			return
		}
		after = parsed
	}

	if _, err := s.orch.GetWorkflow(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	events, err := s.orch.ListEvents(r.Context(), id, after)
	if err != nil {
		respondError(w, err)
		return
	}
	if events == nil {
		events = []*core.WorkflowEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}

// approveRequest is the POST /approve body.
type approveRequest struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) handleApproveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	var req approveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, core.ErrValidation("INVALID_BODY", "request body is not valid JSON"))
			return
		}
	}

	ok, err := s.orch.ApproveWorkflow(r.Context(), id, req.CorrelationID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"approved": ok})
}

// rejectRequest is the POST /reject body.
type rejectRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleRejectWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, core.ErrValidation("INVALID_BODY", "request body is not valid JSON"))
		return
	}
	if req.Feedback == "" {
		respondError(w, core.ErrValidation("FEEDBACK_REQUIRED", "rejection feedback cannot be empty"))
		return
	}

	ok, err := s.orch.RejectWorkflow(r.Context(), id, req.Feedback)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"rejected": ok})
}

// cancelRequest is the POST /cancel body.
type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))

	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, core.ErrValidation("INVALID_BODY", "request body is not valid JSON"))
			return
		}
	}

	// Cancellation is idempotent; unknown ids are still a 404 so
	// clients can distinguish typos from already-finished workflows.
	if _, err := s.orch.GetWorkflow(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	s.orch.CancelWorkflow(id, req.Reason)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
