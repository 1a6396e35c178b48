package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ameliahq/amelia/internal/core"
)

// handleSSE streams live workflow events to the client. The stream
// carries no history: clients replay missed events from
// GET /workflows/{id}/events?after=N and then attach here.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}

	ctx := r.Context()

	// Bus callbacks run on the emitter's goroutine, so hand events to
	// the connection goroutine through a buffered channel. A client
	// that cannot keep up loses events and must replay from the store.
	eventCh := make(chan *core.WorkflowEvent, 64)
	subID := s.bus.Subscribe(func(ev *core.WorkflowEvent) {
		select {
		case eventCh <- ev:
		default:
		}
	})
	defer s.bus.Unsubscribe(subID)

	s.logger.Info("SSE client connected", "remote_addr", r.RemoteAddr)

	s.sendSSEEvent(w, flusher, "connected", map[string]string{"status": "connected"})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", "remote_addr", r.RemoteAddr)
			return
		case ev := <-eventCh:
			s.sendSSEEvent(w, flusher, string(ev.Type), ev)
		}
	}
}

// sendSSEEvent writes one event in SSE wire format.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	// SSE format: event: type\ndata: json\n\n
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
