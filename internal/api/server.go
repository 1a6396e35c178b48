// Package api provides the HTTP surface over the workflow orchestrator.
// Handlers are thin: every operation delegates to the orchestrator or
// the event store; no business logic lives here.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/ameliahq/amelia/internal/events"
	"github.com/ameliahq/amelia/internal/service/orchestrator"
)

// Server exposes workflow management over HTTP.
type Server struct {
	router    chi.Router
	orch      *orchestrator.Orchestrator
	lifecycle *orchestrator.Lifecycle
	bus       *events.Bus
	logger    *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new API server.
func NewServer(orch *orchestrator.Orchestrator, lifecycle *orchestrator.Lifecycle, bus *events.Bus, opts ...ServerOption) *Server {
	s := &Server{
		orch:      orch,
		lifecycle: lifecycle,
		bus:       bus,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	// CORS for the dashboard
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleStartWorkflow)

			r.Route("/{workflowID}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Get("/events", s.handleListEvents)
				r.Post("/approve", s.handleApproveWorkflow)
				r.Post("/reject", s.handleRejectWorkflow)
				r.Post("/cancel", s.handleCancelWorkflow)
			})
		})

		// SSE stream of live events
		r.Get("/events", s.handleSSE)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// handleHealth reports liveness and the drain state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.lifecycle.ShuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":           status,
		"active_workflows": s.orch.ActiveCount(),
	})
}
