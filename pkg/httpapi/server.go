// Package httpapi exposes the control surface over HTTP: scheduler status
// and controls, the feature list with approval actions, recent logs, and
// Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conductor/pkg/board"
	"conductor/pkg/config"
	"conductor/pkg/logx"
	"conductor/pkg/scheduler"
)

// FeatureBoard is the store surface the API serves. Satisfied by
// persistence.Store.
type FeatureBoard interface {
	ListAll() ([]*board.Feature, error)
	Approve(id string) error
	Verify(id string) error
	Requeue(id string) error
}

// Server serves the JSON control API for one project.
type Server struct {
	sched      *scheduler.Scheduler
	features   FeatureBoard
	logger     *logx.Logger
	httpServer *http.Server
}

// NewServer creates the API server bound to addr.
func NewServer(addr string, sched *scheduler.Scheduler, features FeatureBoard) *Server {
	s := &Server{
		sched:    sched,
		features: features,
		logger:   logx.NewLogger("httpapi"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/features", s.handleFeatures)
	mux.HandleFunc("POST /api/features/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/features/{id}/verify", s.handleVerify)
	mux.HandleFunc("POST /api/features/{id}/requeue", s.handleRequeue)
	mux.HandleFunc("POST /api/automode/enable", s.handleEnable)
	mux.HandleFunc("POST /api/automode/disable", s.handleDisable)
	mux.HandleFunc("POST /api/concurrency", s.handleConcurrency)
	mux.HandleFunc("POST /api/agent", s.handleAgent)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("control API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control API server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	features, err := s.features.ListAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if features == nil {
		features = []*board.Feature{}
	}
	s.writeJSON(w, http.StatusOK, features)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.featureAction(w, r, s.features.Approve)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.featureAction(w, r, s.features.Verify)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	s.featureAction(w, r, s.features.Requeue)
}

// featureAction runs a status action and pokes the scheduler so freed or
// newly satisfied features are picked up without waiting for another event.
func (s *Server) featureAction(w http.ResponseWriter, r *http.Request, action func(string) error) {
	id := r.PathValue("id")
	if err := action(id); err != nil {
		status := http.StatusConflict
		if errors.Is(err, board.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	s.sched.Poke()
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "result": "ok"})
}

func (s *Server) handleEnable(w http.ResponseWriter, _ *http.Request) {
	s.sched.Enable()
	s.writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleDisable(w http.ResponseWriter, _ *http.Request) {
	s.sched.Disable()
	s.writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleConcurrency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.sched.SetConcurrency(req.Limit); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.persistConcurrency(req.Limit)
	s.writeJSON(w, http.StatusOK, s.sched.Status())
}

// persistConcurrency carries the new limit into the project config so it
// survives restarts. The live scheduler is already updated; a persist
// failure is logged, not surfaced.
func (s *Server) persistConcurrency(limit int) {
	cfg, err := config.GetConfig()
	if err != nil {
		return // No project config in this process (tests, embedded use).
	}
	schedCfg := cfg.Scheduler
	schedCfg.Concurrency = limit
	if err := config.UpdateScheduler(&schedCfg); err != nil {
		s.logger.Warn("failed to persist concurrency limit: %v", err)
	}
}

// handleAgent updates the default agent settings used for new sessions.
// Takes effect for sessions dispatched after the next process restart; the
// live runner keeps its configuration.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req config.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := config.UpdateAgent(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	component := r.URL.Query().Get("component")

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since timestamp: %w", err))
			return
		}
		since = parsed
	}

	s.writeJSON(w, http.StatusOK, logx.RecentEntries(component, since))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
