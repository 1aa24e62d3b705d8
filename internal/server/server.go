// Package server exposes the review and control surface of a running
// pipeline over HTTP: run status, pending approval batches, operator
// controls and a live event stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/assetsmith/internal/approval"
	"github.com/sells-group/assetsmith/internal/config"
	"github.com/sells-group/assetsmith/internal/events"
	"github.com/sells-group/assetsmith/internal/model"
	"github.com/sells-group/assetsmith/internal/pipeline"
	"github.com/sells-group/assetsmith/internal/store"
)

// anonymousActor is recorded when a reviewer omits the X-Reviewer header.
const anonymousActor = "anonymous"

// Server handles review and control requests for one pipeline.
type Server struct {
	pipe *pipeline.Pipeline
	st   store.Store
	pub  *events.Publisher
}

// New creates a server over the given pipeline.
func New(pipe *pipeline.Pipeline, st store.Store, pub *events.Publisher) *Server {
	return &Server{pipe: pipe, st: st, pub: pub}
}

// Router builds the HTTP routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Reviewer"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/run", s.handleRun)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{runID}/manifest", s.handleManifest)
		r.Get("/approvals", s.handleApprovals)
		r.Post("/approvals/{batchID}", s.handleDecision)
		r.Post("/control", s.handleControl)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Listen serves until ctx is done, then shuts down gracefully. It is a thin
// wrapper for the serve command; handlers are tested through Router.
func (s *Server) Listen(srv *http.Server, cfg config.ServerConfig) error {
	srv.Addr = fmt.Sprintf(":%d", cfg.Port)
	srv.Handler = s.Router()
	zap.L().Info("server: listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runStatus is the live view of the run in progress.
type runStatus struct {
	RunID    string            `json:"run_id,omitempty"`
	Active   bool              `json:"active"`
	Paused   bool              `json:"paused"`
	Aborted  bool              `json:"aborted"`
	Speed    string            `json:"speed"`
	Spent    float64           `json:"spent"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	ctrl := s.pipe.Controller()
	status := runStatus{
		RunID:   s.pipe.RunID(),
		Active:  s.pipe.RunID() != "",
		Paused:  ctrl.Paused(),
		Aborted: ctrl.Aborted(),
		Speed:   string(ctrl.CurrentSpeed()),
		Spent:   s.pipe.Spent(),
	}
	for provider, state := range s.pipe.BreakerStates() {
		if status.Breakers == nil {
			status.Breakers = make(map[string]string)
		}
		status.Breakers[provider] = state.String()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.st.ListRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	entries, err := s.st.GetManifest(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load manifest failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleApprovals(w http.ResponseWriter, _ *http.Request) {
	gate := s.pipe.Gate()
	if gate == nil {
		writeJSON(w, http.StatusOK, []model.ApprovalBatch{})
		return
	}
	writeJSON(w, http.StatusOK, gate.Pending())
}

// decisionRequest is the reviewer's verdict payload.
type decisionRequest struct {
	Action        string            `json:"action"`
	ApprovedIDs   []string          `json:"approved_ids,omitempty"`
	EditedPrompts map[string]string `json:"edited_prompts,omitempty"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	gate := s.pipe.Gate()
	if gate == nil {
		writeError(w, http.StatusConflict, "no run in progress")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	action := model.DecisionAction(req.Action)
	switch action {
	case model.DecisionApprove, model.DecisionReject, model.DecisionPartial, model.DecisionModify:
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if action == model.DecisionPartial && len(req.ApprovedIDs) == 0 {
		writeError(w, http.StatusBadRequest, "partial decision needs approved_ids")
		return
	}

	actor := r.Header.Get("X-Reviewer")
	if actor == "" {
		actor = anonymousActor
	}

	d := model.Decision{
		BatchID:       chi.URLParam(r, "batchID"),
		Action:        action,
		ApprovedIDs:   req.ApprovedIDs,
		EditedPrompts: req.EditedPrompts,
		Actor:         actor,
		DecidedAt:     time.Now().UTC(),
	}
	if err := gate.Resolve(r.Context(), d); err != nil {
		if errors.Is(err, approval.ErrUnknownBatch) {
			writeError(w, http.StatusNotFound, "unknown batch")
			return
		}
		zap.L().Error("server: decision failed",
			zap.String("batch_id", d.BatchID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "decision failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"batch_id": d.BatchID, "status": "decided"})
}

// controlRequest is an operator command.
type controlRequest struct {
	Command string `json:"command"`
	AssetID string `json:"asset_id,omitempty"`
	Speed   string `json:"speed,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctrl := s.pipe.Controller()
	switch req.Command {
	case "pause":
		ctrl.Pause()
	case "resume":
		ctrl.Resume()
	case "abort":
		ctrl.Abort()
	case "skip":
		if req.AssetID == "" {
			writeError(w, http.StatusBadRequest, "skip needs asset_id")
			return
		}
		ctrl.Skip(req.AssetID)
	case "speed":
		speed, ok := pipeline.ParseSpeed(req.Speed)
		if !ok {
			writeError(w, http.StatusBadRequest, "speed must be slow, normal or fast")
			return
		}
		ctrl.SetSpeed(speed)
	default:
		writeError(w, http.StatusBadRequest, "unknown command")
		return
	}

	zap.L().Info("server: control command",
		zap.String("command", req.Command),
		zap.String("asset_id", req.AssetID),
	)
	writeJSON(w, http.StatusOK, map[string]string{"command": req.Command, "status": "accepted"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
