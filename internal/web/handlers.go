package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/careops/surveyci/internal/approval"
	"github.com/careops/surveyci/internal/orchestrator"
	"github.com/careops/surveyci/internal/pipeline"
	"github.com/careops/surveyci/internal/trigger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerRequest is the POST /api/triggers body. Params uses the raw
// string form so webhook senders don't need typed booleans.
type triggerRequest struct {
	Event  string            `json:"event"`
	Branch string            `json:"branch"`
	Commit string            `json:"commit"`
	Params map[string]string `json:"params"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	params, err := trigger.ParseParams(req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tr := trigger.New(pipeline.EventKind(req.Event), req.Branch, req.Commit, params)
	run, err := s.manager.Submit(tr)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, orchestrator.ErrShuttingDown) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}

	s.logger.Info("trigger accepted", "trigger", tr.ID, "run_id", run.ID, "branch", run.Branch)
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("branch")
	status := pipeline.Status(r.URL.Query().Get("status"))

	runs, err := s.store.List(branch, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// approvalRequest is the POST /api/runs/{id}/approval body.
type approvalRequest struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
	Strategy string `json:"strategy"`
	Backup   bool   `json:"backup_before_deploy"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Approved {
		if strings.TrimSpace(req.Approver) == "" {
			writeError(w, http.StatusBadRequest, errors.New("approver is required"))
			return
		}
		if err := trigger.ValidateStrategy(req.Strategy); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	err := s.broker.Resolve(runID, approval.Decision{
		Approved: req.Approved,
		Approver: req.Approver,
		Strategy: req.Strategy,
		Backup:   req.Backup,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, approval.ErrNotPending) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}

	s.logger.Info("approval resolved",
		"run_id", runID, "approved", req.Approved, "approver", req.Approver)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	pending := s.broker.Pending()
	if pending == nil {
		pending = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
}
