package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/export"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/store"
	"github.com/sells-group/lexleads/internal/workflow"
)

const maxQueryLen = 500

type startRequest struct {
	Query string `json:"query"`
}

type startResponse struct {
	RunID  string               `json:"run_id"`
	Status model.WorkflowStatus `json:"status"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Query) > maxQueryLen {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("query exceeds %d characters", maxQueryLen))
		return
	}

	runID, err := s.orch.Start(s.baseCtx, req.Query)
	if err != nil {
		s.respondWithRunError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, startResponse{RunID: runID, Status: s.orch.Snapshot().Status})
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	runID, err := s.orch.Retry(s.baseCtx)
	if err != nil {
		s.respondWithRunError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, startResponse{RunID: runID, Status: s.orch.Snapshot().Status})
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	if !s.orch.Cancel() {
		respondWithError(w, http.StatusConflict, "no run in progress")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.completedSnapshot(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", attachment(snap, "csv"))
	if err := export.WriteCSV(w, snap.Leads, s.opts.Export.Headers); err != nil {
		zap.L().Error("api: export csv", zap.Error(err))
	}
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.completedSnapshot(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", attachment(snap, "xlsx"))
	if err := export.WriteXLSX(w, snap.Leads, s.opts.Export.Headers, s.opts.Export.SheetName); err != nil {
		zap.L().Error("api: export xlsx", zap.Error(err))
	}
}

// completedSnapshot returns the current snapshot when it holds exportable
// leads, writing a 409 otherwise.
func (s *Server) completedSnapshot(w http.ResponseWriter) (model.Snapshot, bool) {
	snap := s.orch.Snapshot()
	if snap.Status != model.StatusComplete || len(snap.Leads) == 0 {
		respondWithError(w, http.StatusConflict, "no completed run with leads to export")
		return snap, false
	}
	return snap, true
}

func attachment(snap model.Snapshot, ext string) string {
	name := "leads"
	if len(snap.RunID) >= 8 {
		name += "-" + snap.RunID[:8]
	}
	return fmt.Sprintf(`attachment; filename="%s.%s"`, name, ext)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		respondWithError(w, http.StatusNotImplemented, "run history is disabled")
		return
	}

	filter := store.RunFilter{Status: model.WorkflowStatus(r.URL.Query().Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		respondWithError(w, http.StatusBadRequest, "unknown status")
		return
	}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		respondWithError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		respondWithError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	runs, err := s.opts.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		respondWithError(w, http.StatusNotImplemented, "run history is disabled")
		return
	}

	run, err := s.opts.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get run", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		respondWithError(w, http.StatusNotImplemented, "stats are disabled")
		return
	}
	hours, err := intParam(r, "hours")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "hours must be an integer")
		return
	}

	snap, err := s.opts.Stats.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("api: collect stats", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not collect stats")
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, p := range s.opts.Checks {
		if err := p.Ping(ctx); err != nil {
			zap.L().Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			status[name] = "unhealthy"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "healthy"
	}
	respondWithJSON(w, code, status)
}

// respondWithRunError maps orchestrator errors to status codes.
func (s *Server) respondWithRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrBlankQuery):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrRunActive), errors.Is(err, workflow.ErrNothingToRetry):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		zap.L().Error("api: start run", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "could not start run")
	}
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, eris.Errorf("invalid %s", name)
	}
	return n, nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

// requestLogger logs each request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
