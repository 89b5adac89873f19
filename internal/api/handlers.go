package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"godiffex/adapters/annotation"
	"godiffex/app"
	"godiffex/domain/core"
	"godiffex/internal/config"
	"godiffex/internal/errors"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"database": s.results != nil,
	})
}

// handleAnalyze runs the engine on a matrix posted as JSON
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.slots.TryAcquire(1) {
		writeError(w, http.StatusTooManyRequests, errors.New("BUSY", "too many analyses in progress"))
		return
	}
	defer s.slots.Release(1)

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxBodyMB)<<20)
	var req AnalyzeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.fail(w, errors.InvalidInput("invalid request body: "+err.Error()))
		return
	}

	if len(req.Groups) == 0 {
		s.fail(w, errors.InvalidInput("groups are required"))
		return
	}
	m, err := req.matrix()
	if err != nil {
		s.fail(w, errors.InvalidInput(err.Error()))
		return
	}

	ar := app.AnalysisRequest{
		Name:   req.Name,
		Source: app.MemorySource{Matrix: m},
		Groups: config.GroupSpec{Labels: req.Groups, Order: req.GroupOrder},
		Model: config.ModelSpec{
			Adjust:        req.Options.Adjust,
			MaxIterations: req.Options.MaxIterations,
			Tolerance:     req.Options.Tolerance,
			Proportion:    req.Options.Proportion,
		},
		Output: config.OutputSpec{
			SortBy:          req.Options.SortBy,
			TopN:            req.Options.TopN,
			MaxAdjP:         req.Options.MaxAdjP,
			MinAbsEffect:    req.Options.MinAbsEffect,
			DropUnannotated: req.Options.DropUnannotated,
		},
		Persist: req.Persist,
	}
	for _, c := range req.Contrasts {
		ar.Contrasts = append(ar.Contrasts, config.ContrastEntry{Name: c.Name, Expr: c.Expr})
	}
	if req.Symbols != nil {
		ar.Annotator = annotation.NewMapAnnotator(req.Symbols)
	}

	report, err := s.service.Run(r.Context(), ar)
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := AnalyzeResponse{
		RunID:     report.Manifest.RunID.String(),
		Persisted: report.Persisted,
		Manifest:  report.Manifest,
		Tables:    make([]TableDTO, len(report.Tables)),
	}
	for i, t := range report.Tables {
		resp.Tables[i] = newTableDTO(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireResults(w) {
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.fail(w, err)
		return
	}

	runs, err := s.results.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]RunSummaryDTO, len(runs))
	for i, m := range runs {
		out[i] = newRunSummary(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireResults(w) {
		return
	}
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	m, err := s.results.GetRun(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	if !s.requireResults(w) {
		return
	}
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, err)
		return
	}

	contrast := r.URL.Query().Get("contrast")
	if contrast == "" {
		m, err := s.results.GetRun(r.Context(), id)
		if err != nil {
			s.fail(w, err)
			return
		}
		if len(m.Fingerprint.Parameters.Contrasts) != 1 {
			s.fail(w, errors.InvalidInput("run has several contrasts; pass ?contrast="))
			return
		}
		contrast = m.Fingerprint.Parameters.Contrasts[0]
	}

	table, err := s.results.GetResults(r.Context(), id, contrast, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTableDTO(*table))
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireResults(w) {
		return
	}
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	if err := s.results.DeleteRun(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireResults(w http.ResponseWriter) bool {
	if s.results == nil {
		writeError(w, http.StatusServiceUnavailable, errors.ConfigInvalid("no results database configured"))
		return false
	}
	return true
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (core.RunID, bool) {
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, errors.InvalidInput(err.Error()))
		return "", false
	}
	return id, true
}

// fail maps err to a status code by its error code
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(errors.GetCode(err))
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed: %v", err)
	} else {
		s.log.Debug("request rejected: %v", err)
	}
	writeError(w, status, err)
}

func statusFor(code string) int {
	switch code {
	case errors.CodeInvalidInput, errors.CodeConfigInvalid:
		return http.StatusBadRequest
	case errors.CodeInsufficientGroups, errors.CodeUnknownGroup, errors.CodeDegenerateDesign:
		return http.StatusUnprocessableEntity
	case errors.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.InvalidInput(name + " must be a non-negative integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Code: errors.GetCode(err), Message: err.Error()})
}
