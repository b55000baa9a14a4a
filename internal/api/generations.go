package api

import (
	stdErrors "errors"
	"net/http"
	"strings"

	xerrors "ContractReview/internal/errors"
	"ContractReview/internal/task"
)

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "generation jobs are disabled")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitGeneration(w, r)
	case http.MethodGet:
		s.handleListGenerations(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmitGeneration(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGenerateRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if xerrors.CodeOf(err) == task.CodeJobValidation {
			status = http.StatusBadRequest
		}
		writeError(w, status, xerrors.SummaryOf(err))
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, xerrors.SummaryOf(err))
		return
	}
	if jobs == nil {
		jobs = []*task.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleGenerationDetail 处理 /api/v1/generations/{id} 与 /api/v1/generations/stats。
func (s *Server) handleGenerationDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "generation jobs are disabled")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/generations/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}
	if id == "stats" {
		stats, err := s.jobs.Stats(r.Context(), listOptionsFromQuery(r)...)
		if err != nil {
			writeError(w, http.StatusInternalServerError, xerrors.SummaryOf(err))
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, task.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, xerrors.SummaryOf(err))
			return
		}
		writeError(w, http.StatusInternalServerError, xerrors.SummaryOf(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func listOptionsFromQuery(r *http.Request) []task.ListOption {
	query := r.URL.Query()
	opts := []task.ListOption{task.WithLimit(parseLimit(r, 0))}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if modelID := query.Get("model_id"); modelID != "" {
		opts = append(opts, task.WithModelID(modelID))
	}
	return opts
}
