package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

func writeJobsUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, http.StatusServiceUnavailable, err)
	writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error: "Async generation jobs are not enabled on this server",
		Code:  "NOT_CONFIGURED",
	})
}

// SubmitJobHandler serves POST /v1/jobs and answers 202 with the queued job.
func (s *Server) SubmitJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Jobs == nil || !s.Jobs.Enabled() {
			writeJobsUnavailable(w, r, domain.ErrNotConfigured)
			return
		}
		var req usecase.JobRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		job, err := s.Jobs.Submit(r.Context(), req)
		if err != nil {
			if errors.Is(err, domain.ErrNotConfigured) {
				writeJobsUnavailable(w, r, err)
				return
			}
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Location", "/v1/jobs/"+job.ID)
		writeJSON(w, http.StatusAccepted, usecase.ViewOf(job))
	}
}

// GetJobHandler serves GET /v1/jobs/{id}.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Jobs == nil || !s.Jobs.Enabled() {
			writeJobsUnavailable(w, r, domain.ErrNotConfigured)
			return
		}
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err != nil {
			writeError(w, r, fmt.Errorf("%w: job id must be a UUID", domain.ErrInvalidArgument), map[string]string{"id": "uuid"})
			return
		}
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, usecase.ViewOf(job))
	}
}
