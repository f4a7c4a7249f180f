package httpserver

import (
	"errors"
	"net/http"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

// ChatCompletionHandler serves POST /api/chat/completion. The provider
// answer is relayed as-is.
func (s *Server) ChatCompletionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.CompletionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, _ := s.pollenKey(r)
		out, err := s.Chat.Complete(r.Context(), key, req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Body)
	}
}

// ChatTitleHandler serves POST /api/chat/title.
func (s *Server) ChatTitleHandler() http.HandlerFunc {
	type request struct {
		Messages string `json:"messages"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		key, _ := s.pollenKey(r)
		title, err := s.Titles.Generate(r.Context(), key, req.Messages)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"title": title})
	}
}

// EnhancePromptHandler serves POST /api/enhance-prompt.
func (s *Server) EnhancePromptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.EnhanceRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, _ := s.pollenKey(r)
		res, err := s.Enhance.Enhance(r.Context(), key, req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// EnhanceImagePromptHandler serves POST /api/enhance-image-prompt. A
// provider failure still answers with the original prompt.
func (s *Server) EnhanceImagePromptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.ImagePromptRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := s.Enhance.EnhanceImagePrompt(r.Context(), req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, res)
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, r, err, nil)
		default:
			logError(r, http.StatusInternalServerError, err)
			writeJSON(w, http.StatusInternalServerError, res)
		}
	}
}

// WebSearchHandler serves POST /api/web-search.
func (s *Server) WebSearchHandler() http.HandlerFunc {
	type request struct {
		Query string `json:"query"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		key, _ := s.pollenKey(r)
		res, err := s.Search.Search(r.Context(), key, req.Query)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// VisionHandler serves POST /api/vision. Failures keep the
// {success, error, timestamp} shape.
func (s *Server) VisionHandler() http.HandlerFunc {
	type failure struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.VisionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, byop := s.pollenKey(r)
		res, err := s.Vision.Analyze(r.Context(), key, byop, req)
		if err != nil {
			status, body := errorResponse(err)
			if status != http.StatusBadRequest {
				status = http.StatusInternalServerError
			}
			logError(r, status, err)
			writeJSON(w, status, failure{Success: false, Error: body.Error, Timestamp: s.Vision.Timestamp()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
