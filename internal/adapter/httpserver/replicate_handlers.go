package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

const rdgrPasswordMessage = "Invalid or missing password. Please provide the correct password in the settings."

// splitModel takes "model" out of a flat request body; the rest is the
// prediction input.
func splitModel(body map[string]any) (string, map[string]any) {
	model, _ := body["model"].(string)
	input := make(map[string]any, len(body))
	for k, v := range body {
		if k != "model" {
			input[k] = v
		}
	}
	return model, input
}

func writeOutput(w http.ResponseWriter, out json.RawMessage) {
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"output": out})
}

// ReplicateHandler serves POST /api/replicate.
func (s *Server) ReplicateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if !decodeJSON(w, r, &body) {
			return
		}
		model, input := splitModel(body)
		out, err := s.Predictions.Run(r.Context(), model, input)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeOutput(w, out)
	}
}

// ReplicateTTSHandler serves POST /api/replicate-tts.
func (s *Server) ReplicateTTSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.SpeechRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		url, err := s.Predictions.Speech(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"audioUrl": url})
	}
}

// RDGRHandler serves POST /api/rdgr/replicate. When a tool password is
// configured the body must carry it.
func (s *Server) RDGRHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if !decodeJSON(w, r, &body) {
			return
		}
		if s.Cfg.ReplicateToolPassword != "" {
			given, _ := body["password"].(string)
			if !CheckToolPassword(given, s.Cfg.ReplicateToolPassword) {
				writeError(w, r, fmt.Errorf("%w: %s", domain.ErrUnauthorized, rdgrPasswordMessage), nil)
				return
			}
		}
		model, input := splitModel(body)
		out, err := s.Predictions.RDGR(r.Context(), model, input)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeOutput(w, out)
	}
}
