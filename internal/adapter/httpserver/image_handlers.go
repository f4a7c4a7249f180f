package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

const openAIImageModel = "gptimage"

func writeMedia(w http.ResponseWriter, m domain.Media, noStore bool) {
	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(m.Data)))
	if noStore {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(m.Data)
}

// writeImageError renders image failures with the model that was asked for.
// Unclassified failures name the handler the way clients expect.
func writeImageError(w http.ResponseWriter, r *http.Request, err error, model, handler string) {
	status, body := errorResponse(err)
	if body.ModelUsed == "" {
		body.ModelUsed = model
	}
	if status == http.StatusInternalServerError && body.Code == "INTERNAL" {
		body.Error = "Internal server error in " + handler + " handler: " + body.Error
	}
	logError(r, status, err)
	writeJSON(w, status, body)
}

type imageFunc func(ctx context.Context, key string, req usecase.ImageRequest) (domain.Media, error)

func (s *Server) imageHandler(render imageFunc, fixedModel, handler string, noStore bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.ImageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		model := fixedModel
		if model == "" {
			model = req.Model
			if model == "" {
				model = "unknown"
			}
		}
		key, _ := s.pollenKey(r)
		media, err := render(r.Context(), key, req)
		if err != nil {
			writeImageError(w, r, err, model, handler)
			return
		}
		writeMedia(w, media, noStore)
	}
}

// GenerateImageHandler serves POST /api/generate with the image bytes.
func (s *Server) GenerateImageHandler() http.HandlerFunc {
	return s.imageHandler(s.Images.Generate, "", "Pollinations", false)
}

// OpenAIImageHandler serves POST /api/openai-image. The reply is never cached.
func (s *Server) OpenAIImageHandler() http.HandlerFunc {
	return s.imageHandler(s.Images.OpenAIImage, openAIImageModel, "gptimage (Pollinations)", true)
}

// ImageModelsHandler serves GET /api/image/models. Failures still carry
// the supported model list.
func (s *Server) ImageModelsHandler() http.HandlerFunc {
	type response struct {
		Error  string   `json:"error,omitempty"`
		Models []string `json:"models"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := s.Images.Models(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, response{Models: models})
			return
		}
		status := http.StatusInternalServerError
		var ue *domain.UpstreamError
		if errors.As(err, &ue) || errors.Is(err, domain.ErrBadGateway) || errors.Is(err, domain.ErrUpstream) {
			status = http.StatusBadGateway
		}
		if ue != nil && ue.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
		var msg string
		switch {
		case ue != nil:
			msg = ue.Error()
		case status == http.StatusBadGateway:
			_, body := errorResponse(err)
			msg = body.Error
		default:
			msg = "Internal server error: " + err.Error()
		}
		logError(r, status, err)
		writeJSON(w, status, response{Error: msg, Models: models})
	}
}

// GenerateBFLHandler serves POST /api/generate-bfl. The request body is
// passed through to BFL.
func (s *Server) GenerateBFLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if !decodeJSON(w, r, &body) {
			return
		}
		url, err := s.Images.GenerateBFL(r.Context(), body)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"imageUrl": url})
	}
}
