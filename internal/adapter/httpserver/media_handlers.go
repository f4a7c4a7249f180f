package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

// multipartOverhead is the room left for boundaries and headers on top of
// the media size limit.
const multipartOverhead = 1 << 20

// StorageIngestHandler serves POST /api/storage/ingest.
func (s *Server) StorageIngestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.IngestRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := s.Storage.Ingest(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GalleryListHandler serves GET /api/gallery/list?slug=.
func (s *Server) GalleryListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.Storage.List(r.Context(), r.URL.Query().Get("slug"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

// MediaIngestHandler serves POST /api/media/ingest.
func (s *Server) MediaIngestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.MediaIngestRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, _ := s.pollenKey(r)
		obj, err := s.Media.Ingest(r.Context(), key, req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, obj)
	}
}

// MediaUploadHandler serves POST /api/media/upload with a multipart "file"
// field and relays the Pollinations answer.
func (s *Server) MediaUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, _ := s.pollenKey(r)
		if key == "" {
			writeError(w, r, fmt.Errorf("%w: Missing Pollinations API key", domain.ErrUnauthorized), nil)
			return
		}
		f, ok := readFormFile(w, r, "file", pollinations.MaxMediaBytes,
			"File too large for Pollinations Media Storage (max 10MB)", "Missing file field in multipart form-data")
		if !ok {
			return
		}
		out, err := s.Media.Upload(r.Context(), key, f.filename, f.data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type formFile struct {
	data        []byte
	filename    string
	contentType string
}

// readFormFile reads one multipart file field of at most limit bytes. On
// failure the error reply is already written and ok is false.
func readFormFile(w http.ResponseWriter, r *http.Request, field string, limit int64, tooLarge, missing string) (formFile, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	file, header, err := r.FormFile(field)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, r, fmt.Errorf("%w: %s", domain.ErrPayloadTooLarge, tooLarge), nil)
			return formFile{}, false
		}
		writeError(w, r, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, missing), nil)
		return formFile{}, false
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err), nil)
		return formFile{}, false
	}
	if int64(len(data)) > limit {
		writeError(w, r, fmt.Errorf("%w: %s", domain.ErrPayloadTooLarge, tooLarge), nil)
		return formFile{}, false
	}
	return formFile{data: data, filename: header.Filename, contentType: header.Header.Get("Content-Type")}, true
}

// UploadTempHandler serves POST /api/upload/temp with a multipart "file"
// field.
func (s *Server) UploadTempHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := readFormFile(w, r, "file", usecase.MaxIngestBytes, "File too large (max 25MB)", "No file provided")
		if !ok {
			return
		}
		out, err := s.Uploads.UploadTemp(r.Context(), f.filename, f.data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// UploadIngestHandler serves POST /api/upload/ingest.
func (s *Server) UploadIngestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.UploadIngestRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		out, err := s.Uploads.Ingest(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// SignReadHandler serves POST /api/upload/sign-read.
func (s *Server) SignReadHandler() http.HandlerFunc {
	type request struct {
		Key string `json:"key"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		out, err := s.Media.SignRead(req.Key)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// SignUploadHandler answers the retired POST /api/upload/sign.
func (s *Server) SignUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, fmt.Errorf("%w: Deprecated endpoint. Use /api/media/upload.", domain.ErrGone), nil)
	}
}

// ComposeHandler serves POST /api/compose.
func (s *Server) ComposeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.ComposeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, _ := s.pollenKey(r)
		res, err := s.Audio.Compose(r.Context(), key, req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// TTSHandler serves POST /api/tts.
func (s *Server) TTSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usecase.TTSRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, _ := s.pollenKey(r)
		uri, err := s.Audio.Speak(r.Context(), key, req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"audioDataUri": uri})
	}
}

// STTHandler serves POST /api/stt with a multipart "audioFile" field.
func (s *Server) STTHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := readFormFile(w, r, "audioFile", usecase.MaxTranscribeBytes,
			"Audio file too large (max 25MB)", "Missing required field: audioFile")
		if !ok {
			return
		}
		key, _ := s.pollenKey(r)
		res, err := s.Audio.Transcribe(r.Context(), key, domain.Media{Data: f.data, ContentType: f.contentType})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// DisabledFeatureHandler answers routes whose feature was switched off.
func (s *Server) DisabledFeatureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, fmt.Errorf("%w: This feature has been disabled.", domain.ErrGone), nil)
	}
}
