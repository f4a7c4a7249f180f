package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

// Header names for a caller supplied Pollinations key.
const (
	HeaderPollenKey     = "X-Pollen-Key"
	HeaderPollenUserKey = "X-Pollen-User-Key"
)

// ReadinessCheck is one named dependency check for /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg         config.Config
	Chat        *usecase.ChatService
	Titles      usecase.TitleService
	Enhance     *usecase.EnhanceService
	Images      *usecase.ImageService
	Predictions *usecase.PredictionService
	Storage     *usecase.StorageService
	Media       *usecase.MediaService
	Uploads     *usecase.UploadService
	Audio       usecase.AudioService
	Vision      *usecase.VisionService
	Search      usecase.SearchService
	Jobs        *usecase.JobService
	Checks      []ReadinessCheck
}

// byopKey is the trimmed key the caller brought, if any.
func byopKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(HeaderPollenKey)); k != "" {
		return k
	}
	return strings.TrimSpace(r.Header.Get(HeaderPollenUserKey))
}

// pollenKey resolves the Pollinations key for r. byop is true when the key
// came from the request rather than the server environment.
func (s *Server) pollenKey(r *http.Request) (key string, byop bool) {
	if k := byopKey(r); k != "" {
		return k, true
	}
	return s.Cfg.PollenKey(), false
}

// HealthzHandler reports liveness only.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler runs every readiness check under a shared 2s deadline.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, len(s.Checks))
		ok := true
		for _, c := range s.Checks {
			if err := c.Check(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: c.Name, OK: false, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
