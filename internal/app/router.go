package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-gen-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/ratelimiter"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// quota may be nil, which disables the generation quota.
func BuildRouter(cfg config.Config, srv *httpserver.Server, quota ratelimiter.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id",
			httpserver.HeaderPollenKey, httpserver.HeaderPollenUserKey},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 230 * time.Second
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		api.Use(httpserver.TimeoutMiddleware(timeout))

		api.Post("/chat/completion", srv.ChatCompletionHandler())
		api.Post("/chat/title", srv.ChatTitleHandler())
		api.Post("/enhance-prompt", srv.EnhancePromptHandler())
		api.Post("/enhance-image-prompt", srv.EnhanceImagePromptHandler())
		api.Post("/web-search", srv.WebSearchHandler())
		api.Post("/vision", srv.VisionHandler())
		api.Get("/image/models", srv.ImageModelsHandler())

		api.Post("/storage/ingest", srv.StorageIngestHandler())
		api.Get("/gallery/list", srv.GalleryListHandler())
		api.Post("/media/ingest", srv.MediaIngestHandler())
		api.Post("/media/upload", srv.MediaUploadHandler())
		api.Post("/upload/sign-read", srv.SignReadHandler())
		api.Post("/upload/sign", srv.SignUploadHandler())
		api.Post("/upload/temp", srv.UploadTempHandler())
		api.Post("/upload/ingest", srv.UploadIngestHandler())
		api.Post("/speech-to-text", srv.DisabledFeatureHandler())
		api.Post("/text-to-speech", srv.DisabledFeatureHandler())

		// Image, video and audio generation spend the per-key quota.
		api.Group(func(gen chi.Router) {
			gen.Use(httpserver.GenerationQuota(quota))
			gen.Post("/generate", srv.GenerateImageHandler())
			gen.Post("/openai-image", srv.OpenAIImageHandler())
			gen.Post("/generate-bfl", srv.GenerateBFLHandler())
			gen.Post("/replicate", srv.ReplicateHandler())
			gen.Post("/replicate-tts", srv.ReplicateTTSHandler())
			gen.Post("/rdgr/replicate", srv.RDGRHandler())
			gen.Post("/compose", srv.ComposeHandler())
			gen.Post("/tts", srv.TTSHandler())
			gen.Post("/stt", srv.STTHandler())
		})
	})

	r.Route("/v1/jobs", func(jobs chi.Router) {
		jobs.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		jobs.With(httpserver.GenerationQuota(quota)).Post("/", srv.SubmitJobHandler())
		jobs.Get("/{id}", srv.GetJobHandler())
	})

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}
