package app

import (
	"fmt"

	httpserver "github.com/fairyhunter13/ai-gen-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/bfl"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/mistral"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/replicate"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/storage/catbox"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/storage/supabase"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

// Clients that download caller supplied media URLs. They are kept apart
// from the provider clients so source failures never trip a provider breaker.
const (
	sourceProvider       = "source"
	mediaSourceProvider  = "media_source"
	uploadSourceProvider = "upload_source"
)

// Services bundles the use case layer shared by the server and the worker.
type Services struct {
	Catalog     *config.Catalog
	Breakers    *observability.CircuitBreakerManager
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
}

// LoadCatalog returns the catalog named by CATALOG_PATH or the embedded one.
func LoadCatalog(cfg config.Config) (*config.Catalog, error) {
	if cfg.CatalogPath == "" {
		return config.MustDefaultCatalog(), nil
	}
	c, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("op=app.LoadCatalog: %w", err)
	}
	return c, nil
}

// NewServices wires provider clients into the use case services. webCache
// backs the web context lookups; jobs and queue may be nil when async jobs
// are disabled.
func NewServices(cfg config.Config, catalog *config.Catalog, webCache domain.WebContextCache, jobs domain.JobRepository, queue domain.Queue) *Services {
	breakers := observability.NewCircuitBreakerManager(cfg.BreakerFailures, cfg.BreakerOpenFor, upstream.IsBreakerFailure)

	poll := pollinations.NewFromConfig(cfg, breakers)
	mis := mistral.NewFromConfig(cfg, catalog, breakers)
	rep := replicate.NewFromConfig(cfg, breakers)
	bf := bfl.NewFromConfig(cfg, breakers)
	store := supabase.NewFromConfig(cfg, breakers)
	source := upstream.NewSourceClient(cfg, sourceProvider)

	web := usecase.NewWebContextService(poll, webCache, catalog, cfg)
	chat := usecase.NewChatService(poll, mis, web, usecase.SmartRouter{Catalog: catalog})
	images := usecase.NewImageService(poll, bf, catalog, cfg)
	predictions := usecase.NewPredictionService(rep, catalog, cfg)

	s := &Services{
		Catalog:     catalog,
		Breakers:    breakers,
		Chat:        chat,
		Titles:      usecase.TitleService{API: poll},
		Enhance:     usecase.NewEnhanceService(chat, mis, catalog, cfg),
		Images:      images,
		Predictions: predictions,
		Storage:     usecase.NewStorageService(store, source, cfg.SupabaseBucket),
		Media:       usecase.NewMediaService(poll, upstream.NewSourceClient(cfg, mediaSourceProvider), cfg),
		Uploads:     usecase.NewUploadService(catbox.NewFromConfig(cfg, breakers), store, upstream.NewSourceClient(cfg, uploadSourceProvider), cfg),
		Audio:       usecase.AudioService{API: poll, Catalog: catalog},
		Vision:      usecase.NewVisionService(poll, cfg.PollenKey() != ""),
		Search:      usecase.SearchService{API: poll},
	}
	if jobs != nil {
		s.Jobs = &usecase.JobService{Repo: jobs, Queue: queue, Predictions: predictions, Images: images}
	}
	return s
}

// Server builds the HTTP handler set over s.
func (s *Services) Server(cfg config.Config, checks []httpserver.ReadinessCheck) *httpserver.Server {
	return &httpserver.Server{
		Cfg:         cfg,
		Chat:        s.Chat,
		Titles:      s.Titles,
		Enhance:     s.Enhance,
		Images:      s.Images,
		Predictions: s.Predictions,
		Storage:     s.Storage,
		Media:       s.Media,
		Uploads:     s.Uploads,
		Audio:       s.Audio,
		Vision:      s.Vision,
		Search:      s.Search,
		Jobs:        s.Jobs,
		Checks:      checks,
	}
}
