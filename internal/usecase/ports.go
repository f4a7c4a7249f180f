// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"encoding/json"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/bfl"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/mistral"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/replicate"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/storage/catbox"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/storage/supabase"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
)

// ChatAPI is the Pollinations text surface.
type ChatAPI interface {
	Chat(ctx context.Context, key string, req pollinations.ChatRequest) (json.RawMessage, error)
	EnterChat(ctx context.Context, key string, payload any) (json.RawMessage, error)
}

// SearchAPI is the Pollinations search endpoint.
type SearchAPI interface {
	Search(ctx context.Context, key, query string) (string, error)
}

// ImageAPI is the Pollinations image surface.
type ImageAPI interface {
	GenerateImage(ctx context.Context, key string, p pollinations.ImageParams) (domain.Media, error)
	ImageModels(ctx context.Context) ([]string, error)
}

// AudioAPI is the Pollinations audio surface.
type AudioAPI interface {
	Compose(ctx context.Context, key, prompt string, durationSec int, instrumental bool) (domain.Media, error)
	Speech(ctx context.Context, key string, sr pollinations.SpeechRequest) (domain.Media, error)
	Transcribe(ctx context.Context, key, audioDataURI string) (string, error)
}

// MediaAPI is Pollinations media storage.
type MediaAPI interface {
	UploadMedia(ctx context.Context, key, contentType string, body []byte) (pollinations.UploadedMedia, error)
	UploadFile(ctx context.Context, key, filename string, body []byte) (pollinations.UploadedMedia, error)
	MediaURL(key string) string
}

// MediaSource downloads generated media while it is being polled.
type MediaSource interface {
	Fetch(ctx context.Context, url string, limit int64) (domain.Media, error)
}

// TempHost publishes a file at a short lived public URL.
type TempHost interface {
	Upload(ctx context.Context, filename, contentType string, body []byte) (string, error)
}

// MistralAPI is the fallback chat provider.
type MistralAPI interface {
	Configured() bool
	Chat(ctx context.Context, req mistral.Request) (domain.ChatReply, error)
}

// PredictionAPI runs Replicate predictions.
type PredictionAPI interface {
	Configured() bool
	Run(ctx context.Context, req replicate.CreateRequest, cfg poller.Config) (replicate.Prediction, error)
}

// BFLAPI is the Black Forest Labs job API.
type BFLAPI interface {
	Configured() bool
	Submit(ctx context.Context, endpoint string, payload map[string]any) (bfl.Job, error)
	Poll(ctx context.Context, job bfl.Job, cfg poller.Config) (bfl.Result, error)
	Download(ctx context.Context, imageURL string) (domain.Media, error)
}

// ObjectStore is the gallery object storage.
type ObjectStore interface {
	Configured() bool
	Upload(ctx context.Context, bucket, path, contentType string, body []byte) error
	List(ctx context.Context, bucket, prefix string, limit int) ([]domain.StoredObject, error)
	PublicURL(bucket, path string) string
}

// SourceFetcher downloads remote media.
type SourceFetcher interface {
	Head(ctx context.Context, url string) upstream.HeadInfo
	Fetch(ctx context.Context, url string, limit int64) (domain.Media, error)
}

var (
	_ ChatAPI       = (*pollinations.Client)(nil)
	_ SearchAPI     = (*pollinations.Client)(nil)
	_ ImageAPI      = (*pollinations.Client)(nil)
	_ AudioAPI      = (*pollinations.Client)(nil)
	_ MediaAPI      = (*pollinations.Client)(nil)
	_ MistralAPI    = (*mistral.Client)(nil)
	_ PredictionAPI = (*replicate.Client)(nil)
	_ BFLAPI        = (*bfl.Client)(nil)
	_ ObjectStore   = (*supabase.Client)(nil)
	_ TempHost      = (*catbox.Client)(nil)
	_ SourceFetcher = (*upstream.Client)(nil)
)
