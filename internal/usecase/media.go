package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
)

const (
	// minMediaBytes separates real media from placeholder answers served
	// while a generation is still running.
	minMediaBytes = 1000
	// SignedReadTTL is the expiresIn reported for media read URLs (ten years).
	SignedReadTTL = 315360000
)

// MediaIngestRequest is the body of POST /api/media/ingest.
type MediaIngestRequest struct {
	SourceURL string `json:"sourceUrl" validate:"omitempty,url"`
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind" validate:"omitempty,oneof=image video"`
}

// MediaObject is a Pollinations media storage entry.
type MediaObject struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// SignedRead is the answer of POST /api/upload/sign-read.
type SignedRead struct {
	DownloadURL string `json:"downloadUrl"`
	ExpiresIn   int    `json:"expiresIn"`
}

// MediaService moves generated media into Pollinations media storage.
type MediaService struct {
	API       MediaAPI
	Source    MediaSource
	ImagePoll poller.Config
	VideoPoll poller.Config
	now       func() time.Time
}

// NewMediaService builds a MediaService with the media polling budgets from
// cfg. Generated media is read through source.
func NewMediaService(api MediaAPI, source MediaSource, cfg config.Config) *MediaService {
	return &MediaService{
		API:       api,
		Source:    source,
		ImagePoll: pollerConfig(config.PollMediaImage, cfg.GetPollConfig(config.PollMediaImage)),
		VideoPoll: pollerConfig(config.PollMediaVideo, cfg.GetPollConfig(config.PollMediaVideo)),
		now:       time.Now,
	}
}

func requireKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: Missing Pollinations API key", domain.ErrUnauthorized)
	}
	return nil
}

// Ingest waits for req.SourceURL to serve real media and stores it.
func (s *MediaService) Ingest(ctx context.Context, key string, req MediaIngestRequest) (MediaObject, error) {
	if err := requireKey(key); err != nil {
		return MediaObject{}, err
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return MediaObject{}, fmt.Errorf("%w: Missing sourceUrl", domain.ErrInvalidArgument)
	}
	video := req.Kind == "video"
	cfg := s.ImagePoll
	if video {
		cfg = s.VideoPoll
	}
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("session_id", req.SessionID), slog.Bool("video", video))

	media, err := awaitMedia(ctx, s.Source, cfg, req.SourceURL, pollinations.MaxMediaBytes,
		"Generated media exceeds Pollinations Media Storage limit (max 10MB)")
	if err != nil {
		lg.Warn("media never became available", slog.Any("error", err))
		return MediaObject{}, err
	}
	ct := mediaType(media.ContentType)
	if ct == "" {
		ct = "image/jpeg"
		if video {
			ct = "video/mp4"
		}
	}
	up, err := s.API.UploadMedia(ctx, key, ct, media.Data)
	if err != nil {
		return MediaObject{}, err
	}
	if up.ContentType != "" {
		ct = up.ContentType
	}
	lg.Info("media ingested", slog.String("media_id", up.ID), slog.Int("size", len(media.Data)))
	return MediaObject{Key: up.ID, URL: up.URL, ContentType: ct}, nil
}

// awaitMedia polls url until it serves more than minMediaBytes. A body over
// limit aborts the wait with tooLarge as the client message.
func awaitMedia(ctx context.Context, src MediaSource, cfg poller.Config, url string, limit int64, tooLarge string) (domain.Media, error) {
	fetch := func(ctx context.Context, _ int) (domain.Media, error) {
		m, err := src.Fetch(ctx, url, limit)
		if errors.Is(err, domain.ErrPayloadTooLarge) {
			return m, poller.Fatal(fmt.Errorf("%w: %s", domain.ErrPayloadTooLarge, tooLarge))
		}
		return m, err
	}
	classify := func(m domain.Media) poller.Status {
		if len(m.Data) > minMediaBytes {
			return poller.Succeeded
		}
		return poller.Pending
	}
	media, _, err := poller.Poll(ctx, cfg, fetch, classify)
	if errors.Is(err, domain.ErrUpstreamTimeout) {
		return domain.Media{}, fmt.Errorf("%w: Timed out waiting for media", domain.ErrUpstreamTimeout)
	}
	return media, err
}

// Upload forwards a multipart file to media storage and returns the
// upstream answer as decoded.
func (s *MediaService) Upload(ctx context.Context, key, filename string, body []byte) (map[string]any, error) {
	if err := requireKey(key); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: Empty file is not allowed", domain.ErrInvalidArgument)
	}
	if len(body) > pollinations.MaxMediaBytes {
		return nil, fmt.Errorf("%w: File too large for Pollinations Media Storage (max 10MB)", domain.ErrPayloadTooLarge)
	}
	if strings.TrimSpace(filename) == "" {
		filename = fmt.Sprintf("upload-%d.bin", s.now().UnixMilli())
	}
	up, err := s.API.UploadFile(ctx, key, filename, body)
	if err != nil {
		return nil, err
	}
	if up.Raw == nil {
		up.Raw = map[string]any{"id": up.ID, "url": up.URL, "contentType": up.ContentType}
	}
	return up.Raw, nil
}

// SignRead returns the public read URL of a stored media key.
func (s *MediaService) SignRead(key string) (SignedRead, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return SignedRead{}, fmt.Errorf("%w: Missing key", domain.ErrInvalidArgument)
	}
	return SignedRead{DownloadURL: s.API.MediaURL(key), ExpiresIn: SignedReadTTL}, nil
}
