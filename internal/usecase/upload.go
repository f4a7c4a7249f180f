package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
	"github.com/fairyhunter13/ai-gen-gateway/pkg/textx"
)

var subtypePattern = regexp.MustCompile(`/([a-zA-Z0-9.+-]+)`)

// UploadIngestRequest is the body of POST /api/upload/ingest.
type UploadIngestRequest struct {
	SourceURL string `json:"sourceUrl" validate:"omitempty,url"`
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind" validate:"omitempty,oneof=image video"`
}

// StoredUpload is the answer of POST /api/upload/ingest.
type StoredUpload struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	URL         string `json:"url,omitempty"`
}

// TempUpload is the answer of POST /api/upload/temp.
type TempUpload struct {
	URL string `json:"url"`
}

// UploadService copies generated media into object storage under
// generated/{session}/ and relays caller files to a temporary public host.
type UploadService struct {
	Temp      TempHost
	Store     ObjectStore
	Source    MediaSource
	Bucket    string
	ImagePoll poller.Config
	VideoPoll poller.Config
	now       func() time.Time
	newID     func() string
}

// NewUploadService builds an UploadService with the media polling budgets
// from cfg.
func NewUploadService(temp TempHost, store ObjectStore, source MediaSource, cfg config.Config) *UploadService {
	return &UploadService{
		Temp:      temp,
		Store:     store,
		Source:    source,
		Bucket:    cfg.SupabaseBucket,
		ImagePoll: pollerConfig(config.PollMediaImage, cfg.GetPollConfig(config.PollMediaImage)),
		VideoPoll: pollerConfig(config.PollMediaVideo, cfg.GetPollConfig(config.PollMediaVideo)),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Ingest waits for req.SourceURL to serve real media and stores it under
// generated/{session}/{unix ms}-{uuid}.{ext}.
func (s *UploadService) Ingest(ctx context.Context, req UploadIngestRequest) (StoredUpload, error) {
	if s.Store == nil || !s.Store.Configured() {
		return StoredUpload{}, fmt.Errorf("%w: Supabase not configured on server", domain.ErrNotConfigured)
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return StoredUpload{}, fmt.Errorf("%w: Missing sourceUrl", domain.ErrInvalidArgument)
	}
	session := strings.Trim(textx.SafeFilename(strings.TrimSpace(req.SessionID)), ".")
	if session == "" {
		session = "anonymous"
	}
	video := req.Kind == "video"
	cfg := s.ImagePoll
	if video {
		cfg = s.VideoPoll
	}
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("session_id", session), slog.Bool("video", video))

	media, err := awaitMedia(ctx, s.Source, cfg, req.SourceURL, MaxIngestBytes,
		fmt.Sprintf("File too large (> %d bytes)", MaxIngestBytes))
	if err != nil {
		lg.Warn("upload source never became available", slog.Any("error", err))
		return StoredUpload{}, err
	}
	ct := mediaType(media.ContentType)
	if ct == "" {
		ct = defaultUploadType(video)
	}
	key := fmt.Sprintf("generated/%s/%d-%s.%s", session, s.now().UnixMilli(), s.newID(), uploadExtension(ct, video))
	if err := s.Store.Upload(ctx, s.Bucket, key, ct, media.Data); err != nil {
		return StoredUpload{}, err
	}
	lg.Info("upload ingested", slog.String("key", key), slog.Int("size", len(media.Data)))
	return StoredUpload{Key: key, ContentType: ct, URL: s.Store.PublicURL(s.Bucket, key)}, nil
}

// UploadTemp publishes body on the temporary host and returns its URL.
func (s *UploadService) UploadTemp(ctx context.Context, filename string, body []byte) (TempUpload, error) {
	if s.Temp == nil {
		return TempUpload{}, fmt.Errorf("%w: temp storage not configured", domain.ErrNotConfigured)
	}
	if len(body) == 0 {
		return TempUpload{}, fmt.Errorf("%w: No file provided", domain.ErrInvalidArgument)
	}
	if len(body) > MaxIngestBytes {
		return TempUpload{}, fmt.Errorf("%w: File too large (> %d bytes)", domain.ErrPayloadTooLarge, MaxIngestBytes)
	}
	filename = textx.SafeFilename(strings.TrimSpace(filename))
	if filename == "" {
		filename = fmt.Sprintf("upload-%d.bin", s.now().UnixMilli())
	}
	u, err := s.Temp.Upload(ctx, filename, mimetype.Detect(body).String(), body)
	if err != nil {
		return TempUpload{}, err
	}
	return TempUpload{URL: u}, nil
}

func defaultUploadType(video bool) string {
	if video {
		return "video/mp4"
	}
	return "image/jpeg"
}

// uploadExtension derives the object extension from the media subtype:
// jpeg becomes jpg and an x- prefix is dropped.
func uploadExtension(contentType string, video bool) string {
	if m := subtypePattern.FindStringSubmatch(contentType); m != nil {
		if m[1] == "jpeg" {
			return "jpg"
		}
		return strings.Replace(m[1], "x-", "", 1)
	}
	if video {
		return "mp4"
	}
	return "jpg"
}
