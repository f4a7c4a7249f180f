package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
	"github.com/fairyhunter13/ai-gen-gateway/pkg/textx"
)

// MaxIngestBytes bounds gallery uploads.
const MaxIngestBytes = 25 << 20

var (
	slugPattern = regexp.MustCompile(`(?i)^g_[a-z0-9]{8,}$`)

	allowedIngestTypes = []string{"image/webp", "image/jpeg", "image/png", "image/gif", "video/mp4", "video/webm"}

	extContentTypes = map[string]string{
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"webp": "image/webp",
		"gif":  "image/gif",
		"mp4":  "video/mp4",
		"webm": "video/webm",
	}
	contentTypeExts = map[string]string{
		"image/jpeg": "jpg",
		"image/png":  "png",
		"image/webp": "webp",
		"image/gif":  "gif",
		"video/mp4":  "mp4",
		"video/webm": "webm",
	}
)

// ValidSlug reports whether slug names a gallery.
func ValidSlug(slug string) bool { return slugPattern.MatchString(slug) }

// IngestRequest is the body of POST /api/storage/ingest.
type IngestRequest struct {
	Slug        string `json:"slug"`
	SourceURL   string `json:"sourceUrl"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// IngestResult describes a stored gallery object.
type IngestResult struct {
	PublicURL   string `json:"publicUrl"`
	Path        string `json:"path"`
	Size        int    `json:"size"`
	ContentType string `json:"contentType"`
}

// StorageService copies remote media into gallery storage.
type StorageService struct {
	Store   ObjectStore
	Fetcher SourceFetcher
	Bucket  string
	now     func() time.Time
}

// NewStorageService builds a StorageService for bucket.
func NewStorageService(store ObjectStore, fetcher SourceFetcher, bucket string) *StorageService {
	return &StorageService{Store: store, Fetcher: fetcher, Bucket: bucket, now: time.Now}
}

func (s *StorageService) configured() error {
	if s.Store == nil || !s.Store.Configured() {
		return fmt.Errorf("%w: Supabase not configured on server", domain.ErrNotConfigured)
	}
	return nil
}

// Ingest downloads req.SourceURL and stores it under
// {slug}/{yyyymmdd}/{name}. Only image and video types are accepted.
func (s *StorageService) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if !ValidSlug(req.Slug) {
		return IngestResult{}, fmt.Errorf("%w: Invalid slug", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return IngestResult{}, fmt.Errorf("%w: Missing sourceUrl", domain.ErrInvalidArgument)
	}
	if err := s.configured(); err != nil {
		return IngestResult{}, err
	}
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("slug", req.Slug))

	head := s.Fetcher.Head(ctx, req.SourceURL)
	if head.ContentLength > MaxIngestBytes {
		return IngestResult{}, fmt.Errorf("%w: File too large (%d bytes)", domain.ErrPayloadTooLarge, head.ContentLength)
	}
	ct := firstNonBlank(mediaType(head.ContentType), mediaType(req.ContentType), typeFromURL(req.SourceURL))

	media, err := s.Fetcher.Fetch(ctx, req.SourceURL, MaxIngestBytes)
	if err != nil {
		if errors.Is(err, domain.ErrPayloadTooLarge) {
			return IngestResult{}, fmt.Errorf("%w: File too large (> %d bytes)", domain.ErrPayloadTooLarge, MaxIngestBytes)
		}
		lg.Warn("gallery source fetch failed", slog.Any("error", err))
		return IngestResult{}, fmt.Errorf("%w: Source fetch failed: %v", domain.ErrBadGateway, err)
	}
	if ct == "" {
		ct = mediaType(media.ContentType)
	}
	if ct == "" || !allowedIngest(ct) {
		ct = sniff(media.Data, ct)
	}
	if !allowedIngest(ct) {
		shown := ct
		if shown == "" {
			shown = "n/a"
		}
		return IngestResult{}, fmt.Errorf("%w: Unsupported or unknown content-type: %s", domain.ErrUnsupportedMedia, shown)
	}

	ext := contentTypeExts[ct]
	if ext == "" {
		ext = extFromURL(req.SourceURL)
	}
	if ext == "" {
		ext = "bin"
	}
	base := textx.SafeFilename(strings.TrimSpace(req.Filename))
	if base == "" {
		sum := sha256.Sum256(media.Data)
		base = hex.EncodeToString(sum[:]) + "." + ext
	}
	objectPath := fmt.Sprintf("%s/%s/%s", req.Slug, s.now().UTC().Format("20060102"), base)

	if err := s.Store.Upload(ctx, s.Bucket, objectPath, ct, media.Data); err != nil {
		return IngestResult{}, err
	}
	lg.Info("gallery object stored", slog.String("path", objectPath), slog.Int("size", len(media.Data)))
	return IngestResult{
		PublicURL:   s.Store.PublicURL(s.Bucket, objectPath),
		Path:        objectPath,
		Size:        len(media.Data),
		ContentType: ct,
	}, nil
}

// List returns the objects stored for a gallery.
func (s *StorageService) List(ctx context.Context, slug string) ([]domain.StoredObject, error) {
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("%w: Invalid or missing slug", domain.ErrInvalidArgument)
	}
	if err := s.configured(); err != nil {
		return nil, err
	}
	items, err := s.Store.List(ctx, s.Bucket, slug+"/", 1000)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.StoredObject{}
	}
	return items, nil
}

func allowedIngest(ct string) bool {
	for _, a := range allowedIngestTypes {
		if strings.Contains(ct, a) {
			return true
		}
	}
	return false
}

func mediaType(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "application/octet-stream" {
		return ""
	}
	return ct
}

func sniff(data []byte, current string) string {
	if len(data) == 0 {
		return current
	}
	detected := mediaType(mimetype.Detect(data).String())
	if allowedIngest(detected) {
		return detected
	}
	return current
}

func extFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if _, ok := extContentTypes[ext]; ok {
		return ext
	}
	return ""
}

func typeFromURL(raw string) string {
	return extContentTypes[extFromURL(raw)]
}
