package pollinations

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// MaxMediaBytes is the Pollinations media storage object limit.
const MaxMediaBytes = 10 << 20

// UploadedMedia is the media storage answer.
type UploadedMedia struct {
	ID          string
	URL         string
	ContentType string
	// Raw is the decoded answer object as returned upstream.
	Raw map[string]any
}

// UploadMedia posts a raw body to {media}/upload.
func (c *Client) UploadMedia(ctx context.Context, key, contentType string, body []byte) (UploadedMedia, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urls.Media+"/upload", bytes.NewReader(body))
	if err != nil {
		return UploadedMedia{}, fmt.Errorf("op=pollinations.UploadMedia: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	setKey(req, key)
	return c.sendUpload(ctx, "media_ingest", req)
}

// UploadFile forwards a file to {media}/upload as multipart form-data.
func (c *Client) UploadFile(ctx context.Context, key, filename string, body []byte) (UploadedMedia, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadedMedia{}, fmt.Errorf("op=pollinations.UploadFile: %w", err)
	}
	if _, err := fw.Write(body); err != nil {
		return UploadedMedia{}, fmt.Errorf("op=pollinations.UploadFile: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadedMedia{}, fmt.Errorf("op=pollinations.UploadFile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urls.Media+"/upload", &buf)
	if err != nil {
		return UploadedMedia{}, fmt.Errorf("op=pollinations.UploadFile: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setKey(req, key)
	return c.sendUpload(ctx, "media_upload", req)
}

func (c *Client) sendUpload(ctx context.Context, op string, req *http.Request) (UploadedMedia, error) {
	resp, err := c.http.Do(ctx, op, req)
	if err != nil {
		return UploadedMedia{}, err
	}
	b, err := readBody(resp, 1<<20)
	if err != nil {
		return UploadedMedia{}, fmt.Errorf("op=pollinations.%s: %w", op, err)
	}
	parsed := decodeObject(b, "Upstream media upload failed")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := parsed["error"].(string)
		if msg == "" {
			msg = fmt.Sprintf("Upstream media upload failed (%d)", resp.StatusCode)
		}
		return UploadedMedia{}, domain.NewUpstreamError(domain.ProviderPollinations, op, resp.StatusCode, msg)
	}
	out := UploadedMedia{Raw: parsed}
	out.ID, _ = parsed["id"].(string)
	out.URL, _ = parsed["url"].(string)
	out.ContentType, _ = parsed["contentType"].(string)
	return out, nil
}
