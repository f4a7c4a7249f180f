package pollinations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

const maxAudioBytes = 50 << 20

// Compose renders music via {gen}/audio/{prompt}?model=elevenmusic.
func (c *Client) Compose(ctx context.Context, key, prompt string, durationSec int, instrumental bool) (domain.Media, error) {
	q := url.Values{}
	q.Set("model", "elevenmusic")
	q.Set("duration", strconv.Itoa(durationSec))
	q.Set("instrumental", strconv.FormatBool(instrumental))
	target := c.urls.Gen + "/audio/" + url.PathEscape(prompt) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.Media{}, fmt.Errorf("op=pollinations.Compose: %w", err)
	}
	setKey(req, key)
	resp, err := c.http.Do(ctx, "compose", req)
	if err != nil {
		return domain.Media{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := upstream.ReadError(domain.ProviderPollinations, "compose", resp)
		ue.Message = fmt.Sprintf("Pollinations API error: %d - %s", ue.Status, ue.Message)
		return domain.Media{}, ue
	}
	return readAudio(resp, "op=pollinations.Compose")
}

// SpeechRequest is the OpenAI-compatible speech payload.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// Speech synthesises speech via {gen}/v1/audio/speech.
func (c *Client) Speech(ctx context.Context, key string, sr SpeechRequest) (domain.Media, error) {
	if sr.ResponseFormat == "" {
		sr.ResponseFormat = "mp3"
	}
	if sr.Speed == 0 {
		sr.Speed = 1
	}
	body, err := json.Marshal(sr)
	if err != nil {
		return domain.Media{}, fmt.Errorf("op=pollinations.Speech: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urls.Gen+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return domain.Media{}, fmt.Errorf("op=pollinations.Speech: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setKey(req, key)
	resp, err := c.http.Do(ctx, "speech", req)
	if err != nil {
		return domain.Media{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := upstream.ReadError(domain.ProviderPollinations, "speech", resp)
		ue.Message = fmt.Sprintf("Pollinations TTS failed (%d): %s", ue.Status, ue.Message)
		return domain.Media{}, ue
	}
	return readAudio(resp, "op=pollinations.Speech")
}

func readAudio(resp *http.Response, op string) (domain.Media, error) {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	b, err := readBody(resp, maxAudioBytes)
	if err != nil {
		return domain.Media{}, fmt.Errorf("%s: %w", op, err)
	}
	return domain.Media{Data: b, ContentType: ct}, nil
}

// Transcribe posts an audio data URI to {text}/stt. JSON answers carry the
// text in "text" or "transcription"; any other non-empty body is the text.
func (c *Client) Transcribe(ctx context.Context, key, audioDataURI string) (string, error) {
	body, err := json.Marshal(map[string]string{"audio_data_uri": audioDataURI})
	if err != nil {
		return "", fmt.Errorf("op=pollinations.Transcribe: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.urls.Text+"/stt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=pollinations.Transcribe: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setKey(req, key)
	resp, err := c.http.Do(ctx, "stt", req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := upstream.ReadError(domain.ProviderPollinations, "stt", resp)
		ue.Message = fmt.Sprintf("Pollinations STT API request failed with status %d: %s", ue.Status, ue.Message)
		return "", ue
	}
	b, err := readBody(resp, 1<<20)
	if err != nil {
		return "", fmt.Errorf("op=pollinations.Transcribe: %w", err)
	}
	var parsed struct {
		Text          *string `json:"text"`
		Transcription *string `json:"transcription"`
	}
	if json.Unmarshal(b, &parsed) == nil {
		switch {
		case parsed.Text != nil:
			return strings.TrimSpace(*parsed.Text), nil
		case parsed.Transcription != nil:
			return strings.TrimSpace(*parsed.Transcription), nil
		}
	}
	if text := strings.TrimSpace(string(b)); text != "" && !json.Valid(b) {
		return text, nil
	}
	return "", fmt.Errorf("%w: Failed to parse a valid response from the STT API.", domain.ErrBadGateway)
}
