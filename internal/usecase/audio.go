package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// MaxTranscribeBytes bounds audio uploads for transcription.
const MaxTranscribeBytes = 25 << 20

const (
	defaultComposeSeconds = 60
	minComposeSeconds     = 3
	maxComposeSeconds     = 300
)

// ComposeRequest is the body of POST /api/compose.
type ComposeRequest struct {
	Prompt       string `json:"prompt"`
	Duration     *int   `json:"duration"`
	Instrumental bool   `json:"instrumental"`
}

// ComposeResult carries the generated track as a data URL.
type ComposeResult struct {
	AudioURL     string `json:"audioUrl"`
	Prompt       string `json:"prompt"`
	Duration     int    `json:"duration"`
	Instrumental bool   `json:"instrumental"`
}

// TTSRequest is the body of POST /api/tts.
type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// TranscriptionResult is the answer of POST /api/stt.
type TranscriptionResult struct {
	Transcription string `json:"transcription"`
}

// AudioService generates music and speech with Pollinations.
type AudioService struct {
	API     AudioAPI
	Catalog *config.Catalog
}

// Compose generates a music track. Durations are clamped to 3..300 seconds.
func (s AudioService) Compose(ctx context.Context, key string, req ComposeRequest) (ComposeResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return ComposeResult{}, fmt.Errorf("%w: Prompt is required", domain.ErrInvalidArgument)
	}
	dur := defaultComposeSeconds
	if req.Duration != nil {
		dur = min(max(*req.Duration, minComposeSeconds), maxComposeSeconds)
	}
	media, err := s.API.Compose(ctx, key, prompt, dur, req.Instrumental)
	if err != nil {
		return ComposeResult{}, err
	}
	ct := media.ContentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	return ComposeResult{
		AudioURL:     upstream.DataURL(ct, media.Data),
		Prompt:       prompt,
		Duration:     dur,
		Instrumental: req.Instrumental,
	}, nil
}

// Speak synthesises text and returns it as a data URI. OpenAI voices use
// tts-1; every other voice goes to elevenlabs.
func (s AudioService) Speak(ctx context.Context, key string, req TTSRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Voice) == "" {
		return "", fmt.Errorf("%w: Missing required fields: text and voice", domain.ErrInvalidArgument)
	}
	model := "elevenlabs"
	if s.Catalog != nil && s.Catalog.IsOpenAIVoice(req.Voice) {
		model = "tts-1"
	}
	media, err := s.API.Speech(ctx, key, pollinations.SpeechRequest{
		Model:          model,
		Input:          req.Text,
		Voice:          req.Voice,
		ResponseFormat: "mp3",
		Speed:          1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: Internal server error: %v", domain.ErrInternal, err)
	}
	ct := media.ContentType
	if ct == "" {
		ct = "audio/mpeg"
	}
	return upstream.DataURL(ct, media.Data), nil
}

// Transcribe sends recorded audio to Pollinations STT. The declared type is
// trusted when it is audio/*; otherwise the bytes are sniffed.
func (s AudioService) Transcribe(ctx context.Context, key string, audio domain.Media) (TranscriptionResult, error) {
	if len(audio.Data) == 0 {
		return TranscriptionResult{}, fmt.Errorf("%w: Missing required field: audioFile", domain.ErrInvalidArgument)
	}
	if len(audio.Data) > MaxTranscribeBytes {
		return TranscriptionResult{}, fmt.Errorf("%w: Audio file too large (max 25MB)", domain.ErrPayloadTooLarge)
	}
	ct := audioType(audio)
	if ct == "" {
		return TranscriptionResult{}, fmt.Errorf("%w: A valid audio file must be provided", domain.ErrUnsupportedMedia)
	}
	text, err := s.API.Transcribe(ctx, key, upstream.DataURL(ct, audio.Data))
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("%w: Internal server error: %v", domain.ErrInternal, err)
	}
	return TranscriptionResult{Transcription: text}, nil
}

// audioType returns the audio/* media type of m, or "" when it is not audio.
// Browser recordings sniff as video/webm and are relabelled.
func audioType(m domain.Media) string {
	if ct := mediaType(m.ContentType); strings.HasPrefix(ct, "audio/") {
		return ct
	}
	detected := mediaType(mimetype.Detect(m.Data).String())
	switch {
	case strings.HasPrefix(detected, "audio/"):
		return detected
	case detected == "video/webm":
		return "audio/webm"
	}
	return ""
}
