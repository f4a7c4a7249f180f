package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUpstream          = errors.New("upstream error")
	ErrBadGateway        = errors.New("bad gateway")
	ErrUnavailable       = errors.New("service unavailable")
	ErrNotConfigured     = errors.New("not configured")
	ErrGone              = errors.New("gone")
	ErrInternal          = errors.New("internal error")
)

// Provider names used in logs, metrics and error payloads.
const (
	ProviderPollinations = "pollinations"
	ProviderMistral      = "mistral"
	ProviderReplicate    = "replicate"
	ProviderBFL          = "bfl"
	ProviderSupabase     = "supabase"
	ProviderCatbox       = "catbox"
)

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image inside a multimodal message.
type ImageURL struct {
	URL string `json:"url"`
}

// MessageContent holds either plain text or a list of parts. It encodes back
// to the same JSON shape it was decoded from.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent builds a plain text content value.
func TextContent(s string) MessageContent { return MessageContent{Text: s} }

// MarshalJSON implements json.Marshaler.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler. A JSON null decodes to empty text.
func (c *MessageContent) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" {
		*c = MessageContent{}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var parts []ContentPart
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = MessageContent{Text: s}
	return nil
}

// PlainText flattens the content to text, dropping non-text parts.
func (c MessageContent) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasImage reports whether any part is an image reference.
func (c MessageContent) HasImage() bool {
	for _, p := range c.Parts {
		if p.ImageURL != nil {
			return true
		}
	}
	return false
}

// ChatMessage is a single chat turn in the OpenAI-compatible shape.
type ChatMessage struct {
	Role    string         `json:"role" validate:"required,oneof=system user assistant"`
	Content MessageContent `json:"content"`
}

// TokenUsage reports provider token accounting.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ChatReply is the normalized result of a completion call.
type ChatReply struct {
	Text     string
	Model    string
	Provider string
	Usage    *TokenUsage
}

// Media is a binary artifact downloaded from or produced by a provider.
type Media struct {
	Data        []byte
	ContentType string
}

// StoredObject describes an object persisted in remote object storage.
type StoredObject struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	Size        *int64  `json:"size"`
	ContentType *string `json:"contentType"`
	CreatedAt   *string `json:"createdAt"`
	PublicURL   string  `json:"publicUrl"`
}

// Web context modes
const (
	WebModeLight = "light"
	WebModeDeep  = "deep"
)

// WebContext carries realtime facts injected into chat system prompts.
type WebContext struct {
	Facts     []string  `json:"facts"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
	Sources   []string  `json:"sources,omitempty"`
}

// JobKind enumerates asynchronous generation job kinds.
type JobKind string

const (
	JobKindReplicate    JobKind = "replicate"
	JobKindReplicateTTS JobKind = "replicate-tts"
	JobKindBFL          JobKind = "bfl"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindReplicate, JobKindReplicateTTS, JobKindBFL:
		return true
	}
	return false
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobProcessing || next == JobFailed
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// GenerationJob is a persisted asynchronous generation request.
type GenerationJob struct {
	ID        string
	Kind      JobKind
	Status    JobStatus
	Payload   json.RawMessage
	Output    json.RawMessage
	Error     string
	RemoteID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GenerationTask is the queue message for a generation job.
type GenerationTask struct {
	JobID   string          `json:"job_id"`
	Kind    JobKind         `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Repositories (ports)

type JobRepository interface {
	Create(ctx Context, j GenerationJob) (string, error)
	Get(ctx Context, id string) (GenerationJob, error)
	UpdateStatus(ctx Context, id string, status JobStatus, output json.RawMessage, errMsg *string) error
	SetRemoteID(ctx Context, id, remoteID string) error
	FailStuck(ctx Context, olderThan time.Time, reason string) (int64, error)
	DeleteFinishedBefore(ctx Context, before time.Time) (int64, error)
}

// Queue (port)

type Queue interface {
	EnqueueGeneration(ctx Context, task GenerationTask) error
}

// WebContextCache (port)

type WebContextCache interface {
	Get(ctx Context, key string) (WebContext, bool, error)
	Set(ctx Context, key string, wc WebContext, ttl time.Duration) error
}

// Context is an alias so ports do not depend on callers importing context.
type Context = context.Context
