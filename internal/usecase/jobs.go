package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	obsctx "github.com/fairyhunter13/ai-gen-gateway/internal/observability"
)

// settleTimeout bounds the terminal status write of a job.
const settleTimeout = 10 * time.Second

type remoteIDKey struct{}

// WithRemoteIDHook returns a context whose provider calls report the remote
// job or prediction id to fn.
func WithRemoteIDHook(ctx context.Context, fn func(id string)) context.Context {
	return context.WithValue(ctx, remoteIDKey{}, fn)
}

func reportRemoteID(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if fn, ok := ctx.Value(remoteIDKey{}).(func(string)); ok && fn != nil {
		fn(id)
	}
}

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	Kind    domain.JobKind  `json:"kind" validate:"required,oneof=replicate replicate-tts bfl"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// JobView is the JSON shape of a generation job.
type JobView struct {
	ID        string           `json:"id"`
	Kind      domain.JobKind   `json:"kind"`
	Status    domain.JobStatus `json:"status"`
	Output    json.RawMessage  `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
	RemoteID  string           `json:"remote_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ViewOf converts a job for API answers.
func ViewOf(j domain.GenerationJob) JobView {
	return JobView{
		ID:        j.ID,
		Kind:      j.Kind,
		Status:    j.Status,
		Output:    j.Output,
		Error:     j.Error,
		RemoteID:  j.RemoteID,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ReplicateJobPayload is the payload of a replicate job.
type ReplicateJobPayload struct {
	Model string         `json:"model"`
	Input map[string]any `json:"input"`
}

// JobService stores asynchronous generation jobs and executes them on the
// worker side.
type JobService struct {
	Repo        domain.JobRepository
	Queue       domain.Queue
	Predictions *PredictionService
	Images      *ImageService
}

// Enabled reports whether both the repository and the queue are wired.
func (s *JobService) Enabled() bool {
	return s != nil && s.Repo != nil && s.Queue != nil
}

// Submit stores a queued job and publishes it to the workers.
func (s *JobService) Submit(ctx context.Context, req JobRequest) (domain.GenerationJob, error) {
	if !s.Enabled() {
		return domain.GenerationJob{}, fmt.Errorf("%w: async jobs require DB_URL and KAFKA_BROKERS", domain.ErrNotConfigured)
	}
	if !req.Kind.Valid() {
		return domain.GenerationJob{}, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, req.Kind)
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return domain.GenerationJob{}, fmt.Errorf("%w: payload must be a JSON object", domain.ErrInvalidArgument)
	}
	ctx, span := otel.Tracer("usecase.jobs").Start(ctx, "JobService.Submit")
	defer span.End()

	job := domain.GenerationJob{Kind: req.Kind, Status: domain.JobQueued, Payload: req.Payload}
	id, err := s.Repo.Create(ctx, job)
	if err != nil {
		return domain.GenerationJob{}, fmt.Errorf("op=usecase.JobService.Submit: %w", err)
	}
	job.ID = id
	span.SetAttributes(attribute.String("job.id", id), attribute.String("job.kind", string(req.Kind)))
	ctx = obsctx.ContextWithJobID(ctx, id)

	if err := s.Queue.EnqueueGeneration(ctx, domain.GenerationTask{JobID: id, Kind: req.Kind, Payload: req.Payload}); err != nil {
		msg := "enqueue failed: " + err.Error()
		if uerr := s.Repo.UpdateStatus(ctx, id, domain.JobFailed, nil, &msg); uerr != nil {
			obsctx.LoggerFromContext(ctx).Error("mark unqueued job failed", slog.Any("error", uerr))
		}
		return domain.GenerationJob{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	observability.EnqueueJob(string(req.Kind))
	obsctx.LoggerFromContext(ctx).Info("generation job queued", slog.String("kind", string(req.Kind)))
	return job, nil
}

// Get returns one job.
func (s *JobService) Get(ctx context.Context, id string) (domain.GenerationJob, error) {
	if s == nil || s.Repo == nil {
		return domain.GenerationJob{}, fmt.Errorf("%w: async jobs require DB_URL", domain.ErrNotConfigured)
	}
	return s.Repo.Get(ctx, id)
}

// Process runs one queued job. Jobs already settled are skipped so queue
// redeliveries are harmless.
func (s *JobService) Process(ctx context.Context, task domain.GenerationTask) error {
	ctx = obsctx.ContextWithJobID(ctx, task.JobID)
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("kind", string(task.Kind)))

	job, err := s.Repo.Get(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("op=usecase.JobService.Process: %w", err)
	}
	if job.Status.Terminal() {
		lg.Info("job already settled, skipping", slog.String("status", string(job.Status)))
		return nil
	}
	if job.Status == domain.JobQueued {
		if err := s.Repo.UpdateStatus(ctx, job.ID, domain.JobProcessing, nil, nil); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				lg.Info("job claimed elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("op=usecase.JobService.Process: %w", err)
		}
	}
	observability.StartProcessingJob(string(job.Kind))
	start := time.Now()

	ctx = WithRemoteIDHook(ctx, func(remote string) {
		if err := s.Repo.SetRemoteID(ctx, job.ID, remote); err != nil {
			lg.Warn("store remote id failed", slog.Any("error", err))
		}
	})
	output, runErr := s.execute(ctx, job)

	// Terminal writes outlive a cancelled worker context.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if runErr != nil {
		msg := runErr.Error()
		if err := s.Repo.UpdateStatus(sctx, job.ID, domain.JobFailed, nil, &msg); err != nil {
			lg.Error("mark job failed", slog.Any("error", err))
		}
		observability.FailJob(string(job.Kind))
		lg.Warn("generation job failed", slog.Any("error", runErr), slog.Duration("took", time.Since(start)))
		return runErr
	}
	if err := s.Repo.UpdateStatus(sctx, job.ID, domain.JobCompleted, output, nil); err != nil {
		observability.FailJob(string(job.Kind))
		return fmt.Errorf("op=usecase.JobService.Process: %w", err)
	}
	observability.CompleteJob(string(job.Kind))
	lg.Info("generation job completed", slog.Duration("took", time.Since(start)))
	return nil
}

func (s *JobService) execute(ctx context.Context, job domain.GenerationJob) (json.RawMessage, error) {
	switch job.Kind {
	case domain.JobKindReplicate:
		if s.Predictions == nil {
			return nil, fmt.Errorf("%w: replicate worker not wired", domain.ErrNotConfigured)
		}
		var p ReplicateJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: replicate payload: %v", domain.ErrInvalidArgument, err)
		}
		out, err := s.Predictions.Run(ctx, strings.TrimSpace(p.Model), p.Input)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{"output": out})
	case domain.JobKindReplicateTTS:
		if s.Predictions == nil {
			return nil, fmt.Errorf("%w: replicate worker not wired", domain.ErrNotConfigured)
		}
		var p SpeechRequest
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: speech payload: %v", domain.ErrInvalidArgument, err)
		}
		url, err := s.Predictions.Speech(ctx, p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"audioUrl": url})
	case domain.JobKindBFL:
		if s.Images == nil {
			return nil, fmt.Errorf("%w: bfl worker not wired", domain.ErrNotConfigured)
		}
		var body map[string]any
		if err := json.Unmarshal(job.Payload, &body); err != nil {
			return nil, fmt.Errorf("%w: bfl payload: %v", domain.ErrInvalidArgument, err)
		}
		img, err := s.Images.GenerateBFL(ctx, body)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"imageUrl": img})
	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, job.Kind)
	}
}
