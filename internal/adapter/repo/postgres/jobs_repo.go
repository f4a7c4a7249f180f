package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// JobRepo persists generation jobs in PostgreSQL.
type JobRepo struct {
	Pool PgxPool
	now  func() time.Time
}

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p, now: func() time.Time { return time.Now().UTC() }} }

var tracer = otel.Tracer("repo.jobs")

// Create inserts a job and returns its id. An empty status becomes queued.
func (r *JobRepo) Create(ctx domain.Context, j domain.GenerationJob) (string, error) {
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	if !j.Kind.Valid() {
		return "", fmt.Errorf("op=job.create: %w: unknown kind %q", domain.ErrInvalidArgument, j.Kind)
	}
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := j.Status
	if status == "" {
		status = domain.JobQueued
	}
	payload := j.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	span.SetAttributes(attribute.String("job.id", id), attribute.String("job.kind", string(j.Kind)))
	now := r.now()
	q := `INSERT INTO generation_jobs (id, kind, status, payload, error, remote_id, created_at, updated_at) VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$7)`
	if _, err := r.Pool.Exec(ctx, q, id, string(j.Kind), string(status), string(payload), j.Error, j.RemoteID, now); err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.GenerationJob, error) {
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	if _, err := uuid.Parse(id); err != nil {
		return domain.GenerationJob{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
	}
	q := `SELECT id, kind, status, payload, output, error, remote_id, created_at, updated_at FROM generation_jobs WHERE id=$1`
	var (
		j            domain.GenerationJob
		kind, status string
		payload      []byte
		output       []byte
	)
	err := r.Pool.QueryRow(ctx, q, id).Scan(&j.ID, &kind, &status, &payload, &output, &j.Error, &j.RemoteID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GenerationJob{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.GenerationJob{}, fmt.Errorf("op=job.get: %w", err)
	}
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	if len(output) > 0 {
		j.Output = json.RawMessage(output)
	}
	return j, nil
}

// UpdateStatus moves a job to status. The row is only touched when its
// current status may transition to the new one; otherwise the call fails
// with domain.ErrConflict, or domain.ErrNotFound for an unknown id.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, output json.RawMessage, errMsg *string) error {
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", id), attribute.String("job.status", string(status)))
	from := sourcesFor(status)
	if len(from) == 0 {
		return fmt.Errorf("op=job.update_status: %w: cannot move to %q", domain.ErrConflict, status)
	}
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	var out any
	if len(output) > 0 {
		out = string(output)
	}
	q := `UPDATE generation_jobs SET status=$2, output=COALESCE($3::jsonb, output), error=$4, updated_at=$5 WHERE id=$1 AND status = ANY($6)`
	tag, err := r.Pool.Exec(ctx, q, id, string(status), out, errVal, r.now(), from)
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	return fmt.Errorf("op=job.update_status: %w: %s -> %s", domain.ErrConflict, current.Status, status)
}

func sourcesFor(next domain.JobStatus) []string {
	var out []string
	for _, s := range []domain.JobStatus{domain.JobQueued, domain.JobProcessing, domain.JobCompleted, domain.JobFailed} {
		if s.CanTransition(next) {
			out = append(out, string(s))
		}
	}
	return out
}

// SetRemoteID records the upstream prediction or job id.
func (r *JobRepo) SetRemoteID(ctx domain.Context, id, remoteID string) error {
	ctx, span := tracer.Start(ctx, "jobs.SetRemoteID")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE generation_jobs SET remote_id=$2, updated_at=$3 WHERE id=$1`, id, remoteID, r.now())
	if err != nil {
		return fmt.Errorf("op=job.set_remote_id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.set_remote_id: %w", domain.ErrNotFound)
	}
	return nil
}

// FailStuck marks processing jobs not updated since olderThan as failed.
func (r *JobRepo) FailStuck(ctx domain.Context, olderThan time.Time, reason string) (int64, error) {
	ctx, span := tracer.Start(ctx, "jobs.FailStuck")
	defer span.End()
	q := `UPDATE generation_jobs SET status=$1, error=$2, updated_at=$3 WHERE status=$4 AND updated_at < $5`
	tag, err := r.Pool.Exec(ctx, q, string(domain.JobFailed), reason, r.now(), string(domain.JobProcessing), olderThan)
	if err != nil {
		return 0, fmt.Errorf("op=job.fail_stuck: %w", err)
	}
	span.SetAttributes(attribute.Int64("jobs.failed", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// DeleteFinishedBefore removes completed and failed jobs last updated
// before the cutoff.
func (r *JobRepo) DeleteFinishedBefore(ctx domain.Context, before time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "jobs.DeleteFinishedBefore")
	defer span.End()
	q := `DELETE FROM generation_jobs WHERE status IN ($1,$2) AND updated_at < $3`
	tag, err := r.Pool.Exec(ctx, q, string(domain.JobCompleted), string(domain.JobFailed), before)
	if err != nil {
		return 0, fmt.Errorf("op=job.delete_finished: %w", err)
	}
	return tag.RowsAffected(), nil
}
