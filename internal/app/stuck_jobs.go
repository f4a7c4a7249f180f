package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// StuckJobSweeper fails jobs that stayed in processing longer than
// maxProcessingAge, e.g. after a worker crashed mid-job.
type StuckJobSweeper struct {
	jobs             domain.JobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
	now              func() time.Time
}

func NewStuckJobSweeper(jobs domain.JobRepository, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{
		jobs:             jobs,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
		now:              time.Now,
	}
}

func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) int64 {
	ctx, span := otel.Tracer("jobs.sweeper").Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()
	span.SetAttributes(attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()))

	cutoff := s.now().Add(-s.maxProcessingAge)
	msg := fmt.Sprintf("job processing exceeded maximum age %v; marking as failed by sweeper", s.maxProcessingAge)
	n, err := s.jobs.FailStuck(ctx, cutoff, msg)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed", slog.Any("error", err))
		return 0
	}
	span.SetAttributes(attribute.Int64("jobs.total_marked_failed", n))
	if n > 0 {
		slog.Warn("stuck jobs marked failed", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n
}
