package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// CleanupService deletes finished jobs past their retention period.
type CleanupService struct {
	Jobs          domain.JobRepository
	RetentionDays int
	now           func() time.Time
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(jobs domain.JobRepository, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &CleanupService{Jobs: jobs, RetentionDays: retentionDays, now: time.Now}
}

// CleanupOldData removes finished jobs older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := s.now().UTC().AddDate(0, 0, -s.RetentionDays)
	deleted, err := s.Jobs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("op=cleanup.run: %w", err)
	}
	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", deleted),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic runs a cleanup immediately and then every interval until ctx
// is done.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
