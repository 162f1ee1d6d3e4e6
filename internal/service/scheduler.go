package service

import (
	"context"
	"fmt"
	"time"

	"github.com/XlordCodes/pod-c/internal/queue"
	"github.com/XlordCodes/pod-c/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSchedulerScanInterval = 60 * time.Second
	defaultSchedulerScanLimit    = 100
)

// Scheduler periodically promotes due scheduled jobs into the dispatch queue.
type Scheduler struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewScheduler(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerScanInterval
	}
	if limit <= 0 {
		limit = defaultSchedulerScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

// scanDue flips each due job to queued before publishing it, one job at a
// time. A crash between flip and publish leaves the job queued, where it can
// be re-published, instead of silently lost in scheduled.
func (s *Scheduler) scanDue(ctx context.Context) error {
	dueJobs, err := s.jobs.GetDueForSchedule(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled jobs: %w", err)
	}

	for i := range dueJobs {
		job := dueJobs[i]

		updated, err := s.jobs.MarkQueuedIfScheduled(ctx, job.ID)
		if err != nil {
			s.logger.Error("failed to mark scheduled job as queued",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}
		if !updated {
			// Another sweep instance won the flip.
			s.logger.Info("scheduled job already promoted elsewhere",
				zap.String("jobId", job.ID),
			)
			continue
		}

		msg := queue.JobMessage{
			JobID:         job.ID,
			TenantID:      job.TenantID,
			CorrelationID: uuid.NewString(),
		}
		if err := s.publisher.Publish(ctx, queue.DispatchQueue, msg); err != nil {
			s.logger.Error("failed to enqueue promoted job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Info("scheduled job promoted to dispatch",
			zap.String("jobId", job.ID),
			zap.String("tenantId", job.TenantID),
		)
	}

	return nil
}
