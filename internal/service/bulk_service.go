package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/queue"
	"github.com/XlordCodes/pod-c/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRecipientsPerJob = 10000

// BulkService handles job intake: it fans a campaign out into per-recipient
// message rows and hands immediate jobs to the dispatch queue.
type BulkService struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type CreateJobInput struct {
	TenantID     string
	TemplateName string
	LanguageCode string
	Recipients   []string
	Components   []domain.TemplateComponent
	ScheduledAt  *time.Time
}

func NewBulkService(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*BulkService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BulkService{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// CreateJob creates a job and its message rows in one transaction. Jobs due
// now (or with no schedule) are created queued and published immediately;
// future-dated jobs are created scheduled and left for the sweep.
func (s *BulkService) CreateJob(ctx context.Context, input CreateJobInput) (*domain.Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	recipients, err := normalizeRecipients(input.Recipients)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	scheduledAt := normalizeScheduledAt(input.ScheduledAt)

	status := domain.JobStatusQueued
	if scheduledAt != nil && scheduledAt.After(now) {
		status = domain.JobStatusScheduled
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		TenantID:     strings.TrimSpace(input.TenantID),
		TemplateName: strings.TrimSpace(input.TemplateName),
		LanguageCode: strings.TrimSpace(input.LanguageCode),
		Components:   input.Components,
		Status:       status,
		ScheduledAt:  scheduledAt,
		CreatedAt:    now,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(recipients))
	for _, recipient := range recipients {
		messages = append(messages, &domain.Message{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			ToNumber:  recipient,
			Status:    domain.MessageStatusPending,
			Attempts:  0,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.jobs.CreateWithMessages(ctx, job, messages); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if status != domain.JobStatusQueued {
		s.logger.Info("job scheduled",
			zap.String("jobId", job.ID),
			zap.String("tenantId", job.TenantID),
			zap.Timep("scheduledAt", job.ScheduledAt),
			zap.Int("recipients", len(messages)),
		)
		return job, nil
	}

	msg := queue.JobMessage{
		JobID:         job.ID,
		TenantID:      job.TenantID,
		CorrelationID: uuid.NewString(),
	}
	if err := s.publisher.Publish(ctx, queue.DispatchQueue, msg); err != nil {
		// The job row stays queued, so a later manual or operational
		// re-publish can recover it.
		s.logger.Error("failed to publish job for dispatch",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to publish job for dispatch: %w", err)
	}

	s.logger.Info("job queued for dispatch",
		zap.String("jobId", job.ID),
		zap.String("tenantId", job.TenantID),
		zap.Int("recipients", len(messages)),
	)

	return job, nil
}

// GetJob returns a tenant's job with its per-message status list.
func (s *BulkService) GetJob(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.jobs.GetByID(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(id))
}

func normalizeRecipients(recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", domain.ErrValidation)
	}
	if len(recipients) > maxRecipientsPerJob {
		return nil, fmt.Errorf("%w: recipient count exceeds %d", domain.ErrValidation, maxRecipientsPerJob)
	}

	normalized := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		trimmed := strings.TrimSpace(recipient)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: recipient number must not be empty", domain.ErrValidation)
		}
		normalized = append(normalized, trimmed)
	}

	return normalized, nil
}

// normalizeScheduledAt converts the caller's timestamp to UTC. A timestamp
// without zone information is taken as already UTC.
func normalizeScheduledAt(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
