package repository

import (
	"context"
	"errors"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"gorm.io/gorm"
)

type JobRepository interface {
	CreateWithMessages(ctx context.Context, job *domain.Job, messages []*domain.Message) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Job, error)
	GetForDispatch(ctx context.Context, id string) (*domain.Job, error)
	GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	MarkQueuedIfScheduled(ctx context.Context, id string) (bool, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

// CreateWithMessages persists the job and its recipient messages in one
// transaction. Messages are batch-inserted so large recipient lists do not
// blow up transaction time.
func (r *GormJobRepo) CreateWithMessages(ctx context.Context, job *domain.Job, messages []*domain.Message) error {
	jobModel := jobModelFromDomain(job)

	messageModels := make([]MessageModel, 0, len(messages))
	for _, msg := range messages {
		if model := messageModelFromDomain(msg); model != nil {
			messageModels = append(messageModels, *model)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(jobModel).Error; err != nil {
			return err
		}
		if len(messageModels) == 0 {
			return nil
		}
		return tx.CreateInBatches(&messageModels, 500).Error
	})
	if err != nil {
		return err
	}

	if job != nil {
		*job = *jobModelToDomain(jobModel)
	}
	for i := range messageModels {
		if i < len(messages) && messages[i] != nil {
			*messages[i] = *messageModelToDomain(&messageModels[i])
		}
	}

	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

// GetForDispatch loads a job without tenant scoping; the dispatch worker
// trusts queue payloads, not caller headers.
func (r *GormJobRepo) GetForDispatch(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) GetDueForSchedule(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.JobStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

// MarkQueuedIfScheduled flips a due job to queued. The conditional WHERE makes
// the sweep safe to run from multiple processes: only one of them wins the
// flip, and a crash after it leaves the job recoverable as queued.
func (r *GormJobRepo) MarkQueuedIfScheduled(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.JobStatusScheduled).
		Update("status", domain.JobStatusQueued)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkProcessing moves a queued job into processing. Re-delivered queue
// messages land on a job already processing; that is accepted so the run is
// re-entrant. Terminal and still-scheduled jobs are refused.
func (r *GormJobRepo) MarkProcessing(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
		Update("status", domain.JobStatusProcessing)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormJobRepo) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.JobStatusProcessing).
		Updates(map[string]any{
			"status":       domain.JobStatusCompleted,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
