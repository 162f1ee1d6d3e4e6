package repository

import (
	"context"
	"errors"

	"github.com/XlordCodes/pod-c/internal/domain"
	"gorm.io/gorm"
)

// claimLease bounds how long a claim blocks other workers. A worker that dies
// mid-batch releases its messages when the lease expires.
const claimLease = "10 minutes"

const claimPendingSQL = `
UPDATE bulk_messages
SET claimed_at = NOW(), updated_at = NOW()
WHERE id IN (
	SELECT id FROM bulk_messages
	WHERE job_id = ? AND status = 'pending'
	  AND (claimed_at IS NULL OR claimed_at < NOW() - INTERVAL '` + claimLease + `')
	ORDER BY created_at ASC, id ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

const claimFailedSQL = `
UPDATE bulk_messages
SET claimed_at = NOW(), updated_at = NOW()
WHERE id IN (
	SELECT id FROM bulk_messages
	WHERE status = 'failed' AND attempts < ?
	  AND (claimed_at IS NULL OR claimed_at < NOW() - INTERVAL '` + claimLease + `')
	ORDER BY updated_at ASC, id ASC
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

type MessageRepository interface {
	ClaimPending(ctx context.Context, jobID string, limit int) ([]domain.Message, error)
	ClaimFailedForRetry(ctx context.Context, maxRetries, limit int) ([]domain.Message, error)
	MarkSent(ctx context.Context, id, providerMessageID string) error
	MarkRetrySent(ctx context.Context, id, providerMessageID string) error
	MarkFailed(ctx context.Context, id, errorText string) error
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Message, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

// ClaimPending atomically claims up to limit pending messages of a job. The
// SKIP LOCKED select plus the claimed_at lease guarantees two concurrent
// workers never hold the same message, closing the double-send window.
func (r *GormMessageRepo) ClaimPending(ctx context.Context, jobID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Raw(claimPendingSQL, jobID, limit).
		Scan(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}

	return messages, nil
}

// ClaimFailedForRetry claims failed messages below the retry ceiling across
// all jobs and eagerly attaches each parent job, so the retry pass does not
// issue one job lookup per message.
func (r *GormMessageRepo) ClaimFailedForRetry(ctx context.Context, maxRetries, limit int) ([]domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Raw(claimFailedSQL, maxRetries, limit).
		Scan(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}

	jobIDs := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for i := range models {
		if _, ok := seen[models[i].JobID]; !ok {
			seen[models[i].JobID] = struct{}{}
			jobIDs = append(jobIDs, models[i].JobID)
		}
	}

	var jobModels []JobModel
	if err := r.db.WithContext(ctx).Where("id IN ?", jobIDs).Find(&jobModels).Error; err != nil {
		return nil, err
	}

	jobsByID := make(map[string]*domain.Job, len(jobModels))
	for i := range jobModels {
		jobsByID[jobModels[i].ID] = jobModelToDomain(&jobModels[i])
	}

	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		msg := messageModelToDomain(&models[i])
		msg.Job = jobsByID[msg.JobID]
		messages = append(messages, *msg)
	}

	return messages, nil
}

// MarkSent records a successful dispatch send and releases the claim.
func (r *GormMessageRepo) MarkSent(ctx context.Context, id, providerMessageID string) error {
	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":              domain.MessageStatusSent,
			"provider_message_id": providerMessageID,
			"claimed_at":          nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkRetrySent records a recovery by the retry scanner: the attempt counts,
// the stored provider id is replaced, and the stale error is cleared.
func (r *GormMessageRepo) MarkRetrySent(ctx context.Context, id, providerMessageID string) error {
	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":              domain.MessageStatusSent,
			"provider_message_id": providerMessageID,
			"last_error":          nil,
			"attempts":            gorm.Expr("attempts + 1"),
			"claimed_at":          nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormMessageRepo) MarkFailed(ctx context.Context, id, errorText string) error {
	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.MessageStatusFailed,
			"last_error": errorText,
			"attempts":   gorm.Expr("attempts + 1"),
			"claimed_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormMessageRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}
