package repository

import (
	"context"
	"errors"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"gorm.io/gorm"
)

// StatusCount is one row of the delivery dashboard aggregation.
type StatusCount struct {
	Status domain.ChannelStatus `gorm:"column:status"`
	Count  int                  `gorm:"column:count"`
}

type DeliveryStatusRepository interface {
	GetByMessageID(ctx context.Context, messageID string) (*domain.DeliveryStatus, error)
	Create(ctx context.Context, ds *domain.DeliveryStatus) error
	Update(ctx context.Context, id string, status domain.ChannelStatus, errorText *string, updatedAt time.Time) error
	CountByStatus(ctx context.Context) ([]StatusCount, error)
}

type GormDeliveryStatusRepo struct {
	db *gorm.DB
}

func NewGormDeliveryStatusRepo(db *gorm.DB) *GormDeliveryStatusRepo {
	return &GormDeliveryStatusRepo{db: db}
}

func (r *GormDeliveryStatusRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.DeliveryStatus, error) {
	var model DeliveryStatusModel
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryStatusModelToDomain(&model), nil
}

func (r *GormDeliveryStatusRepo) Create(ctx context.Context, ds *domain.DeliveryStatus) error {
	model := deliveryStatusModelFromDomain(ds)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if ds != nil {
		*ds = *deliveryStatusModelToDomain(model)
	}
	return nil
}

// Update overwrites the status row. A nil errorText leaves the stored error
// untouched; receipts without error detail must not erase an earlier one.
func (r *GormDeliveryStatusRepo) Update(ctx context.Context, id string, status domain.ChannelStatus, errorText *string, updatedAt time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": updatedAt,
	}
	if errorText != nil {
		updates["last_error"] = *errorText
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryStatusModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryStatusRepo) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&DeliveryStatusModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
