package repository

import (
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
)

// JobModel is the persistence model for the bulk_jobs table.
type JobModel struct {
	ID           string                     `gorm:"type:uuid;primaryKey"`
	TenantID     string                     `gorm:"type:varchar(36);not null;index"`
	TemplateName string                     `gorm:"type:varchar(255);not null"`
	LanguageCode string                     `gorm:"type:varchar(16);not null"`
	Components   []domain.TemplateComponent `gorm:"serializer:json;type:jsonb"`
	Status       domain.JobStatus           `gorm:"type:varchar(20);not null"`
	ScheduledAt  *time.Time                 `gorm:"type:timestamptz"`
	CreatedAt    time.Time
	CompletedAt  *time.Time `gorm:"type:timestamptz"`

	Messages []MessageModel `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

func (JobModel) TableName() string {
	return "bulk_jobs"
}

// MessageModel is the persistence model for the bulk_messages table.
type MessageModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	JobID             string               `gorm:"type:uuid;not null;index"`
	ToNumber          string               `gorm:"type:varchar(32);not null;index"`
	Status            domain.MessageStatus `gorm:"type:varchar(10);not null"`
	Attempts          int                  `gorm:"not null;default:0"`
	LastError         *string              `gorm:"type:text"`
	ProviderMessageID *string              `gorm:"type:varchar(255)"`
	ClaimedAt         *time.Time           `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (MessageModel) TableName() string {
	return "bulk_messages"
}

// DeliveryStatusModel is the persistence model for message_status.
type DeliveryStatusModel struct {
	ID        string               `gorm:"type:uuid;primaryKey"`
	MessageID string               `gorm:"type:uuid;not null;uniqueIndex"`
	Status    domain.ChannelStatus `gorm:"type:varchar(10);not null;index"`
	LastError *string              `gorm:"type:text"`
	UpdatedAt time.Time
}

func (DeliveryStatusModel) TableName() string {
	return "message_status"
}

func jobModelFromDomain(j *domain.Job) *JobModel {
	if j == nil {
		return nil
	}

	return &JobModel{
		ID:           j.ID,
		TenantID:     j.TenantID,
		TemplateName: j.TemplateName,
		LanguageCode: j.LanguageCode,
		Components:   j.Components,
		Status:       j.Status,
		ScheduledAt:  j.ScheduledAt,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func jobModelToDomain(m *JobModel) *domain.Job {
	if m == nil {
		return nil
	}

	job := &domain.Job{
		ID:           m.ID,
		TenantID:     m.TenantID,
		TemplateName: m.TemplateName,
		LanguageCode: m.LanguageCode,
		Components:   m.Components,
		Status:       m.Status,
		ScheduledAt:  m.ScheduledAt,
		CreatedAt:    m.CreatedAt,
		CompletedAt:  m.CompletedAt,
	}

	if len(m.Messages) > 0 {
		job.Messages = make([]domain.Message, 0, len(m.Messages))
		for i := range m.Messages {
			job.Messages = append(job.Messages, *messageModelToDomain(&m.Messages[i]))
		}
	}

	return job
}

func messageModelFromDomain(msg *domain.Message) *MessageModel {
	if msg == nil {
		return nil
	}

	return &MessageModel{
		ID:                msg.ID,
		JobID:             msg.JobID,
		ToNumber:          msg.ToNumber,
		Status:            msg.Status,
		Attempts:          msg.Attempts,
		LastError:         msg.LastError,
		ProviderMessageID: msg.ProviderMessageID,
		ClaimedAt:         msg.ClaimedAt,
		CreatedAt:         msg.CreatedAt,
		UpdatedAt:         msg.UpdatedAt,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	return &domain.Message{
		ID:                m.ID,
		JobID:             m.JobID,
		ToNumber:          m.ToNumber,
		Status:            m.Status,
		Attempts:          m.Attempts,
		LastError:         m.LastError,
		ProviderMessageID: m.ProviderMessageID,
		ClaimedAt:         m.ClaimedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func deliveryStatusModelFromDomain(ds *domain.DeliveryStatus) *DeliveryStatusModel {
	if ds == nil {
		return nil
	}

	return &DeliveryStatusModel{
		ID:        ds.ID,
		MessageID: ds.MessageID,
		Status:    ds.Status,
		LastError: ds.LastError,
		UpdatedAt: ds.UpdatedAt,
	}
}

func deliveryStatusModelToDomain(m *DeliveryStatusModel) *domain.DeliveryStatus {
	if m == nil {
		return nil
	}

	return &domain.DeliveryStatus{
		ID:        m.ID,
		MessageID: m.MessageID,
		Status:    m.Status,
		LastError: m.LastError,
		UpdatedAt: m.UpdatedAt,
	}
}
