package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/observability"
	"github.com/XlordCodes/pod-c/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Receipt is one inbound delivery-status event, keyed by the provider's
// message identifier.
type Receipt struct {
	ProviderMessageID string
	Status            string
	ErrorText         *string
}

// StatusSummary aggregates delivery-status rows for the dashboard.
type StatusSummary struct {
	Counts []repository.StatusCount
	Total  int
}

// StatusService reconciles inbound delivery receipts onto per-message status
// rows. It is idempotent under at-least-once receipt delivery.
type StatusService struct {
	messages repository.MessageRepository
	statuses repository.DeliveryStatusRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewStatusService(
	messages repository.MessageRepository,
	statuses repository.DeliveryStatusRepository,
	logger *zap.Logger,
) (*StatusService, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if statuses == nil {
		return nil, fmt.Errorf("delivery status repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusService{
		messages: messages,
		statuses: statuses,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *StatusService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// ApplyReceipt upserts the delivery-status row for the message the receipt
// refers to. Unresolved provider ids are dropped, not treated as errors: the
// channel redelivers receipts for foreign and long-gone messages, and failing
// them would get the endpoint disabled. A nil result with a nil error means
// the receipt was dropped or ignored.
func (s *StatusService) ApplyReceipt(ctx context.Context, receipt Receipt) (*domain.DeliveryStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	providerID := strings.TrimSpace(receipt.ProviderMessageID)
	if providerID == "" {
		return nil, fmt.Errorf("%w: provider message id is required", domain.ErrValidation)
	}

	newStatus, err := domain.ParseChannelStatusFromString(receipt.Status)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.GetByProviderMessageID(ctx, providerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("dropping receipt for unknown provider message id",
				zap.String("providerMessageId", providerID),
				zap.String("status", newStatus.String()),
			)
			if s.metrics != nil {
				s.metrics.IncReceipt("dropped")
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve message by provider id: %w", err)
	}

	errorText := normalizeErrorText(receipt.ErrorText)
	now := s.now().UTC()

	current, err := s.statuses.GetByMessageID(ctx, msg.ID)
	if errors.Is(err, domain.ErrNotFound) {
		created := &domain.DeliveryStatus{
			ID:        uuid.NewString(),
			MessageID: msg.ID,
			Status:    newStatus,
			LastError: errorText,
			UpdatedAt: now,
		}
		if err := s.statuses.Create(ctx, created); err != nil {
			return nil, fmt.Errorf("failed to create delivery status: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncReceipt("applied")
		}
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery status: %w", err)
	}

	if !current.Status.SupersededBy(newStatus) {
		s.logger.Info("ignoring stale delivery receipt",
			zap.String("messageId", msg.ID),
			zap.String("current", current.Status.String()),
			zap.String("incoming", newStatus.String()),
		)
		if s.metrics != nil {
			s.metrics.IncReceipt("ignored")
		}
		return current, nil
	}

	if err := s.statuses.Update(ctx, current.ID, newStatus, errorText, now); err != nil {
		return nil, fmt.Errorf("failed to update delivery status: %w", err)
	}

	current.Status = newStatus
	if errorText != nil {
		current.LastError = errorText
	}
	current.UpdatedAt = now

	if s.metrics != nil {
		s.metrics.IncReceipt("applied")
	}

	return current, nil
}

// GetMessageStatus returns the delivery-status row for an internal message id.
func (s *StatusService) GetMessageStatus(ctx context.Context, messageID string) (*domain.DeliveryStatus, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	return s.statuses.GetByMessageID(ctx, strings.TrimSpace(messageID))
}

// Summary aggregates delivery-status rows by channel status.
func (s *StatusService) Summary(ctx context.Context) (*StatusSummary, error) {
	counts, err := s.statuses.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery statuses: %w", err)
	}

	total := 0
	for _, c := range counts {
		total += c.Count
	}

	return &StatusSummary{Counts: counts, Total: total}, nil
}

func normalizeErrorText(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
