package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/service"
	"github.com/gofiber/fiber/v2"
)

type DeliveryStatusService interface {
	GetMessageStatus(ctx context.Context, messageID string) (*domain.DeliveryStatus, error)
	Summary(ctx context.Context) (*service.StatusSummary, error)
}

type StatusHandler struct {
	service DeliveryStatusService
}

func NewStatusHandler(service DeliveryStatusService) (*StatusHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("delivery status service is required")
	}
	return &StatusHandler{service: service}, nil
}

func RegisterStatusRoutes(router fiber.Router, service DeliveryStatusService) error {
	h, err := NewStatusHandler(service)
	if err != nil {
		return err
	}

	status := router.Group("/status")
	status.Get("/summary", h.GetSummary)
	status.Get("/messages/:id", h.GetMessageStatus)

	return nil
}

type statusSummaryResponse struct {
	Total  int                   `json:"total"`
	Counts []statusCountResponse `json:"counts"`
}

type statusCountResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type deliveryStatusResponse struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	LastError *string   `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *StatusHandler) GetSummary(c *fiber.Ctx) error {
	summary, err := h.service.Summary(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	counts := make([]statusCountResponse, 0, len(summary.Counts))
	for _, count := range summary.Counts {
		counts = append(counts, statusCountResponse{
			Status: count.Status.String(),
			Count:  count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(statusSummaryResponse{
		Total:  summary.Total,
		Counts: counts,
	})
}

func (h *StatusHandler) GetMessageStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	status, err := h.service.GetMessageStatus(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(deliveryStatusResponse{
		MessageID: status.MessageID,
		Status:    status.Status.String(),
		LastError: status.LastError,
		UpdatedAt: status.UpdatedAt,
	})
}
