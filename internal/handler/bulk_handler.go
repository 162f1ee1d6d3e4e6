package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/service"
	"github.com/gofiber/fiber/v2"
)

const tenantHeader = "X-Tenant-ID"

type BulkJobService interface {
	CreateJob(ctx context.Context, input service.CreateJobInput) (*domain.Job, error)
	GetJob(ctx context.Context, tenantID, id string) (*domain.Job, error)
}

type BulkHandler struct {
	service BulkJobService
}

func NewBulkHandler(service BulkJobService) (*BulkHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("bulk job service is required")
	}
	return &BulkHandler{service: service}, nil
}

func RegisterBulkRoutes(router fiber.Router, service BulkJobService) error {
	h, err := NewBulkHandler(service)
	if err != nil {
		return err
	}

	bulk := router.Group("/bulk")
	bulk.Post("/jobs", h.CreateJob)
	bulk.Get("/jobs/:id", h.GetJob)

	return nil
}

type createJobRequest struct {
	TemplateName string                     `json:"template_name"`
	LanguageCode string                     `json:"language_code"`
	Numbers      []string                   `json:"numbers"`
	ScheduledAt  *string                    `json:"scheduled_at"`
	Components   []domain.TemplateComponent `json:"components"`
}

type messageResponse struct {
	ID                string  `json:"id"`
	ToNumber          string  `json:"to_number"`
	Status            string  `json:"status"`
	Attempts          int     `json:"attempts"`
	LastError         *string `json:"last_error,omitempty"`
	ProviderMessageID *string `json:"provider_message_id,omitempty"`
}

type jobResponse struct {
	ID            string            `json:"id"`
	TemplateName  string            `json:"template_name"`
	LanguageCode  string            `json:"language_code"`
	Status        string            `json:"status"`
	ScheduledAt   *time.Time        `json:"scheduled_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	TotalMessages int               `json:"total_messages"`
	Messages      []messageResponse `json:"messages,omitempty"`
}

func (h *BulkHandler) CreateJob(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return err
	}

	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	scheduledAt, err := parseScheduledAt(req.ScheduledAt)
	if err != nil {
		return toHTTPError(err)
	}

	job, err := h.service.CreateJob(c.Context(), service.CreateJobInput{
		TenantID:     tenantID,
		TemplateName: req.TemplateName,
		LanguageCode: req.LanguageCode,
		Recipients:   req.Numbers,
		Components:   req.Components,
		ScheduledAt:  scheduledAt,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toJobResponse(job, len(req.Numbers)))
}

func (h *BulkHandler) GetJob(c *fiber.Ctx) error {
	tenantID, err := requestTenantID(c)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.GetJob(c.Context(), tenantID, id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job, len(job.Messages)))
}

func requestTenantID(c *fiber.Ctx) (string, error) {
	tenantID := strings.TrimSpace(c.Get(tenantHeader))
	if tenantID == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "X-Tenant-ID header is required")
	}
	return tenantID, nil
}

// parseScheduledAt accepts RFC3339 or a bare timestamp without zone, which is
// taken as UTC.
func parseScheduledAt(value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", trimmed, time.UTC); err == nil {
		return &t, nil
	}

	return nil, fmt.Errorf("%w: scheduled_at must be an ISO-8601 timestamp", domain.ErrValidation)
}

func toJobResponse(job *domain.Job, totalMessages int) jobResponse {
	if job == nil {
		return jobResponse{}
	}

	messages := make([]messageResponse, 0, len(job.Messages))
	for i := range job.Messages {
		msg := &job.Messages[i]
		messages = append(messages, messageResponse{
			ID:                msg.ID,
			ToNumber:          msg.ToNumber,
			Status:            msg.Status.String(),
			Attempts:          msg.Attempts,
			LastError:         msg.LastError,
			ProviderMessageID: msg.ProviderMessageID,
		})
	}
	if len(messages) > 0 {
		totalMessages = len(messages)
	}

	return jobResponse{
		ID:            job.ID,
		TemplateName:  job.TemplateName,
		LanguageCode:  job.LanguageCode,
		Status:        job.Status.String(),
		ScheduledAt:   job.ScheduledAt,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
		TotalMessages: totalMessages,
		Messages:      messages,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
