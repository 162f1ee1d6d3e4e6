package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/service"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const signatureHeader = "X-Hub-Signature"

type ReceiptService interface {
	ApplyReceipt(ctx context.Context, receipt service.Receipt) (*domain.DeliveryStatus, error)
}

// WebhookHandler receives channel delivery receipts. The channel signs each
// payload with HMAC-SHA256 over the raw body; the signature is verified in
// constant time before the body is parsed.
type WebhookHandler struct {
	service     ReceiptService
	appSecret   []byte
	verifyToken string
	logger      *zap.Logger
}

func NewWebhookHandler(service ReceiptService, appSecret, verifyToken string, logger *zap.Logger) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("receipt service is required")
	}
	if strings.TrimSpace(appSecret) == "" {
		return nil, fmt.Errorf("webhook app secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookHandler{
		service:     service,
		appSecret:   []byte(appSecret),
		verifyToken: strings.TrimSpace(verifyToken),
		logger:      logger,
	}, nil
}

func RegisterWebhookRoutes(router fiber.Router, service ReceiptService, appSecret, verifyToken string, logger *zap.Logger) error {
	h, err := NewWebhookHandler(service, appSecret, verifyToken, logger)
	if err != nil {
		return err
	}

	router.Get("/webhooks/whatsapp", h.Verify)
	router.Post("/webhooks/whatsapp", h.Receive)

	return nil
}

type receiptError struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type receiptStatus struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Errors []receiptError `json:"errors"`
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []receiptStatus `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Verify answers the channel's subscription handshake: echo hub.challenge when
// the verify token matches.
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		return fiber.NewError(fiber.StatusForbidden, "verification failed")
	}

	return c.Status(fiber.StatusOK).SendString(challenge)
}

func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	body := c.Body()

	if !h.validSignature(body, c.Get(signatureHeader)) {
		h.logger.Warn("webhook signature verification failed",
			zap.Int("bodyBytes", len(body)),
		)
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed payload")
	}

	applied := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				if h.applyOne(c.Context(), status) {
					applied++
				}
			}
		}
	}

	// Always acknowledge: a non-2xx here would make the channel disable the
	// endpoint, even though unresolved receipts are expected traffic.
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received": true,
		"applied":  applied,
	})
}

func (h *WebhookHandler) applyOne(ctx context.Context, status receiptStatus) bool {
	receipt := service.Receipt{
		ProviderMessageID: status.ID,
		Status:            status.Status,
		ErrorText:         receiptErrorText(status.Errors),
	}

	result, err := h.service.ApplyReceipt(ctx, receipt)
	if err != nil {
		h.logger.Warn("failed to apply delivery receipt",
			zap.String("providerMessageId", status.ID),
			zap.String("status", status.Status),
			zap.Error(err),
		)
		return false
	}

	return result != nil
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.appSecret)
	mac.Write(body)

	return hmac.Equal(provided, mac.Sum(nil))
}

func receiptErrorText(errs []receiptError) *string {
	if len(errs) == 0 {
		return nil
	}

	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		text := strings.TrimSpace(e.Title)
		if detail := strings.TrimSpace(e.Message); detail != "" && detail != text {
			if text != "" {
				text = text + ": " + detail
			} else {
				text = detail
			}
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	joined := strings.Join(parts, "; ")
	return &joined
}
