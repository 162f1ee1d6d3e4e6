package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/service"
	"github.com/XlordCodes/pod-c/internal/transport"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	testAppSecret   = "top-secret"
	testVerifyToken = "verify-me"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newWebhookTestApp(t *testing.T, svc ReceiptService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterWebhookRoutes(app, svc, testAppSecret, testVerifyToken, zap.NewNop()); err != nil {
		t.Fatalf("RegisterWebhookRoutes() error = %v", err)
	}

	return app
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, signature string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestWebhookReceiveAppliesStatuses(t *testing.T) {
	t.Parallel()

	var applied []service.Receipt
	svc := &stubReceiptService{
		applyFn: func(ctx context.Context, receipt service.Receipt) (*domain.DeliveryStatus, error) {
			applied = append(applied, receipt)
			return &domain.DeliveryStatus{ID: "s1", Status: domain.ChannelStatusDelivered}, nil
		},
	}

	app := newWebhookTestApp(t, svc)

	body := []byte(`{"entry":[{"changes":[{"value":{"statuses":[
		{"id":"wamid.1","status":"delivered"},
		{"id":"wamid.2","status":"failed","errors":[{"title":"Unreachable","message":"recipient unreachable"}]}
	]}}]}]}`)

	resp, respBody := postWebhook(t, app, body, signBody(testAppSecret, body))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	if len(applied) != 2 {
		t.Fatalf("applied = %d receipts, want 2", len(applied))
	}
	if applied[0].ProviderMessageID != "wamid.1" || applied[0].Status != "delivered" {
		t.Fatalf("receipt[0] = %+v", applied[0])
	}
	if applied[1].ErrorText == nil || *applied[1].ErrorText != "Unreachable: recipient unreachable" {
		t.Fatalf("receipt[1] error = %v, want combined title and message", applied[1].ErrorText)
	}
}

func TestWebhookReceiveRejectsTamperedBody(t *testing.T) {
	t.Parallel()

	svc := &stubReceiptService{
		applyFn: func(ctx context.Context, receipt service.Receipt) (*domain.DeliveryStatus, error) {
			t.Fatal("tampered payload must not reach the reconciler")
			return nil, nil
		},
	}

	app := newWebhookTestApp(t, svc)

	original := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"delivered"}]}}]}]}`)
	signature := signBody(testAppSecret, original)

	tampered := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"read"}]}}]}]}`)
	resp, _ := postWebhook(t, app, tampered, signature)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for stale signature", resp.StatusCode)
	}

	// The same tampered body with a freshly computed signature is accepted.
	svc.applyFn = func(ctx context.Context, receipt service.Receipt) (*domain.DeliveryStatus, error) {
		return &domain.DeliveryStatus{ID: "s1"}, nil
	}
	resp, _ = postWebhook(t, app, tampered, signBody(testAppSecret, tampered))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for valid signature", resp.StatusCode)
	}
}

func TestWebhookReceiveMissingOrMalformedSignature(t *testing.T) {
	t.Parallel()

	app := newWebhookTestApp(t, &stubReceiptService{})
	body := []byte(`{"entry":[]}`)

	resp, _ := postWebhook(t, app, body, "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for missing signature", resp.StatusCode)
	}

	resp, _ = postWebhook(t, app, body, "md5=abc")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for wrong scheme", resp.StatusCode)
	}

	resp, _ = postWebhook(t, app, body, "sha256=not-hex")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for undecodable signature", resp.StatusCode)
	}
}

func TestWebhookReceiveMalformedJSONAfterValidSignature(t *testing.T) {
	t.Parallel()

	app := newWebhookTestApp(t, &stubReceiptService{})

	body := []byte(`{"entry":[`)
	resp, _ := postWebhook(t, app, body, signBody(testAppSecret, body))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed JSON", resp.StatusCode)
	}
}

func TestWebhookReceiveStillAcksFailedReceipts(t *testing.T) {
	t.Parallel()

	svc := &stubReceiptService{
		applyFn: func(ctx context.Context, receipt service.Receipt) (*domain.DeliveryStatus, error) {
			return nil, errors.New("database unavailable")
		},
	}

	app := newWebhookTestApp(t, svc)

	body := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"delivered"}]}}]}]}`)
	resp, _ := postWebhook(t, app, body, signBody(testAppSecret, body))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 even when applying fails", resp.StatusCode)
	}
}

func TestWebhookVerifyHandshake(t *testing.T) {
	t.Parallel()

	app := newWebhookTestApp(t, &stubReceiptService{})

	path := "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=" + url.QueryEscape(testVerifyToken) + "&hub.challenge=12345"
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	challenge, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(challenge) != "12345" {
		t.Fatalf("challenge = %q, want 12345", string(challenge))
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403 for wrong token", resp.StatusCode)
	}
}

type stubReceiptService struct {
	applyFn func(ctx context.Context, receipt service.Receipt) (*domain.DeliveryStatus, error)
}

func (s *stubReceiptService) ApplyReceipt(ctx context.Context, receipt service.Receipt) (*domain.DeliveryStatus, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, receipt)
	}
	return nil, nil
}
