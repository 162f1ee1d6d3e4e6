package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/provider"
)

func retryableMessage(id string, attempts int) domain.Message {
	return domain.Message{
		ID:       id,
		JobID:    "j1",
		ToNumber: "111",
		Status:   domain.MessageStatusFailed,
		Attempts: attempts,
		Job: &domain.Job{
			ID:           "j1",
			TemplateName: "welcome",
			LanguageCode: "en_US",
		},
	}
}

func TestRetryScannerRecoversFailedMessage(t *testing.T) {
	t.Parallel()

	var recoveredID, recoveredProviderID string
	messages := &fakeMessageRepo{
		claimFailedForRetryFn: func(ctx context.Context, maxRetries, limit int) ([]domain.Message, error) {
			if maxRetries != domain.DefaultMaxRetries {
				t.Fatalf("maxRetries = %d, want %d", maxRetries, domain.DefaultMaxRetries)
			}
			if limit != defaultRetryScanLimit {
				t.Fatalf("limit = %d, want %d", limit, defaultRetryScanLimit)
			}
			msg := retryableMessage("m1", 1)
			return []domain.Message{msg}, nil
		},
		markRetrySentFn: func(ctx context.Context, id, providerMessageID string) error {
			recoveredID = id
			recoveredProviderID = providerMessageID
			return nil
		},
		markFailedFn: func(ctx context.Context, id, errorText string) error {
			t.Fatal("MarkFailed should not be called on recovery")
			return nil
		},
	}

	sendCalls := 0
	channel := &fakeChannel{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			sendCalls++
			if req.TemplateName != "welcome" {
				t.Fatalf("template = %q, want welcome (from the joined parent job)", req.TemplateName)
			}
			return &provider.SendResult{ProviderMessageID: "wamid.retry"}, nil
		},
	}

	s, err := NewRetryScanner(messages, channel, &fakeRateLimiter{}, time.Minute, 0, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := s.RetryFailedMessages(context.Background()); err != nil {
		t.Fatalf("RetryFailedMessages() error = %v", err)
	}

	// The scan is the retry; no inner retry loop wraps the send.
	if sendCalls != 1 {
		t.Fatalf("send calls = %d, want 1", sendCalls)
	}
	if recoveredID != "m1" || recoveredProviderID != "wamid.retry" {
		t.Fatalf("recovered = (%q, %q), want (m1, wamid.retry)", recoveredID, recoveredProviderID)
	}
}

func TestRetryScannerRecordsRepeatedFailure(t *testing.T) {
	t.Parallel()

	var failedID, failedError string
	messages := &fakeMessageRepo{
		claimFailedForRetryFn: func(ctx context.Context, maxRetries, limit int) ([]domain.Message, error) {
			msg := retryableMessage("m1", 2)
			return []domain.Message{msg}, nil
		},
		markFailedFn: func(ctx context.Context, id, errorText string) error {
			failedID = id
			failedError = errorText
			return nil
		},
	}
	channel := &fakeChannel{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			return nil, &provider.ProviderError{
				Kind:       domain.ErrorKindNetworkTimeout,
				StatusCode: 503,
				Message:    "upstream unavailable",
				Transient:  true,
			}
		},
	}

	s, err := NewRetryScanner(messages, channel, &fakeRateLimiter{}, time.Minute, 50, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := s.RetryFailedMessages(context.Background()); err != nil {
		t.Fatalf("RetryFailedMessages() error = %v", err)
	}

	if failedID != "m1" {
		t.Fatalf("failed id = %q, want m1", failedID)
	}
	if failedError == "" {
		t.Fatal("failure should replace the stored error text")
	}
}

func TestRetryScannerSkipsMessageWithoutParentJob(t *testing.T) {
	t.Parallel()

	messages := &fakeMessageRepo{
		claimFailedForRetryFn: func(ctx context.Context, maxRetries, limit int) ([]domain.Message, error) {
			return []domain.Message{{ID: "m1", JobID: "j-gone", ToNumber: "111", Status: domain.MessageStatusFailed}}, nil
		},
	}
	channel := &fakeChannel{
		sendFn: func(ctx context.Context, req provider.SendRequest) (*provider.SendResult, error) {
			t.Fatal("channel must not be called without a parent job")
			return nil, nil
		},
	}

	s, err := NewRetryScanner(messages, channel, &fakeRateLimiter{}, time.Minute, 50, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := s.RetryFailedMessages(context.Background()); err != nil {
		t.Fatalf("RetryFailedMessages() error = %v", err)
	}
}

func TestRetryScannerClaimFailureSurfaces(t *testing.T) {
	t.Parallel()

	messages := &fakeMessageRepo{
		claimFailedForRetryFn: func(ctx context.Context, maxRetries, limit int) ([]domain.Message, error) {
			return nil, errors.New("connection refused")
		},
	}

	s, err := NewRetryScanner(messages, &fakeChannel{}, &fakeRateLimiter{}, time.Minute, 50, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := s.RetryFailedMessages(context.Background()); err == nil {
		t.Fatal("expected claim failure to surface")
	}
}
