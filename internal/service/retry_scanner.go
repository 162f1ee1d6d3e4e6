package service

import (
	"context"
	"fmt"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/observability"
	"github.com/XlordCodes/pod-c/internal/provider"
	"github.com/XlordCodes/pod-c/internal/ratelimit"
	"github.com/XlordCodes/pod-c/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Minute
	defaultRetryScanLimit    = 50
)

// RetryScanner periodically re-attempts failed messages still below the retry
// ceiling. It is a safety net behind the dispatch path: each scan issues one
// direct channel call per message, with no inner retry loop.
type RetryScanner struct {
	messages    repository.MessageRepository
	channel     provider.ChannelClient
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	limit       int
}

func NewRetryScanner(
	messages repository.MessageRepository,
	channel provider.ChannelClient,
	rateLimiter ratelimit.RateLimiter,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("channel client is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		messages:    messages,
		channel:     channel,
		rateLimiter: rateLimiter,
		logger:      logger,
		interval:    interval,
		limit:       limit,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.RetryFailedMessages(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.RetryFailedMessages(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

// RetryFailedMessages claims one batch of retryable failed messages and
// re-attempts each. Outcomes are committed per message so one poison message
// cannot undo recovery of the rest of the batch.
func (s *RetryScanner) RetryFailedMessages(ctx context.Context) error {
	batch, err := s.messages.ClaimFailedForRetry(ctx, domain.DefaultMaxRetries, s.limit)
	if err != nil {
		return fmt.Errorf("failed to claim retryable messages: %w", err)
	}

	for i := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.retryOne(ctx, &batch[i])
	}

	return nil
}

func (s *RetryScanner) retryOne(ctx context.Context, msg *domain.Message) {
	if msg.Job == nil {
		// Should not happen with the eager join; leave the claim to lapse.
		s.logger.Error("retryable message without parent job",
			zap.String("messageId", msg.ID),
			zap.String("jobId", msg.JobID),
		)
		return
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, channelLimiterKey); err != nil {
			s.logger.Warn("rate limiter wait failed",
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
		}
	}

	result, sendErr := s.channel.SendTemplate(ctx, provider.SendRequest{
		To:           msg.ToNumber,
		TemplateName: msg.Job.TemplateName,
		LanguageCode: msg.Job.LanguageCode,
		Components:   msg.Job.Components,
	})

	if sendErr == nil {
		if err := s.messages.MarkRetrySent(ctx, msg.ID, result.ProviderMessageID); err != nil {
			s.logger.Error("failed to persist recovered outcome",
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
			return
		}
		if s.metrics != nil {
			s.metrics.IncMessageSent("retry")
			s.metrics.IncRetryRecovered()
		}
		s.logger.Info("failed message recovered",
			zap.String("messageId", msg.ID),
			zap.String("jobId", msg.JobID),
			zap.Int("attempts", msg.Attempts+1),
		)
		return
	}

	kind := provider.KindOf(sendErr)
	s.logger.Warn("retry send failed",
		zap.String("messageId", msg.ID),
		zap.String("jobId", msg.JobID),
		zap.String("kind", kind.String()),
		zap.Error(sendErr),
	)

	if err := s.messages.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
		s.logger.Error("failed to persist retry failure",
			zap.String("messageId", msg.ID),
			zap.Error(err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.IncMessageFailed(kind.String())
	}
}
