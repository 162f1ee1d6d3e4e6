package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/XlordCodes/pod-c/internal/domain"
	"github.com/XlordCodes/pod-c/internal/observability"
	"github.com/XlordCodes/pod-c/internal/provider"
	"github.com/XlordCodes/pod-c/internal/queue"
	"github.com/XlordCodes/pod-c/internal/ratelimit"
	"github.com/XlordCodes/pod-c/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minDispatchConcurrency = 1
	defaultBatchSize       = 10
	defaultBatchPause      = 2 * time.Second

	sendMaxAttempts    = 3
	sendBaseRetryDelay = time.Second
	sendMaxRetryDelay  = 10 * time.Second

	channelLimiterKey = "whatsapp"
)

// Dispatcher consumes job dispatch messages and runs each job's message list
// against the channel.
type Dispatcher struct {
	jobs        repository.JobRepository
	messages    repository.MessageRepository
	consumer    queue.Consumer
	channel     provider.ChannelClient
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	batchSize   int
	batchPause  time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	jobs repository.JobRepository,
	messages repository.MessageRepository,
	consumer queue.Consumer,
	channel provider.ChannelClient,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if channel == nil {
		return nil, fmt.Errorf("channel client is required")
	}
	if concurrency < minDispatchConcurrency {
		concurrency = minDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		jobs:        jobs,
		messages:    messages,
		consumer:    consumer,
		channel:     channel,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		batchSize:   defaultBatchSize,
		batchPause:  defaultBatchPause,
		now:         time.Now,
		sleep:       sleepCtx,
	}, nil
}

func (s *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the dispatch queue until context cancellation.
func (s *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil {
		return fmt.Errorf("consumer is required")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("dispatch worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, queue.DispatchQueue, s.processMessage)
			if err != nil {
				s.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *Dispatcher) processMessage(ctx context.Context, msg queue.JobMessage) error {
	return s.RunJob(ctx, msg.JobID)
}

// RunJob drains a job's pending messages in bounded batches. It is re-entrant:
// a redelivered queue message resumes wherever the previous run stopped,
// because claiming is atomic and per-message outcomes are committed one by one.
func (s *Dispatcher) RunJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetForDispatch(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("job not found for dispatch, skipping", zap.String("jobId", jobID))
			return nil
		}
		return fmt.Errorf("failed to load job for dispatch: %w", err)
	}

	if job.Status.IsTerminal() {
		s.logger.Info("job already terminal, skipping dispatch",
			zap.String("jobId", job.ID),
			zap.String("status", job.Status.String()),
		)
		return nil
	}

	if err := s.jobs.MarkProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Warn("job not dispatchable, skipping",
				zap.String("jobId", job.ID),
				zap.String("status", job.Status.String()),
			)
			return nil
		}
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncDispatchInFlight()
		defer s.metrics.DecDispatchInFlight()
	}

	for {
		batch, err := s.messages.ClaimPending(ctx, job.ID, s.batchSize)
		if err != nil {
			return fmt.Errorf("failed to claim pending messages: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.dispatchOne(ctx, job, &batch[i])
		}

		if len(batch) < s.batchSize {
			break
		}

		// Fixed pacing between batches to stay under channel rate limits.
		if err := s.sleep(ctx, s.batchPause); err != nil {
			return err
		}
	}

	if err := s.jobs.MarkCompleted(ctx, job.ID, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent run already completed it.
			return nil
		}
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncJobCompleted()
	}
	s.logger.Info("job dispatch completed", zap.String("jobId", job.ID))

	return nil
}

// dispatchOne sends a single message and records its outcome. Persistence
// failures are logged and swallowed so one bad row cannot abort the batch.
func (s *Dispatcher) dispatchOne(ctx context.Context, job *domain.Job, msg *domain.Message) {
	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, channelLimiterKey); err != nil {
			s.logger.Warn("rate limiter wait failed",
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
		}
	}

	sendStart := s.now()
	result, sendErr := s.sendWithRetry(ctx, job, msg.ToNumber)
	if s.metrics != nil {
		s.metrics.ObserveMessageSendDuration(s.now().Sub(sendStart))
	}

	if sendErr == nil {
		if err := s.messages.MarkSent(ctx, msg.ID, result.ProviderMessageID); err != nil {
			s.logger.Error("failed to persist sent outcome",
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
			return
		}
		if s.metrics != nil {
			s.metrics.IncMessageSent("dispatch")
		}
		return
	}

	kind := provider.KindOf(sendErr)
	s.logger.Warn("message send failed",
		zap.String("jobId", job.ID),
		zap.String("messageId", msg.ID),
		zap.String("kind", kind.String()),
		zap.Error(sendErr),
	)

	if err := s.messages.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
		s.logger.Error("failed to persist failed outcome",
			zap.String("messageId", msg.ID),
			zap.Error(err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.IncMessageFailed(kind.String())
	}
}

// sendWithRetry wraps one channel call in a bounded in-pass retry loop. Every
// failure is retried up to the attempt cap; the channel gives no reliable
// signal to fast-fail permanent rejections, so none is attempted here.
func (s *Dispatcher) sendWithRetry(ctx context.Context, job *domain.Job, to string) (*provider.SendResult, error) {
	req := provider.SendRequest{
		To:           to,
		TemplateName: job.TemplateName,
		LanguageCode: job.LanguageCode,
		Components:   job.Components,
	}

	var lastErr error
	for attempt := 1; attempt <= sendMaxAttempts; attempt++ {
		result, err := s.channel.SendTemplate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		if attempt == sendMaxAttempts {
			break
		}

		if err := s.sleep(ctx, retryDelay(attempt)); err != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// retryDelay doubles from the base delay per attempt, capped at the maximum.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := sendBaseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= sendMaxRetryDelay {
			return sendMaxRetryDelay
		}
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
