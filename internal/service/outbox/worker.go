package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

const (
	attemptSent       = "sent"
	attemptRetryError = "retry_error"
	attemptFailed     = "failed"
	attemptDLQFailed  = "dlq_failed"
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DLQPublisher   domain.DeadLetterPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики публикации; по умолчанию используются глобальные.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.DeadLetterPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Worker публикует pending-сообщения из outbox в брокер.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.DeadLetterPublisher
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	now            func() time.Time
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewOutboxMetrics(nil)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		logger:         logger,
		metrics:        opts.Metrics,
		now:            func() time.Time { return time.Now().UTC() },
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число опубликованных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	w.refreshBacklogMetrics()

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	published := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return published
		}

		attempts, err := w.publishWithRetry(ctx, event)
		if err != nil {
			if ctx.Err() != nil {
				// остановка: событие остаётся pending до следующего запуска
				return published
			}
			w.giveUp(event, attempts, err)
			continue
		}

		published++
		if err := w.repo.MarkSent(event.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark outbox as sent")
		}
	}

	w.refreshBacklogMetrics()
	return published
}

// Drain публикует backlog до опустошения; вызывается при остановке сервиса.
func (w *Worker) Drain(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		return
	}
	for ctx.Err() == nil {
		if w.ProcessOnce(ctx) == 0 {
			return
		}
	}
}

// publishWithRetry возвращает число сделанных попыток и последнюю ошибку.
func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error

	attempt := 0
	for attempt < w.maxAttempts {
		attempt++
		err := w.publisher.Publish(event)
		if err == nil {
			w.metrics.RecordAttempt(attemptSent)
			return attempt, nil
		}
		lastErr = err
		w.metrics.RecordAttempt(attemptRetryError)

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.retryBackoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, fmt.Errorf("publish interrupted after %d attempts: %w", attempt, lastErr)
			case <-time.After(delay):
			}
		}
	}

	return attempt, fmt.Errorf("publish failed after %d attempts: %w", attempt, lastErr)
}

// giveUp переводит событие в failed и, если настроена DLQ, отправляет его туда.
func (w *Worker) giveUp(event domain.OutboxMessage, attempts int, publishErr error) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
		"attempts":   attempts,
	})
	entry.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.RecordAttempt(attemptFailed)

	if w.dlqPublisher != nil {
		letter := domain.DeadLetter{
			Event:    event,
			Attempts: attempts,
			Reason:   publishErr.Error(),
			FailedAt: w.now(),
		}
		if err := w.dlqPublisher.PublishDeadLetter(letter); err != nil {
			entry.WithError(err).Warn("failed to publish to DLQ")
			w.metrics.RecordAttempt(attemptDLQFailed)
		}
	}
	if err := w.repo.MarkFailed(event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox as failed")
	}
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return w.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
