package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// scriptedPublisher возвращает ошибки из script по очереди, затем fallback.
type scriptedPublisher struct {
	mu       sync.Mutex
	script   []error
	fallback error
	events   []domain.OutboxMessage
}

func (p *scriptedPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		return err
	}
	return p.fallback
}

// cancellingPublisher отменяет контекст воркера при первой публикации и возвращает ошибку.
type cancellingPublisher struct {
	cancel context.CancelFunc
}

func (p *cancellingPublisher) Publish(domain.OutboxMessage) error {
	p.cancel()
	return errors.New("broker down")
}

func (p *scriptedPublisher) published() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.events...)
}

type deadLetterRecorder struct {
	mu      sync.Mutex
	err     error
	letters []domain.DeadLetter
}

func (r *deadLetterRecorder) PublishDeadLetter(letter domain.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, letter)
	return r.err
}

func (r *deadLetterRecorder) published() []domain.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DeadLetter(nil), r.letters...)
}

type failingStatsRepo struct {
	*memory.OutboxRepository
}

func (failingStatsRepo) Stats() (domain.OutboxStats, error) {
	return domain.OutboxStats{}, errors.New("stats unavailable")
}

func transferAssigned(t *testing.T, repo *memory.OutboxRepository, orderID string, transfer domain.TransferType) domain.OutboxMessage {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"order_id": orderID, "transfer_type": string(transfer)})
	require.NoError(t, err)
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   orderID,
		EventType:     domain.OutboxEventTransferAssigned,
		Payload:       payload,
	})
	require.NoError(t, err)
	return msg
}

func newTestWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, reg *prometheus.Registry, options ...Option) *Worker {
	base := []Option{WithRetryBaseDelay(0), WithMaxAttempts(3), WithMetrics(metrics.NewOutboxMetrics(reg))}
	return NewWorker(repo, publisher, append(base, options...)...)
}

func TestWorker_ProcessOnce(t *testing.T) {
	tests := []struct {
		name        string
		script      []error
		fallback    error
		withDLQ     bool
		wantSent    int
		wantCalls   int
		wantDLQ     int
		wantResults map[string]float64
	}{
		{
			name:        "published first time",
			wantSent:    1,
			wantCalls:   1,
			wantResults: map[string]float64{attemptSent: 1},
		},
		{
			name:        "recovers on third attempt",
			script:      []error{errors.New("broker busy"), errors.New("broker busy")},
			wantSent:    1,
			wantCalls:   3,
			wantResults: map[string]float64{attemptSent: 1, attemptRetryError: 2},
		},
		{
			name:        "exhausted goes to dlq",
			fallback:    errors.New("topic missing"),
			withDLQ:     true,
			wantCalls:   3,
			wantDLQ:     1,
			wantResults: map[string]float64{attemptRetryError: 3, attemptFailed: 1},
		},
		{
			name:        "exhausted without dlq",
			fallback:    errors.New("topic missing"),
			wantCalls:   3,
			wantResults: map[string]float64{attemptRetryError: 3, attemptFailed: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewOutboxRepository()
			msg := transferAssigned(t, repo, "1001", domain.TransferTypePost)

			publisher := &scriptedPublisher{script: tt.script, fallback: tt.fallback}
			dlq := &deadLetterRecorder{}
			reg := prometheus.NewRegistry()
			var options []Option
			if tt.withDLQ {
				options = append(options, WithDLQPublisher(dlq))
			}

			sent := newTestWorker(repo, publisher, reg, options...).ProcessOnce(context.Background())

			assert.Equal(t, tt.wantSent, sent)
			assert.Len(t, publisher.published(), tt.wantCalls)
			assert.Len(t, dlq.published(), tt.wantDLQ)
			assert.Empty(t, repo.AllPending(), "message leaves the backlog either way")
			for _, event := range publisher.published() {
				assert.Equal(t, msg.ID, event.ID)
			}
			for result, want := range tt.wantResults {
				assert.Equal(t, want, metricsCounter(t, reg, result), result)
			}
		})
	}
}

func metricsCounter(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "fulfillment_outbox_publish_attempts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWorker_DeadLetterCarriesOriginalEvent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	msg := transferAssigned(t, repo, "2002", domain.TransferTypeMahex)

	failedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	dlq := &deadLetterRecorder{}
	worker := newTestWorker(repo, &scriptedPublisher{fallback: errors.New("broker down")}, prometheus.NewRegistry(),
		WithDLQPublisher(dlq), WithMaxAttempts(2))
	worker.now = func() time.Time { return failedAt }
	worker.ProcessOnce(context.Background())

	letters := dlq.published()
	require.Len(t, letters, 1)
	letter := letters[0]
	assert.Equal(t, msg, letter.Event)
	assert.Equal(t, "2002", letter.Event.AggregateID)
	assert.Equal(t, 2, letter.Attempts)
	assert.Contains(t, letter.Reason, "broker down")
	assert.Equal(t, failedAt, letter.FailedAt)
}

func TestWorker_DLQFailureIsCounted(t *testing.T) {
	repo := memory.NewOutboxRepository()
	transferAssigned(t, repo, "1001", domain.TransferTypeSnappBox)

	reg := prometheus.NewRegistry()
	worker := newTestWorker(repo, &scriptedPublisher{fallback: errors.New("broker down")}, reg,
		WithDLQPublisher(&deadLetterRecorder{err: errors.New("dlq down")}), WithMaxAttempts(1))
	worker.ProcessOnce(context.Background())

	assert.Equal(t, float64(1), metricsCounter(t, reg, attemptDLQFailed))
	assert.Empty(t, repo.AllPending())
}

func TestWorker_ShutdownDuringBackoffKeepsEventPending(t *testing.T) {
	repo := memory.NewOutboxRepository()
	transferAssigned(t, repo, "1001", domain.TransferTypePost)

	ctx, cancel := context.WithCancel(context.Background())
	publisher := &cancellingPublisher{cancel: cancel}
	dlq := &deadLetterRecorder{}
	worker := newTestWorker(repo, publisher, prometheus.NewRegistry(),
		WithDLQPublisher(dlq), WithRetryBaseDelay(time.Hour))

	assert.Zero(t, worker.ProcessOnce(ctx))
	assert.Empty(t, dlq.published())
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_DrainEmptiesBacklogInBatches(t *testing.T) {
	repo := memory.NewOutboxRepository()
	for _, id := range []string{"1001", "1002", "1003", "1004", "1005"} {
		transferAssigned(t, repo, id, domain.TransferTypePost)
	}
	publisher := &scriptedPublisher{}
	reg := prometheus.NewRegistry()

	newTestWorker(repo, publisher, reg, WithBatchSize(2)).Drain(context.Background())

	assert.Len(t, publisher.published(), 5)
	assert.Empty(t, repo.AllPending())
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "fulfillment_outbox_pending_records"))
}

func TestWorker_ProcessOnceSkipsCancelledContext(t *testing.T) {
	repo := memory.NewOutboxRepository()
	transferAssigned(t, repo, "1001", domain.TransferTypePost)
	publisher := &scriptedPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Zero(t, newTestWorker(repo, publisher, prometheus.NewRegistry()).ProcessOnce(ctx))
	assert.Empty(t, publisher.published())
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_StatsErrorDoesNotBlockPublishing(t *testing.T) {
	repo := memory.NewOutboxRepository()
	transferAssigned(t, repo, "1001", domain.TransferTypePost)
	publisher := &scriptedPublisher{}

	worker := newTestWorker(failingStatsRepo{repo}, publisher, prometheus.NewRegistry())
	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
}

func TestWorker_RunPublishesUntilCancelled(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &scriptedPublisher{}
	worker := newTestWorker(repo, publisher, prometheus.NewRegistry(), WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	transferAssigned(t, repo, "1001", domain.TransferTypePost)
	require.Eventually(t, func() bool { return len(publisher.published()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_RunWithoutPublisherReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(memory.NewOutboxRepository(), nil).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker must return immediately")
	}
}

func TestWorker_RetryBackoff(t *testing.T) {
	worker := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	assert.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))
	assert.Equal(t, time.Duration(1<<63-1), worker.retryBackoff(80))

	assert.Zero(t, NewWorker(nil, nil, WithRetryBaseDelay(0)).retryBackoff(2))
}

func TestLogPublisher_MarksSent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	transferAssigned(t, repo, "1001", domain.TransferTypePost)

	worker := NewWorker(repo, NewLogPublisher(nil), WithMetrics(metrics.NewOutboxMetrics(prometheus.NewRegistry())))
	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
	assert.Empty(t, repo.AllPending())
}
