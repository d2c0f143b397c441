package kafka

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	publishedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.EventType != EventTypeTransferAssigned || envelope.AggregateID != "1001" {
			t.Errorf("unexpected envelope: %+v", envelope)
		}
		if !envelope.PublishedAt.Equal(publishedAt) {
			t.Errorf("unexpected published_at: %v", envelope.PublishedAt)
		}
		var payload domain.TransferAssignedEvent
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return err
		}
		if payload.TransferType != domain.TransferTypePost {
			t.Errorf("unexpected transfer type: %q", payload.TransferType)
		}
		return nil
	})

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer, "")
	publisher.now = func() time.Time { return publishedAt }

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   "1001",
		EventType:     domain.OutboxEventTransferAssigned,
		Payload:       []byte(`{"order_id":"1001","transfer_type":"پست","assigned_at":"2024-03-01T10:00:00Z"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer), TopicOrderEvents)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   "1002",
		EventType:     domain.OutboxEventTransferAssigned,
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

// recordingSyncProducer запоминает отправленные сообщения и передаёт их mock-продюсеру.
type recordingSyncProducer struct {
	*mocks.SyncProducer

	mu   sync.Mutex
	sent []*sarama.ProducerMessage
}

func (p *recordingSyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	return p.SyncProducer.SendMessage(msg)
}

func (p *recordingSyncProducer) messages() []*sarama.ProducerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*sarama.ProducerMessage(nil), p.sent...)
}

func headerValues(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		out[string(header.Key)] = string(header.Value)
	}
	return out
}

func TestDeadLetterPublisher_KeyedByOrderWithHeaders(t *testing.T) {
	t.Parallel()

	failedAt := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		assert.Equal(t, "outbox-7", envelope.ID)
		assert.Equal(t, "1001", envelope.AggregateID)
		assert.Equal(t, EventTypeTransferAssigned, envelope.EventType)
		assert.JSONEq(t, `{"order_id":"1001","transfer_type":"پست"}`, string(envelope.Payload))
		return nil
	})
	recorder := &recordingSyncProducer{SyncProducer: mockProducer}

	publisher := NewDeadLetterPublisher(NewProducerFromSync(recorder), "")
	err := publisher.PublishDeadLetter(domain.DeadLetter{
		Event: domain.OutboxMessage{
			ID:            "outbox-7",
			AggregateType: domain.OutboxAggregateOrder,
			AggregateID:   "1001",
			EventType:     domain.OutboxEventTransferAssigned,
			Payload:       []byte(`{"order_id":"1001","transfer_type":"پست"}`),
		},
		Attempts: 3,
		Reason:   "publish failed after 3 attempts: kafka: client has run out of available brokers",
		FailedAt: failedAt,
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())

	sent := recorder.messages()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, TopicDeadLetterQueue, msg.Topic)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "1001", string(key))

	assert.Equal(t, map[string]string{
		HeaderOriginalTopic: TopicOrderEvents,
		HeaderEventType:     domain.OutboxEventTransferAssigned,
		HeaderRetryCount:    "3",
		HeaderErrorMessage:  "publish failed after 3 attempts: kafka: client has run out of available brokers",
		HeaderFailedAt:      "2024-03-01T10:00:05Z",
	}, headerValues(msg))
	for i := 1; i < len(msg.Headers); i++ {
		assert.Less(t, string(msg.Headers[i-1].Key), string(msg.Headers[i].Key))
	}
}

func TestDeadLetterPublisher_FallsBackToOutboxID(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()
	recorder := &recordingSyncProducer{SyncProducer: mockProducer}

	publisher := NewDeadLetterPublisher(NewProducerFromSync(recorder), "custom.events")
	require.NoError(t, publisher.PublishDeadLetter(domain.DeadLetter{
		Event:    domain.OutboxMessage{ID: "outbox-8", EventType: domain.OutboxEventOrderCreated},
		Attempts: 1,
		Reason:   "boom",
		FailedAt: time.Now(),
	}))
	require.NoError(t, mockProducer.Close())

	sent := recorder.messages()
	require.Len(t, sent, 1)
	key, err := sent[0].Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "outbox-8", string(key))
	assert.Equal(t, "custom.events", headerValues(sent[0])[HeaderOriginalTopic])
}

func TestDeadLetterPublisher_NilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewDeadLetterPublisher(nil, TopicOrderEvents)
	assert.Error(t, publisher.PublishDeadLetter(domain.DeadLetter{Event: domain.OutboxMessage{ID: "outbox-9"}}))
}
