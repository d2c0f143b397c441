package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish оборачивает сообщение в Envelope и публикует его в topic.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	return p.producer.PublishEvent(p.topic, messageKey(event), newEnvelope(event, p.now()))
}

// DeadLetterPublisher отправляет в DLQ-топик события, исчерпавшие попытки публикации.
// Тело сообщения — тот же Envelope, что ушёл бы в основной топик; причина отказа лежит в заголовках.
type DeadLetterPublisher struct {
	producer      *Producer
	topic         string
	originalTopic string
}

// NewDeadLetterPublisher создаёт паблишер DLQ для событий топика originalTopic.
func NewDeadLetterPublisher(producer *Producer, originalTopic string) *DeadLetterPublisher {
	if originalTopic == "" {
		originalTopic = TopicOrderEvents
	}
	return &DeadLetterPublisher{
		producer:      producer,
		topic:         TopicDeadLetterQueue,
		originalTopic: originalTopic,
	}
}

// PublishDeadLetter публикует событие в DLQ с ключом по id заказа.
func (p *DeadLetterPublisher) PublishDeadLetter(letter domain.DeadLetter) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dead letter publisher is not initialized")
	}

	event := letter.Event
	headers := map[string]string{
		HeaderOriginalTopic: p.originalTopic,
		HeaderEventType:     event.EventType,
		HeaderRetryCount:    strconv.Itoa(letter.Attempts),
		HeaderErrorMessage:  letter.Reason,
		HeaderFailedAt:      letter.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	return p.producer.PublishWithHeaders(p.topic, messageKey(event), newEnvelope(event, letter.FailedAt), headers)
}

// messageKey — ключ партиционирования: id заказа, для событий без агрегата id сообщения.
func messageKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

func newEnvelope(event domain.OutboxMessage, at time.Time) Envelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     EventType(event.EventType),
		Payload:       payload,
		PublishedAt:   at,
	}
}

var (
	_ domain.OutboxPublisher     = (*OutboxTopicPublisher)(nil)
	_ domain.DeadLetterPublisher = (*DeadLetterPublisher)(nil)
)
