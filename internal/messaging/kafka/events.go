package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderScanned       EventType = "order.scanned"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeTransferAssigned   EventType = "transfer.assigned"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "fulfillment.order.events"
	TopicDeadLetterQueue = "fulfillment.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope — формат сообщения, которое outbox publisher кладёт в топик.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// AffectsOrderList сообщает, меняет ли событие содержимое списка заказов.
func (e Envelope) AffectsOrderList() bool {
	switch e.EventType {
	case EventTypeOrderCreated, EventTypeOrderScanned, EventTypeOrderStatusChanged, EventTypeTransferAssigned:
		return true
	default:
		return false
	}
}

// ParseEnvelope парсит Envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if envelope.EventType == "" {
		return nil, fmt.Errorf("envelope without event_type at offset %d", message.Offset)
	}
	return &envelope, nil
}
