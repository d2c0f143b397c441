package outbox

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// LogPublisher пишет события в лог вместо брокера. Используется, когда Kafka не настроена.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт publisher, который только логирует события.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish логирует событие и всегда завершается успешно.
func (p *LogPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"payload_size": len(event.Payload),
	}).Info("outbox event published to log")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
