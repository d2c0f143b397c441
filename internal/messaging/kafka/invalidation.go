package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Invalidator помечает ресурс кэша устаревшим.
type Invalidator interface {
	Invalidate(resource string)
}

// NewInvalidationHandler возвращает обработчик, который по событиям заказов
// инвалидирует resource. Нераспознанные сообщения пропускаются без ошибки,
// чтобы не отправлять их в DLQ.
func NewInvalidationHandler(invalidator Invalidator, resource string, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := ParseEnvelope(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skip malformed event")
			return nil
		}
		if !envelope.AffectsOrderList() {
			return nil
		}

		logger.WithFields(log.Fields{
			"event_type": envelope.EventType,
			"order_id":   envelope.AggregateID,
			"resource":   resource,
		}).Debug("invalidate cached resource")
		invalidator.Invalidate(resource)
		return nil
	}
}
