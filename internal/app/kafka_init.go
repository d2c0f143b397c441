package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

// initKafkaProducer создаёт Kafka producer, если брокеры заданы.
// Для пустого списка возвращает nil, nil: сервис работает без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
