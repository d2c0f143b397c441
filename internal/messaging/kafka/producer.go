package kafka

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "fulfillment"

// Producer представляет Kafka producer для публикации событий
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создает новый Kafka producer
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// идемпотентный producer требует ровно один in-flight запрос
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewProducerFromSync(producer), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}
}

// PublishEvent публикует событие в Kafka
func (p *Producer) PublishEvent(topic string, key string, event any) error {
	return p.PublishWithHeaders(topic, key, event, nil)
}

// PublishWithHeaders публикует событие с дополнительными заголовками.
// Заголовки передаются в порядке возрастания имени.
func (p *Producer) PublishWithHeaders(topic string, key string, event any, headers map[string]string) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(eventData),
		Headers:   recordHeaders(headers),
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]sarama.RecordHeader, 0, len(names))
	for _, name := range names {
		out = append(out, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return out
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// ParseBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
