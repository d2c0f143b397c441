package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOptions задаёт параметры consumer group.
type ConsumerOptions struct {
	Logger      *log.Entry
	DLQProducer *Producer
	MaxRetries  int
	RetryDelay  time.Duration
	// FromOldest читает топик с начала для новой группы; по умолчанию только новые события.
	FromOldest bool
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger consumer.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Logger = logger
	}
}

// WithDeadLetterQueue включает отправку необработанных сообщений в TopicDeadLetterQueue.
func WithDeadLetterQueue(producer *Producer) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.DLQProducer = producer
	}
}

// WithRetries задаёт число попыток обработки и базовую задержку между ними.
func WithRetries(maxRetries int, delay time.Duration) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.MaxRetries = maxRetries
		opts.RetryDelay = delay
	}
}

// WithFromOldest читает топик с самого раннего доступного offset.
func WithFromOldest() ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.FromOldest = true
	}
}

// Consumer представляет Kafka consumer с поддержкой DLQ
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer создаёт consumer group, которая передаёт сообщения topics в handler.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	opts := ConsumerOptions{MaxRetries: defaultMaxRetries, RetryDelay: defaultRetryDelay}
	for _, option := range options {
		option(&opts)
	}

	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if opts.FromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumerFromGroup(group, topics, handler, opts), nil
}

func newConsumerFromGroup(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ConsumerOptions) *Consumer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}

	return &Consumer{
		consumer:    group,
		topics:      topics,
		handler:     handler,
		logger:      logger,
		dlqProducer: opts.DLQProducer,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
	}
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// при rebalance Consume завершается, поэтому вызывается в цикле
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				// не маркируем: сообщение будет перечитано после rebalance
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry повторяет обработку в процессе, пока суммарное число попыток
// (с учётом x-retry-count) не достигнет maxRetries, затем отправляет сообщение в DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)
	attempts := c.maxRetries - retryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount + attempt,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount + attempts,
	}).Info("message sent to DLQ after max retries")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	return c.dlqProducer.PublishEvent(TopicDeadLetterQueue, string(message.Key), map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        c.getRetryCount(message),
	})
}
