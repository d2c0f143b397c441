package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/client"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/querycache"
	"github.com/vladislavdragonenkov/fulfillment/internal/transferform"
)

const startupPingTimeout = 3 * time.Second

func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.WarnLevel
	}
	log.SetLevel(parsed)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	setupLogger(cfg.LogLevel)
	logger := log.WithField("component", "transfer-console")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiClient, err := client.New(cfg.APIURL,
		client.WithTimeout(cfg.APITimeout),
		client.WithLogger(log.WithField("component", "api-client")),
	)
	if err != nil {
		logger.WithError(err).Fatal("invalid API address")
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, startupPingTimeout)
	if err := apiClient.Ping(pingCtx); err != nil {
		logger.WithError(err).WithField("api_url", apiClient.BaseURL()).Warn("fulfillment API is not reachable yet")
	}
	cancelPing()

	registry := querycache.NewRegistry()
	orders := querycache.NewCollection(registry, querycache.ResourceOrders, apiClient.ListOrders)
	defer orders.Close()

	consumer := startInvalidationConsumer(ctx, cfg, registry, logger)
	if consumer != nil {
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop kafka consumer")
			}
		}()
	}

	form := transferform.New(apiClient, registry,
		transferform.WithLookupTimeout(cfg.LookupTimeout),
		transferform.WithLogger(log.WithField("component", "transfer-form")),
	)

	err = newConsole(form, apiClient, orders, os.Stdout, logger).Run(ctx, os.Stdin)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("console stopped with error")
	}
}

// startInvalidationConsumer подписывает консоль на события заказов,
// чтобы список заказов обновлялся после передач с других рабочих мест.
func startInvalidationConsumer(ctx context.Context, cfg config, registry *querycache.Registry, logger *log.Entry) *kafka.Consumer {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}

	consumerLogger := log.WithField("component", "kafka-consumer")
	handler := kafka.NewInvalidationHandler(registry, querycache.ResourceOrders, consumerLogger)
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, []string{cfg.KafkaTopic}, handler,
		kafka.WithConsumerLogger(consumerLogger),
	)
	if err != nil {
		logger.WithError(err).Warn("kafka is not available, order list refreshes only after local transfers")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		_ = consumer.Stop()
		return nil
	}
	return consumer
}
