package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/app"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}
	setupLogger(os.Getenv("FULFILLMENT_LOG_LEVEL"))

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  len(cfg.KafkaBrokers) > 0,
		"version":        version.String(),
	}).Info("запускаем fulfillment-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("fulfillment-service остановлен")
}
