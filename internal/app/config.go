package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Переменные окружения сервиса.
const (
	EnvHTTPAddr            = "FULFILLMENT_HTTP_ADDR"
	EnvMetricsAddr         = "FULFILLMENT_METRICS_ADDR"
	EnvStorageDriver       = "FULFILLMENT_STORAGE_DRIVER"
	EnvPostgresDSN         = "FULFILLMENT_POSTGRES_DSN"
	EnvPostgresAutoMigrate = "FULFILLMENT_POSTGRES_AUTO_MIGRATE"
	EnvOutboxPollInterval  = "FULFILLMENT_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize     = "FULFILLMENT_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts   = "FULFILLMENT_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay    = "FULFILLMENT_OUTBOX_RETRY_DELAY"
	EnvKafkaBrokers        = "KAFKA_BROKERS"
	EnvKafkaTopic          = "FULFILLMENT_KAFKA_TOPIC"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr            string
	MetricsAddr         string
	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxRetryDelay    time.Duration
	KafkaBrokers        []string
	KafkaTopic          string
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":5000",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    200 * time.Millisecond,
		KafkaTopic:          kafka.TopicOrderEvents,
	}
}

// LoadConfigFromEnv накладывает переменные окружения на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	if v, ok := get(EnvHTTPAddr); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := get(EnvMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := get(EnvStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(v)
	}
	if v, ok := get(EnvPostgresDSN); ok {
		cfg.PostgresDSN = v
	}
	if v, ok := get(EnvPostgresAutoMigrate); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvPostgresAutoMigrate, err)
		}
		cfg.PostgresAutoMigrate = parsed
	}
	if v, ok := get(EnvOutboxPollInterval); ok {
		parsed, err := parsePositiveDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvOutboxPollInterval, err)
		}
		cfg.OutboxPollInterval = parsed
	}
	if v, ok := get(EnvOutboxBatchSize); ok {
		parsed, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvOutboxBatchSize, err)
		}
		cfg.OutboxBatchSize = parsed
	}
	if v, ok := get(EnvOutboxMaxAttempts); ok {
		parsed, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvOutboxMaxAttempts, err)
		}
		cfg.OutboxMaxAttempts = parsed
	}
	if v, ok := get(EnvOutboxRetryDelay); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 {
			return Config{}, fmt.Errorf("%s: invalid duration %q", EnvOutboxRetryDelay, v)
		}
		cfg.OutboxRetryDelay = parsed
	}
	if v, ok := get(EnvKafkaBrokers); ok {
		cfg.KafkaBrokers = kafka.ParseBrokers(v)
	}
	if v, ok := get(EnvKafkaTopic); ok {
		cfg.KafkaTopic = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%s is required for postgres storage", EnvPostgresDSN)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	return nil
}

func parsePositiveInt(raw string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("must be > 0, got %d", value)
	}
	return value, nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("must be > 0, got %s", value)
	}
	return value, nil
}
