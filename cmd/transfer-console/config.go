package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/client"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/transferform"
)

const (
	envAPIURL        = "FULFILLMENT_API_URL"
	envAPITimeout    = "FULFILLMENT_API_TIMEOUT"
	envLookupTimeout = "FULFILLMENT_LOOKUP_TIMEOUT"
	envKafkaBrokers  = "KAFKA_BROKERS"
	envKafkaTopic    = "FULFILLMENT_KAFKA_TOPIC"
	envKafkaGroup    = "FULFILLMENT_KAFKA_GROUP"
	envLogLevel      = "FULFILLMENT_LOG_LEVEL"
)

type config struct {
	APIURL        string
	APITimeout    time.Duration
	LookupTimeout time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	// KafkaGroup по умолчанию уникален: каждая консоль получает все события.
	KafkaGroup string
	LogLevel   string
}

func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		APIURL:        client.DefaultBaseURL,
		APITimeout:    client.DefaultTimeout,
		LookupTimeout: transferform.DefaultLookupTimeout,
		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaGroup:    "transfer-console-" + uuid.NewString(),
		LogLevel:      "warn",
	}
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if v := get(envAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := get(envAPITimeout); v != "" {
		timeout, err := parseTimeout(v)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envAPITimeout, err)
		}
		cfg.APITimeout = timeout
	}
	if v := get(envLookupTimeout); v != "" {
		timeout, err := parseTimeout(v)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envLookupTimeout, err)
		}
		cfg.LookupTimeout = timeout
	}
	cfg.KafkaBrokers = kafka.ParseBrokers(get(envKafkaBrokers))
	if v := get(envKafkaTopic); v != "" {
		cfg.KafkaTopic = v
	}
	if v := get(envKafkaGroup); v != "" {
		cfg.KafkaGroup = v
	}
	if v := get(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	timeout, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("must be > 0, got %s", timeout)
	}
	return timeout, nil
}
