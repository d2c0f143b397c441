package fulfillment

import (
	"context"
	"time"
)

// RetryConfig — параметры повтора при конфликте версий заказа.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalize() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// nextDelay — экспоненциальная задержка с ограничением сверху.
func (c RetryConfig) nextDelay(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * c.BackoffFactor)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
