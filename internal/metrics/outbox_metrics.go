package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics описывает публикацию событий из transactional outbox.
type OutboxMetrics struct {
	attempts      *prometheus.CounterVec
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox в переданном registerer (nil означает DefaultRegisterer).
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		oldestPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
	}
}

// RecordAttempt увеличивает счётчик попыток публикации с указанным результатом.
func (m *OutboxMetrics) RecordAttempt(result string) {
	m.attempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	m.pending.Set(float64(pending))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestPending.Set(oldestAge.Seconds())
}
