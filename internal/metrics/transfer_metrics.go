package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransferMetrics содержит метрики складских операций: сканирование и передача перевозчику.
type TransferMetrics struct {
	ordersCreated     prometheus.Counter
	itemsScanned      *prometheus.CounterVec
	transfersAssigned *prometheus.CounterVec
	transfersRejected *prometheus.CounterVec
	timelineEvents    prometheus.Counter
	outboxEnqueued    prometheus.Counter
	operationDuration *prometheus.HistogramVec
}

// NewTransferMetrics регистрирует метрики в DefaultRegisterer.
func NewTransferMetrics() *TransferMetrics {
	return NewTransferMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewTransferMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewTransferMetricsWithRegisterer(registerer prometheus.Registerer) *TransferMetrics {
	return &TransferMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Total number of orders registered in the warehouse",
		}),
		itemsScanned: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_items_scanned_total",
			Help: "Total number of item scans grouped by result",
		}, []string{"result"}),
		transfersAssigned: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_transfers_assigned_total",
			Help: "Total number of carrier assignments grouped by transfer type",
		}, []string{"transfer_type"}),
		transfersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_transfers_rejected_total",
			Help: "Total number of rejected carrier assignments grouped by reason",
		}, []string{"reason"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_enqueued_total",
			Help: "Total number of events written to the transactional outbox",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_operation_duration_seconds",
			Help:    "Duration of fulfillment service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *TransferMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordScan фиксирует результат сканирования: "ok", "unknown_sku" или "error".
func (m *TransferMetrics) RecordScan(result string) {
	m.itemsScanned.WithLabelValues(result).Inc()
}

// RecordTransferAssigned увеличивает счётчик назначений перевозчика.
func (m *TransferMetrics) RecordTransferAssigned(transferType string) {
	m.transfersAssigned.WithLabelValues(transferType).Inc()
}

// RecordTransferRejected фиксирует отказ в назначении перевозчика.
func (m *TransferMetrics) RecordTransferRejected(reason string) {
	m.transfersRejected.WithLabelValues(reason).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *TransferMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEnqueued увеличивает счётчик событий outbox.
func (m *TransferMetrics) RecordOutboxEnqueued() {
	m.outboxEnqueued.Inc()
}

// ObserveOperation записывает длительность операции сервиса.
func (m *TransferMetrics) ObserveOperation(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
