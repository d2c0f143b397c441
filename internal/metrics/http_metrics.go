package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics считает запросы REST API по маршруту, методу и коду ответа.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPMetrics регистрирует метрики в переданном registerer (nil означает DefaultRegisterer).
func NewHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	return &HTTPMetrics{
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_http_requests_total",
			Help: "Total number of HTTP requests grouped by route, method and status code",
		}, []string{"route", "method", "code"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		}),
	}
}

// Started отмечает начало обработки запроса.
func (m *HTTPMetrics) Started() {
	m.inFlight.Inc()
}

// Finished фиксирует завершённый запрос.
func (m *HTTPMetrics) Finished(route, method string, code int, duration time.Duration) {
	m.inFlight.Dec()
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}
