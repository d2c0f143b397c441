// Package restsvc — HTTP API сервиса fulfillment поверх chi.
package restsvc

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// OrderService — операции сервиса, нужные HTTP-обработчикам.
// Реализуется *fulfillment.Service.
type OrderService interface {
	CreateOrder(ctx context.Context, input fulfillment.NewOrder) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	Scan(ctx context.Context, orderID, sku string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	AssignTransfer(ctx context.Context, orderID string, transferType domain.TransferType) (domain.TransferStatus, error)
	GetTransferStatus(ctx context.Context, orderID string) (domain.TransferStatus, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// Options задаёт параметры HTTP-слоя.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.HTTPMetrics
	Version string
	Clock   func() time.Time
}

// Option настраивает Handler.
type Option func(*Options)

// WithLogger задаёт logger HTTP-слоя.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики HTTP-запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithVersion задаёт версию, которую отдаёт /system/status.
func WithVersion(v string) Option {
	return func(opts *Options) {
		opts.Version = v
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Handler обслуживает REST API.
type Handler struct {
	svc     OrderService
	logger  *log.Entry
	metrics *metrics.HTTPMetrics
	version string
	now     func() time.Time
}

// NewHandler создаёт обработчики API.
func NewHandler(svc OrderService, options ...Option) *Handler {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "rest")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewHTTPMetrics(nil)
	}
	if opts.Version == "" {
		opts.Version = version.GetVersion()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Handler{
		svc:     svc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		version: opts.Version,
		now:     opts.Clock,
	}
}

// Router возвращает http.Handler со всеми маршрутами под /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(h.instrument)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/system/status", h.systemStatus)
		r.Get("/system/ping", h.ping)
		r.Post("/scan", h.scan)
		r.Route("/orders", h.RegisterOrderRoutes)
	})

	return r
}

// RegisterOrderRoutes регистрирует маршруты заказов на переданном роутере.
func (h *Handler) RegisterOrderRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Get("/{orderId}", h.getOrder)
	r.Put("/{orderId}/status", h.updateStatus)
	r.Put("/{orderId}/transfer", h.assignTransfer)
	r.Get("/{orderId}/transfer", h.transferStatus)
	r.Get("/{orderId}/timeline", h.timeline)
}
