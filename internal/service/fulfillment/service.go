// Package fulfillment реализует складские операции над заказами: регистрацию,
// сканирование позиций, смену статуса и назначение перевозчика.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	scanResultOK         = "ok"
	scanResultNotFound   = "not_found"
	rejectReasonInvalid  = "invalid_type"
	rejectReasonPending  = "not_fulfilled"
	rejectReasonNotFound = "order_not_found"
)

// NewOrder — данные для регистрации заказа.
type NewOrder struct {
	ID    string
	Items []domain.OrderItem
}

// Options задаёт зависимости и параметры сервиса.
type Options struct {
	Outbox  domain.OutboxRepository
	Metrics *metrics.TransferMetrics
	Logger  *log.Entry
	Retry   RetryConfig
	Clock   func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithOutbox включает запись событий в transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = outbox
	}
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.TransferMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithRetry задаёт повтор при конфликте версий.
func WithRetry(cfg RetryConfig) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Service — складской сервис заказов.
type Service struct {
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.TransferMetrics
	logger   *log.Entry
	retry    RetryConfig
	now      func() time.Time
}

// NewService конструирует сервис. timeline может быть nil.
func NewService(repo domain.OrderRepository, timeline domain.TimelineRepository, options ...Option) *Service {
	opts := Options{Retry: DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "fulfillment-service")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewTransferMetrics()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:     repo,
		timeline: timeline,
		outbox:   opts.Outbox,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		retry:    opts.Retry.normalize(),
		now:      opts.Clock,
	}
}

// CreateOrder регистрирует заказ со статусом Pending.
func (s *Service) CreateOrder(_ context.Context, input NewOrder) (domain.Order, error) {
	defer s.observe("create_order", time.Now())

	now := s.now().UTC()
	order := domain.Order{
		ID:        strings.TrimSpace(input.ID),
		Status:    domain.OrderStatusPending,
		Items:     make([]domain.OrderItem, 0, len(input.Items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, item := range input.Items {
		item.SKU = strings.TrimSpace(item.SKU)
		item.Scanned = 0
		item.ScanTimestamp = nil
		order.Items = append(order.Items, item)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := s.repo.Create(order); err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyExists) {
			return domain.Order{}, err
		}
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to create order")
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated()
	s.appendTimeline(order.ID, domain.TimelineOrderCreated, "", now)
	s.enqueue(order.ID, domain.OutboxEventOrderCreated, domain.OrderChangedEvent{
		OrderID:    order.ID,
		Status:     order.Status,
		OccurredAt: now,
	})

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	defer s.observe("get_order", time.Now())

	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return s.loadOrder(orderID, "GetOrder")
}

// ListOrders возвращает все заказы, новые первыми.
func (s *Service) ListOrders(_ context.Context) ([]domain.Order, error) {
	defer s.observe("list_orders", time.Now())

	orders, err := s.repo.List()
	if err != nil {
		s.logger.WithError(err).Error("failed to list orders")
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Scan отмечает сканирование одной единицы SKU и пересчитывает статус заказа.
func (s *Service) Scan(ctx context.Context, orderID, sku string) (domain.Order, error) {
	defer s.observe("scan", time.Now())

	orderID, sku = strings.TrimSpace(orderID), strings.TrimSpace(sku)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if sku == "" {
		return domain.Order{}, domain.ErrItemSKURequired
	}

	var previous domain.OrderStatus
	now := s.now().UTC()
	order, err := s.mutate(ctx, "Scan", orderID, func(order *domain.Order) error {
		previous = order.Status
		return order.Scan(sku, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrItemNotFound) {
			s.metrics.RecordScan(scanResultNotFound)
		}
		return domain.Order{}, err
	}

	s.metrics.RecordScan(scanResultOK)
	s.appendTimeline(order.ID, domain.TimelineOrderScanned, sku, now)
	if order.Status != previous {
		s.appendTimeline(order.ID, domain.TimelineOrderStatusChanged, statusReason(previous, order.Status), now)
	}
	s.enqueue(order.ID, domain.OutboxEventOrderScanned, domain.OrderChangedEvent{
		OrderID:    order.ID,
		Status:     order.Status,
		SKU:        sku,
		OccurredAt: now,
	})

	return order, nil
}

// UpdateStatus выставляет статус заказа без проверки по перечислению.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	defer s.observe("update_status", time.Now())

	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	status = domain.OrderStatus(strings.TrimSpace(string(status)))
	if status == "" {
		return domain.Order{}, domain.ErrStatusRequired
	}

	var previous domain.OrderStatus
	now := s.now().UTC()
	order, err := s.mutate(ctx, "UpdateStatus", orderID, func(order *domain.Order) error {
		previous = order.Status
		order.Status = status
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.appendTimeline(order.ID, domain.TimelineOrderStatusChanged, statusReason(previous, status), now)
	s.enqueue(order.ID, domain.OutboxEventOrderStatusChanged, domain.OrderChangedEvent{
		OrderID:    order.ID,
		Status:     status,
		OccurredAt: now,
	})

	return order, nil
}

// AssignTransfer закрепляет перевозчика за собранным заказом.
// Повторное назначение перезаписывает прежний способ передачи.
func (s *Service) AssignTransfer(ctx context.Context, orderID string, transferType domain.TransferType) (domain.TransferStatus, error) {
	defer s.observe("assign_transfer", time.Now())

	if strings.TrimSpace(orderID) == "" {
		return domain.TransferStatus{}, domain.ErrOrderIDRequired
	}
	if !transferType.Valid() {
		s.metrics.RecordTransferRejected(rejectReasonInvalid)
		return domain.TransferStatus{}, domain.ErrTransferTypeInvalid
	}

	now := s.now().UTC()
	order, err := s.mutate(ctx, "AssignTransfer", orderID, func(order *domain.Order) error {
		return order.AssignTransfer(transferType, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFulfilled):
			s.metrics.RecordTransferRejected(rejectReasonPending)
		case errors.Is(err, domain.ErrOrderNotFound):
			s.metrics.RecordTransferRejected(rejectReasonNotFound)
		}
		return domain.TransferStatus{}, err
	}

	s.metrics.RecordTransferAssigned(string(transferType))
	s.appendTimeline(order.ID, domain.TimelineTransferAssigned, string(transferType), now)
	s.enqueue(order.ID, domain.OutboxEventTransferAssigned, domain.TransferAssignedEvent{
		OrderID:      order.ID,
		TransferType: transferType,
		AssignedAt:   now,
	})

	s.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"transfer_type": string(transferType),
	}).Info("transfer assigned")

	return order.TransferStatus(), nil
}

// GetTransferStatus возвращает запись о передаче заказа.
func (s *Service) GetTransferStatus(_ context.Context, orderID string) (domain.TransferStatus, error) {
	defer s.observe("get_transfer_status", time.Now())

	if strings.TrimSpace(orderID) == "" {
		return domain.TransferStatus{}, domain.ErrOrderIDRequired
	}
	order, err := s.loadOrder(orderID, "GetTransferStatus")
	if err != nil {
		return domain.TransferStatus{}, err
	}
	return order.TransferStatus(), nil
}

// Timeline возвращает историю заказа в хронологическом порядке.
func (s *Service) Timeline(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.ErrOrderIDRequired
	}
	if _, err := s.loadOrder(orderID, "Timeline"); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}

	events, err := s.timeline.List(orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("failed to load timeline")
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

// mutate читает заказ, применяет apply и сохраняет его с проверкой версии.
// При конфликте версий операция повторяется на свежей копии.
func (s *Service) mutate(ctx context.Context, operation, orderID string, apply func(*domain.Order) error) (domain.Order, error) {
	delay := s.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		order, err := s.loadOrder(orderID, operation)
		if err != nil {
			return domain.Order{}, err
		}
		if err := apply(&order); err != nil {
			return domain.Order{}, err
		}

		err = s.repo.Save(order)
		if err == nil {
			order.Version++
			return order, nil
		}
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
		if !domain.IsVersionConflict(err) {
			s.logger.WithError(err).WithFields(log.Fields{
				"operation": operation,
				"order_id":  orderID,
			}).Error("failed to save order")
			return domain.Order{}, fmt.Errorf("save order: %w", err)
		}

		lastErr = err
		if attempt < s.retry.MaxAttempts {
			s.logger.WithFields(log.Fields{
				"operation": operation,
				"order_id":  orderID,
				"attempt":   attempt,
				"delay":     delay,
			}).Warn("order version conflict, retrying")
			if err := sleepContext(ctx, delay); err != nil {
				return domain.Order{}, err
			}
			delay = s.retry.nextDelay(delay)
		}
	}

	return domain.Order{}, lastErr
}

func (s *Service) loadOrder(orderID, operation string) (domain.Order, error) {
	order, err := s.repo.Get(orderID)
	if err == nil {
		return order, nil
	}
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, err
	}

	s.logger.WithError(err).WithFields(log.Fields{
		"operation": operation,
		"order_id":  orderID,
	}).Warn("failed to load order")
	return domain.Order{}, fmt.Errorf("load order: %w", err)
}

func (s *Service) appendTimeline(orderID, eventType, reason string, at time.Time) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: at,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"event_type": eventType,
		}).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

// enqueue кладёт событие в outbox. Ошибка записи не отменяет уже сохранённое изменение.
func (s *Service) enqueue(orderID, eventType string, payload any) {
	if s.outbox == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("event_type", eventType).Error("failed to encode outbox payload")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"event_type": eventType,
		}).Error("failed to enqueue outbox message")
		return
	}
	s.metrics.RecordOutboxEnqueued()
}

func (s *Service) observe(operation string, started time.Time) {
	s.metrics.ObserveOperation(operation, time.Since(started))
}

func statusReason(from, to domain.OrderStatus) string {
	if from == "" {
		return string(to)
	}
	return string(from) + " -> " + string(to)
}
