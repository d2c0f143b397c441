package fulfillment_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc      *fulfillment.Service
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	registry *prometheus.Registry
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	return logger.WithField("component", "test")
}

func newHarness(t *testing.T, repo domain.OrderRepository) *harness {
	t.Helper()
	if repo == nil {
		repo = memory.NewOrderRepository()
	}
	h := &harness{
		repo:     repo,
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
		registry: prometheus.NewRegistry(),
	}
	h.svc = fulfillment.NewService(h.repo, h.timeline,
		fulfillment.WithOutbox(h.outbox),
		fulfillment.WithMetrics(metrics.NewTransferMetricsWithRegisterer(h.registry)),
		fulfillment.WithLogger(loggerForTests()),
		fulfillment.WithClock(func() time.Time { return fixedNow }),
		fulfillment.WithRetry(fulfillment.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}),
	)
	return h
}

func (h *harness) createOrder(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := h.svc.CreateOrder(context.Background(), fulfillment.NewOrder{
		ID: id,
		Items: []domain.OrderItem{
			{SKU: "SKU-1", Title: "Mug", Color: "red", Quantity: 2, Price: 1500},
			{SKU: "SKU-2", Title: "Plate", Color: "white", Quantity: 1, Price: 900},
		},
	})
	require.NoError(t, err)
	return order
}

func (h *harness) fulfill(t *testing.T, id string) {
	t.Helper()
	for _, sku := range []string{"SKU-1", "SKU-1", "SKU-2"} {
		_, err := h.svc.Scan(context.Background(), id, sku)
		require.NoError(t, err)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metricLoop
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCreateOrder(t *testing.T) {
	h := newHarness(t, nil)
	order := h.createOrder(t, " 1001 ")

	assert.Equal(t, "1001", order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, fixedNow, order.CreatedAt)
	require.Len(t, order.Items, 2)

	stored, err := h.repo.Get("1001")
	require.NoError(t, err)
	assert.Equal(t, order.Items, stored.Items)

	assert.Len(t, h.outbox.AllPending(), 1)
	assert.Equal(t, domain.OutboxEventOrderCreated, h.outbox.AllPending()[0].EventType)
	assert.Equal(t, float64(1), counterValue(t, h.registry, "fulfillment_orders_created_total", nil))
}

func TestCreateOrder_Validation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.CreateOrder(context.Background(), fulfillment.NewOrder{ID: "1001"})
	assert.ErrorIs(t, err, domain.ErrItemsRequired)
	assert.True(t, domain.IsValidation(err))

	_, err = h.svc.CreateOrder(context.Background(), fulfillment.NewOrder{
		ID:    "",
		Items: []domain.OrderItem{{SKU: "", Quantity: 0}},
	})
	assert.ErrorIs(t, err, domain.ErrOrderIDRequired)
	assert.ErrorIs(t, err, domain.ErrItemSKURequired)
	assert.ErrorIs(t, err, domain.ErrItemQtyInvalid)

	h.createOrder(t, "1001")
	_, err = h.svc.CreateOrder(context.Background(), fulfillment.NewOrder{
		ID:    "1001",
		Items: []domain.OrderItem{{SKU: "SKU-1", Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyExists)
}

func TestScan_FulfillsOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.createOrder(t, "1001")

	order, err := h.svc.Scan(context.Background(), "1001", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int32(1), order.Items[0].Scanned)
	require.NotNil(t, order.Items[0].ScanTimestamp)
	assert.Equal(t, fixedNow, *order.Items[0].ScanTimestamp)

	h.fulfill(t, "1001")
	stored, err := h.svc.GetOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFulfilled, stored.Status)
	assert.Equal(t, int32(3), stored.Items[0].Scanned, "over-scan is counted")

	events, err := h.svc.Timeline(context.Background(), "1001")
	require.NoError(t, err)
	var statusChanges []string
	for _, event := range events {
		if event.Type == domain.TimelineOrderStatusChanged {
			statusChanges = append(statusChanges, event.Reason)
		}
	}
	assert.Equal(t, []string{"Pending -> Fulfilled"}, statusChanges)
	assert.Equal(t, float64(4), counterValue(t, h.registry, "fulfillment_items_scanned_total", map[string]string{"result": "ok"}))
}

func TestScan_Errors(t *testing.T) {
	h := newHarness(t, nil)
	h.createOrder(t, "1001")

	_, err := h.svc.Scan(context.Background(), "9999", "SKU-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = h.svc.Scan(context.Background(), "1001", "SKU-404")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = h.svc.Scan(context.Background(), "1001", " ")
	assert.ErrorIs(t, err, domain.ErrItemSKURequired)

	assert.Equal(t, float64(2), counterValue(t, h.registry, "fulfillment_items_scanned_total", map[string]string{"result": "not_found"}))
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.createOrder(t, "1001")

	order, err := h.svc.UpdateStatus(context.Background(), "1001", "Shipped")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatus("Shipped"), order.Status)

	_, err = h.svc.UpdateStatus(context.Background(), "1001", "  ")
	assert.ErrorIs(t, err, domain.ErrStatusRequired)

	_, err = h.svc.UpdateStatus(context.Background(), "9999", domain.OrderStatusFulfilled)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestAssignTransfer(t *testing.T) {
	h := newHarness(t, nil)
	h.createOrder(t, "1001")
	h.fulfill(t, "1001")

	status, err := h.svc.AssignTransfer(context.Background(), "1001", domain.TransferTypePost)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStateAssigned, status.State)
	assert.Equal(t, domain.TransferTypePost, status.TransferType)
	require.NotNil(t, status.AssignedAt)
	assert.Equal(t, fixedNow, *status.AssignedAt)

	var assigned []domain.OutboxMessage
	for _, msg := range h.outbox.AllPending() {
		if msg.EventType == domain.OutboxEventTransferAssigned {
			assigned = append(assigned, msg)
		}
	}
	require.Len(t, assigned, 1)
	var payload domain.TransferAssignedEvent
	require.NoError(t, json.Unmarshal(assigned[0].Payload, &payload))
	assert.Equal(t, "1001", payload.OrderID)
	assert.Equal(t, domain.TransferTypePost, payload.TransferType)

	// повторное назначение перезаписывает перевозчика
	status, err = h.svc.AssignTransfer(context.Background(), "1001", domain.TransferTypeMahex)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferTypeMahex, status.TransferType)

	got, err := h.svc.GetTransferStatus(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferTypeMahex, got.TransferType)
	assert.Equal(t, float64(1), counterValue(t, h.registry, "fulfillment_transfers_assigned_total", map[string]string{"transfer_type": "ماهکس"}))
}

func TestAssignTransfer_Rejections(t *testing.T) {
	h := newHarness(t, nil)
	h.createOrder(t, "1001")

	_, err := h.svc.AssignTransfer(context.Background(), "1001", domain.TransferTypePost)
	assert.ErrorIs(t, err, domain.ErrOrderNotFulfilled)

	_, err = h.svc.AssignTransfer(context.Background(), "1001", "Post")
	assert.ErrorIs(t, err, domain.ErrTransferTypeInvalid)

	_, err = h.svc.AssignTransfer(context.Background(), "9999", domain.TransferTypePost)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	status, err := h.svc.GetTransferStatus(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStateUnassigned, status.State)

	for reason, want := range map[string]float64{"not_fulfilled": 1, "invalid_type": 1, "order_not_found": 1} {
		assert.Equal(t, want, counterValue(t, h.registry, "fulfillment_transfers_rejected_total", map[string]string{"reason": reason}), reason)
	}
}

// conflictingRepo возвращает конфликт версий на первых conflicts вызовах Save.
type conflictingRepo struct {
	domain.OrderRepository
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(order domain.Order) error {
	r.mu.Lock()
	r.saves++
	conflict := r.conflicts > 0
	if conflict {
		r.conflicts--
	}
	r.mu.Unlock()
	if conflict {
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

func TestMutate_RetriesVersionConflict(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: memory.NewOrderRepository()}
	h := newHarness(t, repo)
	h.createOrder(t, "1001")

	repo.conflicts = 2
	order, err := h.svc.Scan(context.Background(), "1001", "SKU-2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), order.Items[1].Scanned)
	assert.Equal(t, 3, repo.saves)

	repo.conflicts = 5
	_, err = h.svc.Scan(context.Background(), "1001", "SKU-2")
	assert.ErrorIs(t, err, domain.ErrOrderVersionConflict)
}

func TestTimeline_UnknownOrder(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Timeline(context.Background(), "9999")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	h := newHarness(t, nil)
	h.createOrder(t, "1001")
	h.createOrder(t, "1002")

	orders, err := h.svc.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestOperationDurationObserved(t *testing.T) {
	h := newHarness(t, nil)
	h.createOrder(t, "1001")

	count, err := testutil.GatherAndCount(h.registry, "fulfillment_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
