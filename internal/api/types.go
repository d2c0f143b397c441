// Package api описывает JSON-контракт REST API сервиса: его используют
// HTTP-обработчики сервиса и клиент операторской консоли.
package api

import (
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Сообщения об ошибках, которые сервис кладёт в поле error.
const (
	MessageOrderNotFound    = "Order not found"
	MessageOrderOrSKUAbsent = "Order or SKU not found"
	MessageMissingFields    = "Missing required fields"
	MessageMissingStatus    = "Missing status"
)

// ErrorResponse описывает тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse описывает тело успешного ответа без данных.
type MessageResponse struct {
	Message string `json:"message"`
}

// OrderItem описывает позиция заказа в представлении API.
type OrderItem struct {
	SKU           string `json:"sku"`
	Title         string `json:"title"`
	Color         string `json:"color"`
	Quantity      int32  `json:"quantity"`
	Scanned       int32  `json:"scanned"`
	Price         int64  `json:"price"`
	ScanTimestamp string `json:"scanTimestamp,omitempty"`
}

// Order описывает представление заказа. Клиенту достаточно id и status,
// остальные поля необязательны.
type Order struct {
	ID                 string      `json:"id"`
	Status             string      `json:"status"`
	Items              []OrderItem `json:"items,omitempty"`
	TransferType       string      `json:"transferType,omitempty"`
	TransferAssignedAt *time.Time  `json:"transferAssignedAt,omitempty"`
	Version            int64       `json:"version"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// OrderLine описывает строка плоского списка заказов: одна на SKU.
type OrderLine struct {
	ID            string  `json:"id"`
	SKU           string  `json:"sku"`
	Title         string  `json:"title"`
	Color         string  `json:"color"`
	Quantity      int32   `json:"quantity"`
	Scanned       int32   `json:"scanned"`
	Status        string  `json:"status"`
	Price         int64   `json:"price"`
	ScanTimestamp *string `json:"scanTimestamp"`
	TransferType  string  `json:"transferType,omitempty"`
}

// CreateOrderItem описывает позиция в запросе на создание заказа.
type CreateOrderItem struct {
	SKU      string `json:"sku"`
	Title    string `json:"title"`
	Color    string `json:"color"`
	Quantity int32  `json:"quantity"`
	Price    int64  `json:"price"`
}

// CreateOrderRequest описывает тело POST /orders.
type CreateOrderRequest struct {
	ID    string            `json:"id"`
	Items []CreateOrderItem `json:"items"`
}

// ScanRequest описывает тело POST /scan.
type ScanRequest struct {
	OrderID string `json:"orderId"`
	SKU     string `json:"sku"`
}

// StatusUpdateRequest описывает тело PUT /orders/{id}/status.
type StatusUpdateRequest struct {
	Status string `json:"status"`
}

// TransferRequest описывает тело PUT /orders/{id}/transfer.
type TransferRequest struct {
	TransferType string `json:"transferType"`
}

// TransferStatus описывает запись о передаче заказа перевозчику.
type TransferStatus struct {
	OrderID      string     `json:"orderId"`
	TransferType string     `json:"transferType,omitempty"`
	State        string     `json:"state"`
	AssignedAt   *time.Time `json:"assignedAt,omitempty"`
}

// TimelineEvent описывает событие истории заказа.
type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// SystemStatus описывает ответ GET /system/status.
type SystemStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// Ping описывает ответ GET /system/ping; Timestamp в миллисекундах unix.
type Ping struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// SystemTimestampLayout описывает формат timestamp в SystemStatus.
const SystemTimestampLayout = "2006/01/02 15:04:05"

// FromOrder строит представление заказа.
func FromOrder(order domain.Order) Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			SKU:           item.SKU,
			Title:         item.Title,
			Color:         item.Color,
			Quantity:      item.Quantity,
			Scanned:       item.Scanned,
			Price:         item.Price,
			ScanTimestamp: formatScanTimestamp(item.ScanTimestamp),
		})
	}
	return Order{
		ID:                 order.ID,
		Status:             string(order.Status),
		Items:              items,
		TransferType:       string(order.TransferType),
		TransferAssignedAt: order.TransferAssignedAt,
		Version:            order.Version,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
	}
}

// ToDomain восстанавливает заказ из представления API.
// Неразборчивый scanTimestamp отбрасывается: поле информационное.
func (o Order) ToDomain() domain.Order {
	var items []domain.OrderItem
	for _, item := range o.Items {
		items = append(items, domain.OrderItem{
			SKU:           item.SKU,
			Title:         item.Title,
			Color:         item.Color,
			Quantity:      item.Quantity,
			Scanned:       item.Scanned,
			Price:         item.Price,
			ScanTimestamp: parseScanTimestamp(item.ScanTimestamp),
		})
	}
	return domain.Order{
		ID:                 o.ID,
		Status:             domain.OrderStatus(o.Status),
		Items:              items,
		TransferType:       domain.TransferType(o.TransferType),
		TransferAssignedAt: o.TransferAssignedAt,
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

// OrderLines разворачивает заказы в плоский список: одна строка на SKU.
// Статус строки выводится из прогресса сканирования позиции.
func OrderLines(orders []domain.Order) []OrderLine {
	lines := make([]OrderLine, 0, len(orders))
	for _, order := range orders {
		for _, item := range order.Items {
			status := domain.OrderStatusPending
			if item.Fulfilled() {
				status = domain.OrderStatusFulfilled
			}
			var stamp *string
			if formatted := formatScanTimestamp(item.ScanTimestamp); formatted != "" {
				stamp = &formatted
			}
			lines = append(lines, OrderLine{
				ID:            order.ID,
				SKU:           item.SKU,
				Title:         item.Title,
				Color:         item.Color,
				Quantity:      item.Quantity,
				Scanned:       item.Scanned,
				Status:        string(status),
				Price:         item.Price,
				ScanTimestamp: stamp,
				TransferType:  string(order.TransferType),
			})
		}
	}
	return lines
}

// FromTransferStatus строит запись о передаче.
func FromTransferStatus(status domain.TransferStatus) TransferStatus {
	return TransferStatus{
		OrderID:      status.OrderID,
		TransferType: string(status.TransferType),
		State:        string(status.State),
		AssignedAt:   status.AssignedAt,
	}
}

// ToDomain восстанавливает запись о передаче.
func (s TransferStatus) ToDomain() domain.TransferStatus {
	return domain.TransferStatus{
		OrderID:      s.OrderID,
		TransferType: domain.TransferType(s.TransferType),
		State:        domain.TransferState(s.State),
		AssignedAt:   s.AssignedAt,
	}
}

// FromTimeline строит список событий истории.
func FromTimeline(events []domain.TimelineEvent) []TimelineEvent {
	out := make([]TimelineEvent, 0, len(events))
	for _, event := range events {
		out = append(out, TimelineEvent{Type: event.Type, Reason: event.Reason, Occurred: event.Occurred})
	}
	return out
}

func formatScanTimestamp(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.In(time.Local).Format(domain.ScanTimestampLayout)
}

func parseScanTimestamp(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := time.ParseInLocation(domain.ScanTimestampLayout, raw, time.Local)
	if err != nil {
		return nil
	}
	return &ts
}
