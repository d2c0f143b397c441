package domain

import "time"

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// DeadLetterPublisher принимает события, которые не удалось опубликовать.
type DeadLetterPublisher interface {
	PublishDeadLetter(letter DeadLetter) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// DeadLetter — событие outbox, исчерпавшее попытки публикации.
type DeadLetter struct {
	Event    OutboxMessage
	Attempts int
	Reason   string
	FailedAt time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

const (
	// Тип агрегата для событий заказа.
	OutboxAggregateOrder = "order"
	// Заказ зарегистрирован на складе.
	OutboxEventOrderCreated = "order.created"
	// Отсканирована единица позиции.
	OutboxEventOrderScanned = "order.scanned"
	// Статус заказа изменён вручную.
	OutboxEventOrderStatusChanged = "order.status_changed"
	// Перевозчик закреплён за заказом.
	OutboxEventTransferAssigned = "transfer.assigned"
)

// OrderChangedEvent — полезная нагрузка событий order.*.
type OrderChangedEvent struct {
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status"`
	SKU        string      `json:"sku,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
