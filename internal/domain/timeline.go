package domain

import "time"

const (
	TimelineOrderCreated       = "OrderCreated"
	TimelineOrderScanned       = "OrderScanned"
	TimelineOrderStatusChanged = "OrderStatusChanged"
	TimelineTransferAssigned   = "TransferAssigned"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
