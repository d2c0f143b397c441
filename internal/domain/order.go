package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает состояние заказа на складе.
// Перечисление открытое: backend может вернуть значения, которых нет среди констант.
type OrderStatus string

const (
	// Заказ собирается, не все позиции отсканированы.
	OrderStatusPending OrderStatus = "Pending"
	// Все позиции отсканированы, заказ можно передавать перевозчику.
	OrderStatusFulfilled OrderStatus = "Fulfilled"
)

// ScanTimestampLayout — формат отметки времени последнего скана позиции.
const ScanTimestampLayout = "2006/01/02 15:04"

// OrderItem представляет одну позицию (SKU) заказа.
type OrderItem struct {
	SKU      string
	Title    string
	Color    string
	Quantity int32
	// Сколько единиц уже отсканировано оператором.
	Scanned int32
	// Цена за единицу в минимальных денежных единицах.
	Price         int64
	ScanTimestamp *time.Time
}

// Fulfilled сообщает, что позиция собрана полностью.
func (i OrderItem) Fulfilled() bool {
	return i.Scanned >= i.Quantity
}

// Order агрегирует состояние складского заказа.
type Order struct {
	ID                 string
	Status             OrderStatus
	Items              []OrderItem
	TransferType       TransferType
	TransferAssignedAt *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.ID) == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range o.Items {
		if strings.TrimSpace(item.SKU) == "" {
			errs = append(errs, ErrItemSKURequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}

// CanAssignTransfer — единственное правило допуска к передаче перевозчику.
func (o *Order) CanAssignTransfer() bool {
	return o != nil && o.Status == OrderStatusFulfilled
}

// Scan увеличивает счётчик отсканированных единиц SKU и пересчитывает статус.
func (o *Order) Scan(sku string, at time.Time) error {
	for idx := range o.Items {
		if o.Items[idx].SKU != sku {
			continue
		}
		o.Items[idx].Scanned++
		stamp := at
		o.Items[idx].ScanTimestamp = &stamp
		o.RecalculateStatus()
		o.UpdatedAt = at
		return nil
	}
	return ErrItemNotFound
}

// RecalculateStatus выводит статус из прогресса сканирования.
// Статусы, выставленные вручную (не Pending/Fulfilled), не трогаем.
func (o *Order) RecalculateStatus() {
	if o.Status != "" && o.Status != OrderStatusPending && o.Status != OrderStatusFulfilled {
		return
	}
	if len(o.Items) == 0 {
		o.Status = OrderStatusPending
		return
	}
	for _, item := range o.Items {
		if !item.Fulfilled() {
			o.Status = OrderStatusPending
			return
		}
	}
	o.Status = OrderStatusFulfilled
}

// AssignTransfer закрепляет перевозчика за заказом.
func (o *Order) AssignTransfer(transferType TransferType, at time.Time) error {
	if !transferType.Valid() {
		return ErrTransferTypeInvalid
	}
	if !o.CanAssignTransfer() {
		return ErrOrderNotFulfilled
	}
	stamp := at
	o.TransferType = transferType
	o.TransferAssignedAt = &stamp
	o.UpdatedAt = at
	return nil
}

// TransferStatus возвращает запись о состоянии передачи заказа.
func (o *Order) TransferStatus() TransferStatus {
	status := TransferStatus{
		OrderID: o.ID,
		State:   TransferStateUnassigned,
	}
	if o.TransferType != "" {
		status.TransferType = o.TransferType
		status.State = TransferStateAssigned
		status.AssignedAt = o.TransferAssignedAt
	}
	return status
}
