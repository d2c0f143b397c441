package domain

import "time"

// TransferType — способ передачи заказа перевозчику.
// Значения — литеральные токены, которые без изменений уходят в wire-формат.
type TransferType string

const (
	TransferTypePost     TransferType = "پست"
	TransferTypeSnappBox TransferType = "اسنپ باکس"
	TransferTypeMahex    TransferType = "ماهکس"
)

var transferTypes = []TransferType{
	TransferTypePost,
	TransferTypeSnappBox,
	TransferTypeMahex,
}

// TransferTypes возвращает закрытый набор способов передачи в порядке отображения.
func TransferTypes() []TransferType {
	out := make([]TransferType, len(transferTypes))
	copy(out, transferTypes)
	return out
}

// Valid проверяет принадлежность значения закрытому набору.
func (t TransferType) Valid() bool {
	for _, known := range transferTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTransferType принимает только точные токены, без нормализации.
func ParseTransferType(raw string) (TransferType, error) {
	t := TransferType(raw)
	if !t.Valid() {
		return "", ErrTransferTypeInvalid
	}
	return t, nil
}

// TransferState описывает, закреплён ли перевозчик за заказом.
type TransferState string

const (
	TransferStateUnassigned TransferState = "unassigned"
	TransferStateAssigned   TransferState = "assigned"
)

// TransferStatus — запись о передаче заказа.
type TransferStatus struct {
	OrderID      string
	TransferType TransferType
	State        TransferState
	AssignedAt   *time.Time
}

// TransferAssignedEvent — полезная нагрузка outbox-события transfer.assigned.
type TransferAssignedEvent struct {
	OrderID      string       `json:"order_id"`
	TransferType TransferType `json:"transfer_type"`
	AssignedAt   time.Time    `json:"assigned_at"`
}
