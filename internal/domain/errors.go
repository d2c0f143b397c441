package domain

import "errors"

var (
	// Не передан идентификатор заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// В заказе нет ни одной позиции.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// У позиции пустой SKU.
	ErrItemSKURequired = errors.New("item sku is required")
	// Количество позиции <= 0.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Отрицательная цена позиции.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// В заказе нет позиции с таким SKU.
	ErrItemNotFound = errors.New("order item not found")
	// При обновлении не передан статус.
	ErrStatusRequired = errors.New("status is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// Заказ с таким ID уже создан.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// Способ передачи вне закрытого набора.
	ErrTransferTypeInvalid = errors.New("transfer type is invalid")
	// Перевозчика можно назначить только собранному заказу.
	ErrOrderNotFulfilled = errors.New("order is not fulfilled")
	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsValidation сообщает, что ошибка вызвана некорректными входными данными.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrOrderIDRequired),
		errors.Is(err, ErrItemsRequired),
		errors.Is(err, ErrItemSKURequired),
		errors.Is(err, ErrItemQtyInvalid),
		errors.Is(err, ErrItemPriceInvalid),
		errors.Is(err, ErrStatusRequired),
		errors.Is(err, ErrTransferTypeInvalid):
		return true
	default:
		return false
	}
}
