package transferform

import "github.com/vladislavdragonenkov/fulfillment/internal/domain"

// Phase — состояние формы передачи заказа.
type Phase string

const (
	// Идентификатор не введён или форма сброшена после отправки.
	PhaseEmpty Phase = "empty"
	// Идёт загрузка заказа.
	PhaseLoading Phase = "loading"
	// Заказ загружен.
	PhaseFound Phase = "found"
	// Сервер ответил, что заказа нет.
	PhaseNotFound Phase = "not_found"
	// Загрузка завершилась другой ошибкой.
	PhaseFailed Phase = "failed"
	// Назначение перевозчика отправлено, ответа ещё нет.
	PhaseSubmitting Phase = "submitting"
)

// View — снимок состояния формы. Изменение снимка не влияет на контроллер.
type View struct {
	OrderID          string
	SelectedTransfer domain.TransferType
	Phase            Phase
	// Order заполнен в фазах Found и Submitting.
	Order *domain.Order
	// Последняя ошибка загрузки или отправки.
	Err error
	// Выполнены все условия для отправки.
	CanSubmit bool
	// Последняя отправка прошла успешно.
	Submitted bool
	// Ответ сервера на последнюю успешную отправку.
	LastTransfer *domain.TransferStatus
}

// Fulfilled сообщает, что загруженный заказ собран.
func (v View) Fulfilled() bool {
	return v.Order != nil && v.Order.CanAssignTransfer()
}

func cloneOrder(order domain.Order) *domain.Order {
	out := order
	if order.Items != nil {
		out.Items = make([]domain.OrderItem, len(order.Items))
		for idx, item := range order.Items {
			if item.ScanTimestamp != nil {
				ts := *item.ScanTimestamp
				item.ScanTimestamp = &ts
			}
			out.Items[idx] = item
		}
	}
	if order.TransferAssignedAt != nil {
		ts := *order.TransferAssignedAt
		out.TransferAssignedAt = &ts
	}
	return &out
}
