package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// List возвращает все заказы, упорядоченные по времени создания (новые первыми).
	List() ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}
