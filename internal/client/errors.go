package client

import (
	"errors"
	"fmt"
)

// Виды ошибок клиента. Проверяются через errors.Is на любой ошибке клиента.
var (
	// Для идентификатора нет заказа (HTTP 404).
	ErrNotFound = errors.New("not found")
	// Некорректный идентификатор или способ передачи:
	// отклонено клиентом до запроса или сервером (400, 409, 422).
	ErrValidation = errors.New("validation failed")
	// Прочие ответы вне 2xx и неразборчивое тело успешного ответа.
	ErrServer = errors.New("server error")
	// Запрос не удалось выполнить: соединение, таймаут, отмена контекста.
	ErrNetwork = errors.New("network error")
)

// APIError описывает неудачный вызов API.
type APIError struct {
	// Имя операции клиента, например "get order".
	Op string
	// HTTP-код ответа; 0, если ответа не было.
	StatusCode int
	// Текст ошибки из тела ответа или описание причины.
	Message string
	// Один из ErrNotFound, ErrValidation, ErrServer, ErrNetwork.
	Kind error
	// Исходная ошибка (транспорт, декодирование), если есть.
	Err error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap отдаёт вид ошибки и исходную причину.
func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kindForStatus классифицирует HTTP-код ответа вне диапазона 2xx.
func kindForStatus(code int) error {
	switch code {
	case 404:
		return ErrNotFound
	case 400, 409, 422:
		return ErrValidation
	default:
		return ErrServer
	}
}

// IsNotFound сообщает, что ошибка означает отсутствие заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
