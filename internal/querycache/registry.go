// Package querycache связывает мутации с кэшированными коллекциями:
// после успешного изменения публикуется инвалидация ресурса, подписчики
// помечают свои данные устаревшими.
package querycache

import (
	"sort"
	"sync"
)

// ResourceOrders — ресурс «список заказов».
const ResourceOrders = "orders"

// Listener получает имя инвалидированного ресурса.
type Listener func(resource string)

// Registry — реестр подписок на инвалидацию по имени ресурса.
type Registry struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string]map[uint64]Listener
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string]map[uint64]Listener)}
}

// Subscribe регистрирует listener для ресурса и возвращает функцию отписки.
// Повторный вызов функции отписки ничего не делает.
func (r *Registry) Subscribe(resource string, listener Listener) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	if r.listeners[resource] == nil {
		r.listeners[resource] = make(map[uint64]Listener)
	}
	r.listeners[resource][id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.listeners[resource], id)
			if len(r.listeners[resource]) == 0 {
				delete(r.listeners, resource)
			}
		})
	}
}

// Invalidate синхронно уведомляет всех текущих подписчиков ресурса
// в порядке подписки. Listener может вызывать Subscribe и Invalidate.
func (r *Registry) Invalidate(resource string) {
	for _, listener := range r.snapshot(resource) {
		listener(resource)
	}
}

// Subscribers возвращает число подписчиков ресурса.
func (r *Registry) Subscribers(resource string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[resource])
}

func (r *Registry) snapshot(resource string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.listeners[resource]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, subs[id])
	}
	return out
}
