package querycache

import (
	"context"
	"sync"
	"time"
)

// Fetcher загружает актуальное содержимое коллекции.
type Fetcher[T any] func(ctx context.Context) ([]T, error)

// Collection кэширует результат Fetcher до инвалидации ресурса.
type Collection[T any] struct {
	fetch       Fetcher[T]
	unsubscribe func()

	mu        sync.Mutex
	items     []T
	loaded    bool
	stale     bool
	gen       uint64
	fetchedAt time.Time
	now       func() time.Time
}

// NewCollection создаёт коллекцию и подписывает её на инвалидацию resource.
func NewCollection[T any](registry *Registry, resource string, fetch Fetcher[T]) *Collection[T] {
	c := &Collection[T]{
		fetch: fetch,
		now:   time.Now,
	}
	c.unsubscribe = registry.Subscribe(resource, func(string) { c.markStale() })
	return c
}

// Get возвращает закэшированные данные или перезагружает их, если кэш пуст или устарел.
// Загрузка идёт без блокировки: инвалидация во время загрузки не ждёт её окончания,
// а результат такой загрузки сохраняется, но остаётся устаревшим.
// При ошибке загрузки кэш остаётся устаревшим, ошибка возвращается вызывающему.
func (c *Collection[T]) Get(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	if c.loaded && !c.stale {
		items := c.copyItems()
		c.mu.Unlock()
		return items, nil
	}
	gen := c.gen
	c.mu.Unlock()

	items, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]T, len(items))
	copy(out, items)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen && c.loaded && !c.stale {
		// более свежая загрузка уже сохранена, не затираем её
		return out, nil
	}
	c.items = items
	c.loaded = true
	c.stale = gen != c.gen
	c.fetchedAt = c.now()
	return out, nil
}

// Stale сообщает, требуется ли перезагрузка при следующем Get.
func (c *Collection[T]) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loaded || c.stale
}

// FetchedAt возвращает время последней успешной загрузки.
func (c *Collection[T]) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

// Close отписывает коллекцию от реестра.
func (c *Collection[T]) Close() {
	c.unsubscribe()
}

func (c *Collection[T]) markStale() {
	c.mu.Lock()
	c.stale = true
	c.gen++
	c.mu.Unlock()
}

func (c *Collection[T]) copyItems() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}
