package cache

import (
	"container/list"
)

// LRU is a capacity-bounded least-recently-used map. It is not safe for
// concurrent use; the owner synchronizes. OnEvict runs for every entry
// dropped to make room, not for explicit removals.
type LRU[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List // front = most-recently used
	OnEvict  func(key K, value V)
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates a cache holding at most capacity entries. Values <= 0 are
// normalised to 1.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the value for key and marks it most-recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).value, true
}

// Peek returns the value for key without touching recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*lruEntry[K, V]).value, true
}

// Put inserts or replaces key, evicting the least-recently-used entry
// when full. It returns the number of entries evicted.
func (c *LRU[K, V]) Put(key K, value V) int {
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*lruEntry[K, V]).value = value
		return 0
	}
	evicted := 0
	for c.order.Len() >= c.capacity {
		back := c.order.Back()
		entry := back.Value.(*lruEntry[K, V])
		c.order.Remove(back)
		delete(c.items, entry.key)
		evicted++
		if c.OnEvict != nil {
			c.OnEvict(entry.key, entry.value)
		}
	}
	c.items[key] = c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
	return evicted
}

// Remove drops key. It is a no-op for absent keys.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return el.Value.(*lruEntry[K, V]).value, true
}

func (c *LRU[K, V]) Len() int {
	return c.order.Len()
}

func (c *LRU[K, V]) Cap() int {
	return c.capacity
}
