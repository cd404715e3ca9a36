package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds a Memory store when no capacity is given.
const DefaultCapacity = 1000

// Memory is an in-process Store. When full it evicts the least recently used
// entry; expired entries are dropped lazily on Get. Safe for concurrent use.
type Memory[V any] struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	now      func() time.Time
	hits     uint64
	misses   uint64
}

type memoryEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// NewMemory creates a Memory store holding at most capacity entries.
// capacity <= 0 means DefaultCapacity.
func NewMemory[V any](capacity int) *Memory[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory[V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *Memory[V]) WithClock(now func() time.Time) *Memory[V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Get returns the value for key if present and not expired.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.items[key]
	if !ok {
		m.misses++
		return zero, false
	}
	e := el.Value.(*memoryEntry[V])
	if !m.now().Before(e.expiresAt) {
		m.removeElement(el)
		m.misses++
		return zero, false
	}
	m.ll.MoveToFront(el)
	m.hits++
	return e.value, true
}

// Set stores value under key until now+ttl, replacing any previous value.
// A non-positive ttl removes the key.
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		if el, ok := m.items[key]; ok {
			m.removeElement(el)
		}
		return
	}

	expiresAt := m.now().Add(ttl)
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memoryEntry[V])
		e.value = value
		e.expiresAt = expiresAt
		m.ll.MoveToFront(el)
		return
	}

	m.items[key] = m.ll.PushFront(&memoryEntry[V]{key: key, value: value, expiresAt: expiresAt})
	for m.ll.Len() > m.capacity {
		m.removeElement(m.ll.Back())
	}
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// Stats returns hit and miss counts.
func (m *Memory[V]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Hits: m.hits, Misses: m.misses, Size: m.ll.Len()}
}

func (m *Memory[V]) removeElement(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(*memoryEntry[V]).key)
}
