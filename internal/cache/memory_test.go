package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(capacity int) (*Memory[string], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemory[string](capacity).WithClock(clock.Now), clock
}

func TestMemory_SetThenGet(t *testing.T) {
	m, _ := newTestMemory(10)
	ctx := context.Background()

	m.Set(ctx, "k", "v", 5*time.Second)
	got, ok := m.Get(ctx, "k")
	if !ok || got != "v" {
		t.Errorf("Get = (%q, %v), want (v, true)", got, ok)
	}
}

func TestMemory_ExpiresAfterTTL(t *testing.T) {
	m, clock := newTestMemory(10)
	ctx := context.Background()

	m.Set(ctx, "k", "v", 5*time.Second)
	clock.Advance(6 * time.Second)

	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("expected miss after TTL elapsed")
	}
	if m.Len() != 0 {
		t.Errorf("expired entry not evicted, Len = %d", m.Len())
	}
}

func TestMemory_ExpiresExactlyAtDeadline(t *testing.T) {
	m, clock := newTestMemory(10)
	ctx := context.Background()

	m.Set(ctx, "k", "v", 5*time.Second)
	clock.Advance(5 * time.Second)

	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("entry should be expired when now == expiresAt")
	}
}

func TestMemory_EvictsLeastRecentlyUsed(t *testing.T) {
	m, _ := newTestMemory(2)
	ctx := context.Background()

	m.Set(ctx, "a", "1", time.Minute)
	m.Set(ctx, "b", "2", time.Minute)
	// Touch a so b becomes the least recently used.
	if _, ok := m.Get(ctx, "a"); !ok {
		t.Fatal("a should be present")
	}
	m.Set(ctx, "c", "3", time.Minute)

	if _, ok := m.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := m.Get(ctx, k); !ok {
			t.Errorf("%s should still be present", k)
		}
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestMemory_OverwriteRefreshesTTL(t *testing.T) {
	m, clock := newTestMemory(10)
	ctx := context.Background()

	m.Set(ctx, "k", "old", 5*time.Second)
	clock.Advance(4 * time.Second)
	m.Set(ctx, "k", "new", 5*time.Second)
	clock.Advance(4 * time.Second)

	got, ok := m.Get(ctx, "k")
	if !ok || got != "new" {
		t.Errorf("Get = (%q, %v), want (new, true)", got, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemory_NonPositiveTTLDeletes(t *testing.T) {
	m, _ := newTestMemory(10)
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Minute)
	m.Set(ctx, "k", "v", 0)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("expected key removed by zero TTL")
	}
}

func TestMemory_Stats(t *testing.T) {
	m, _ := newTestMemory(10)
	ctx := context.Background()

	m.Get(ctx, "missing")
	m.Set(ctx, "k", "v", time.Minute)
	m.Get(ctx, "k")
	m.Get(ctx, "k")

	s := m.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Size != 1 {
		t.Errorf("Stats = %+v, want {Hits:2 Misses:1 Size:1}", s)
	}
}

func TestMemory_DefaultCapacity(t *testing.T) {
	m := NewMemory[int](0)
	ctx := context.Background()
	for i := 0; i < DefaultCapacity+10; i++ {
		m.Set(ctx, fmt.Sprintf("k%d", i), i, time.Minute)
	}
	if m.Len() != DefaultCapacity {
		t.Errorf("Len = %d, want %d", m.Len(), DefaultCapacity)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := NewMemory[int](50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%75)
				m.Set(ctx, key, i, time.Minute)
				m.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()

	if m.Len() > 50 {
		t.Errorf("Len = %d exceeds capacity 50", m.Len())
	}
}
