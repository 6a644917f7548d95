package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// MemoryStore publishes immutable entries through an atomic pointer, so a
// reader always sees either the old or the new entry, never a mix.
type MemoryStore[T any] struct {
	name  string
	ttl   time.Duration
	entry atomic.Pointer[Entry[T]]
}

func NewMemoryStore[T any](name string, ttl time.Duration) *MemoryStore[T] {
	return &MemoryStore[T]{name: name, ttl: ttl}
}

func (m *MemoryStore[T]) Read(_ context.Context) (Entry[T], bool) {
	e := m.entry.Load()
	if e == nil {
		return Entry[T]{}, false
	}
	return *e, true
}

func (m *MemoryStore[T]) Write(_ context.Context, payload T, at time.Time) error {
	m.entry.Store(&Entry[T]{Payload: payload, Timestamp: at, Valid: true})
	return nil
}

func (m *MemoryStore[T]) Invalidate(_ context.Context) error {
	for {
		cur := m.entry.Load()
		if cur == nil || !cur.Valid {
			return nil
		}
		next := *cur
		next.Valid = false
		if m.entry.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

func (m *MemoryStore[T]) IsFresh(ctx context.Context, now time.Time) bool {
	e, ok := m.Read(ctx)
	return ok && e.FreshAt(now, m.ttl)
}

// keep replaces the entry only if it is newer than the current one. Used
// by RedisStore to mirror what other replicas wrote.
func (m *MemoryStore[T]) keep(e Entry[T]) {
	for {
		cur := m.entry.Load()
		if cur != nil && cur.Timestamp.After(e.Timestamp) {
			return
		}
		if cur != nil && cur.Timestamp.Equal(e.Timestamp) && cur.Valid == e.Valid {
			return
		}
		next := e
		if m.entry.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (m *MemoryStore[T]) TTL() time.Duration { return m.ttl }
func (m *MemoryStore[T]) Name() string       { return m.name }
func (m *MemoryStore[T]) Close() error       { return nil }
