// Package cache holds the single time-boxed entry behind each aggregation
// engine. A store keeps one payload, never a keyspace.
package cache

import (
	"context"
	"time"
)

// Entry is one cached payload. Valid implies the payload is present; an
// invalidated entry keeps its payload so it can still be served as stale.
type Entry[T any] struct {
	Payload   T         `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Valid     bool      `json:"valid"`
}

func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// FreshAt reports whether the entry is valid and younger than ttl at now.
func (e Entry[T]) FreshAt(now time.Time, ttl time.Duration) bool {
	return e.Valid && e.Age(now) < ttl
}

type Store[T any] interface {
	// Read returns the current entry, fresh or not. ok is false only when
	// nothing was ever written.
	Read(ctx context.Context) (Entry[T], bool)
	// Write replaces the whole entry.
	Write(ctx context.Context, payload T, at time.Time) error
	// Invalidate marks the entry not fresh without dropping its payload.
	Invalidate(ctx context.Context) error
	IsFresh(ctx context.Context, now time.Time) bool
	TTL() time.Duration
	Name() string
	Close() error
}
