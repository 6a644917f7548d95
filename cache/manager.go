package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

// NewStore builds the store selected by config.Type and wraps it with
// metrics. name identifies the engine the store belongs to.
func NewStore[T any](ctx context.Context, config *types.CacheConfig, name string, logger types.Logger, metrics types.MetricsManager) (Store[T], error) {
	var impl Store[T]

	switch config.Type {
	case "", "memory":
		impl = NewMemoryStore[T](name, config.TTL)
	case "redis":
		if config.Redis == nil {
			return nil, types.Errorf(types.ErrCacheConnectionFailed, "redis settings missing")
		}
		client, err := newRedisClient(ctx, config.Redis)
		if err != nil {
			return nil, err
		}
		impl = NewRedisStore[T](logger, client, name, redisKey(config.Redis.KeyPrefix, name), config.TTL)
	default:
		return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", config.Type)
	}

	logger.Info("Cache store initialized",
		zap.String("store", name),
		zap.String("type", config.Type),
		zap.Duration("ttl", config.TTL))

	return NewInstrumented(impl, metrics), nil
}

func redisKey(prefix, name string) string {
	if prefix == "" {
		prefix = "principal-analytics"
	}
	return strings.TrimSuffix(prefix, ":") + ":" + name
}

type instrumentedStore[T any] struct {
	impl    Store[T]
	metrics types.MetricsManager
}

// NewInstrumented records operation counts and latency per store.
func NewInstrumented[T any](impl Store[T], metrics types.MetricsManager) Store[T] {
	return &instrumentedStore[T]{impl: impl, metrics: metrics}
}

func (s *instrumentedStore[T]) Read(ctx context.Context) (Entry[T], bool) {
	start := time.Now()
	entry, ok := s.impl.Read(ctx)

	result := "miss"
	if ok {
		result = "hit"
	}

	s.recordMetric("read", result, time.Since(start))
	return entry, ok
}

func (s *instrumentedStore[T]) Write(ctx context.Context, payload T, at time.Time) error {
	start := time.Now()
	err := s.impl.Write(ctx, payload, at)
	s.recordMetric("write", resultOf(err), time.Since(start))
	return err
}

func (s *instrumentedStore[T]) Invalidate(ctx context.Context) error {
	start := time.Now()
	err := s.impl.Invalidate(ctx)
	s.recordMetric("invalidate", resultOf(err), time.Since(start))
	return err
}

func (s *instrumentedStore[T]) IsFresh(ctx context.Context, now time.Time) bool {
	return s.impl.IsFresh(ctx, now)
}

func (s *instrumentedStore[T]) TTL() time.Duration { return s.impl.TTL() }
func (s *instrumentedStore[T]) Name() string       { return s.impl.Name() }
func (s *instrumentedStore[T]) Close() error       { return s.impl.Close() }

func (s *instrumentedStore[T]) recordMetric(operation, result string, duration time.Duration) {
	s.metrics.Counter("cache_operations_total", map[string]string{
		"store":     s.impl.Name(),
		"operation": operation,
		"result":    result,
	}).Inc()

	s.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"store": s.impl.Name(), "operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
