package cache

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

// RedisStore shares one entry between service replicas through a single
// Redis key whose TTL matches the cache TTL. A local mirror of the last
// entry seen keeps stale data readable when Redis is unreachable or the key
// has expired.
type RedisStore[T any] struct {
	logger    types.Logger
	client    *redis.Client
	key       string
	ttl       time.Duration
	opTimeout time.Duration
	local     *MemoryStore[T]
}

func NewRedisStore[T any](logger types.Logger, client *redis.Client, name, key string, ttl time.Duration) *RedisStore[T] {
	return &RedisStore[T]{
		logger:    logger,
		client:    client,
		key:       key,
		ttl:       ttl,
		opTimeout: 3 * time.Second,
		local:     NewMemoryStore[T](name, ttl),
	}
}

func newRedisClient(ctx context.Context, config *types.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, types.WrapError(types.ErrCacheConnectionFailed, err.Error())
	}

	return client, nil
}

func (r *RedisStore[T]) Read(ctx context.Context) (Entry[T], bool) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key).Bytes()
	switch {
	case err == nil:
	case types.IsError(err, redis.Nil):
		return r.local.Read(ctx)
	default:
		r.logger.Warn("Redis read failed, serving local entry", zap.String("key", r.key), zap.Error(err))
		return r.local.Read(ctx)
	}

	var entry Entry[T]
	if err := sonic.Unmarshal(data, &entry); err != nil {
		r.logger.Error("Dropping cache entry", zap.String("key", r.key),
			zap.Error(types.WrapError(types.ErrCacheEntryCorrupt, err.Error())))
		r.client.Del(ctx, r.key)
		return r.local.Read(ctx)
	}

	r.local.keep(entry)

	return r.local.Read(ctx)
}

func (r *RedisStore[T]) Write(ctx context.Context, payload T, at time.Time) error {
	entry := Entry[T]{Payload: payload, Timestamp: at, Valid: true}
	r.local.keep(entry)

	return r.put(ctx, entry, r.ttl)
}

func (r *RedisStore[T]) Invalidate(ctx context.Context) error {
	if err := r.local.Invalidate(ctx); err != nil {
		return err
	}

	entry, ok := r.local.Read(ctx)
	if !ok {
		return nil
	}

	return r.put(ctx, entry, redis.KeepTTL)
}

func (r *RedisStore[T]) put(ctx context.Context, entry Entry[T], ttl time.Duration) error {
	data, err := sonic.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to encode cache entry")
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		r.logger.Warn("Redis write failed, entry kept locally", zap.String("key", r.key), zap.Error(err))
		return types.WrapError(types.ErrCacheConnectionFailed, err.Error())
	}

	return nil
}

func (r *RedisStore[T]) IsFresh(ctx context.Context, now time.Time) bool {
	e, ok := r.Read(ctx)
	return ok && e.FreshAt(now, r.ttl)
}

func (r *RedisStore[T]) TTL() time.Duration { return r.ttl }
func (r *RedisStore[T]) Name() string       { return r.local.Name() }

func (r *RedisStore[T]) Close() error {
	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}
	return nil
}
