package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

// RateLimitMiddleware applies a per-client token bucket. It is opt-in:
// only routes naming "rate-limit" are limited, which in this service are
// the refresh endpoints that bypass the cache.
type RateLimitMiddleware struct {
	ctx             context.Context
	logger          types.Logger
	metrics         types.MetricsManager
	rateLimitConfig *RateLimitConfig
	weight          int
	clients         map[string]*client
	mu              sync.Mutex
	now             func() time.Time
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `json:"requests_per_minute"`
	Burst             int     `json:"burst"`
	IdleTTL           int     `json:"idle_ttl"`
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimitMiddleware(ctx context.Context, config *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *RateLimitMiddleware {
	rateLimitConfig := &RateLimitConfig{
		RequestsPerMinute: 6,
		Burst:             2,
		IdleTTL:           600,
	}

	if config.Params != nil {
		if err := utils.UnmarshalConfig(config.Params, rateLimitConfig); err != nil {
			logger.Error("Failed to unmarshal RateLimit middleware config", zap.Error(err))
		}
	}
	if rateLimitConfig.Burst < 1 {
		rateLimitConfig.Burst = 1
	}
	if rateLimitConfig.IdleTTL <= 0 {
		rateLimitConfig.IdleTTL = 600
	}

	rl := &RateLimitMiddleware{
		ctx:             ctx,
		logger:          logger,
		metrics:         metrics,
		rateLimitConfig: rateLimitConfig,
		weight:          config.Weight,
		clients:         make(map[string]*client),
		now:             time.Now,
	}

	go rl.cleanupWorker()

	return rl
}

func (rl *RateLimitMiddleware) Name() string { return "rate-limit" }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }
func (rl *RateLimitMiddleware) OptIn() bool  { return true }

func (rl *RateLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	key := remoteAddr(ctx) + " " + string(ctx.Path())

	limiter := rl.limiterFor(key)
	if !limiter.AllowN(rl.now(), 1) {
		rl.metrics.Counter("http_rate_limited_total", map[string]string{"path": string(ctx.Path())}).Inc()
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client", remoteAddr(ctx)),
			zap.ByteString("path", ctx.Path()))

		retryAfter := time.Duration(float64(time.Minute) / rl.limit())
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
		ctx.SetBodyString(`{"error":"rate_limited","message":"` + types.ErrRateLimitExceeded.Error() + `"}`)
		return
	}

	next(ctx)
}

func (rl *RateLimitMiddleware) limit() float64 {
	if rl.rateLimitConfig.RequestsPerMinute <= 0 {
		return 1
	}
	return rl.rateLimitConfig.RequestsPerMinute
}

func (rl *RateLimitMiddleware) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		c = &client{
			limiter: rate.NewLimiter(rate.Limit(rl.limit()/60), rl.rateLimitConfig.Burst),
		}
		rl.clients[key] = c
	}
	c.lastSeen = rl.now()

	return c.limiter
}

func (rl *RateLimitMiddleware) cleanupWorker() {
	ttl := time.Duration(rl.rateLimitConfig.IdleTTL) * time.Second
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle(ttl)
		}
	}
}

func (rl *RateLimitMiddleware) evictIdle(ttl time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-ttl)
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}
