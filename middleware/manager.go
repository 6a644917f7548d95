// Package middleware holds the fasthttp middleware chain used by the API
// server. Middlewares run in ascending weight order; a route can disable a
// middleware by name or opt in to one that is off by default.
package middleware

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

var _ types.MiddlewareManager = (*Manager)(nil)

type Manager struct {
	ctx         context.Context
	config      *types.MiddlewaresConfig
	logger      types.Logger
	metrics     types.MetricsManager
	middlewares []types.Middleware
	chains      map[string][]types.Middleware
	chainsMu    sync.RWMutex
	mu          sync.Mutex
	finalized   int32
}

func NewManager(ctx context.Context, config *types.MiddlewaresConfig, logger types.Logger, metrics types.MetricsManager) *Manager {
	if config == nil {
		config = &types.MiddlewaresConfig{}
	}

	return &Manager{
		ctx:     ctx,
		config:  config,
		logger:  logger,
		metrics: metrics,
		chains:  make(map[string][]types.Middleware),
	}
}

// RegisterMiddlewares registers every middleware enabled in the config and
// freezes the chain.
func (m *Manager) RegisterMiddlewares() error {
	if enabled(m.config.Recovery) {
		if err := m.Register(NewRecoveryMiddleware(m.config.Recovery, m.logger, m.metrics)); err != nil {
			return err
		}
	}

	if err := m.Register(NewRequestIDMiddleware()); err != nil {
		return err
	}

	if enabled(m.config.Logging) {
		if err := m.Register(NewLoggingMiddleware(m.config.Logging, m.logger, m.metrics)); err != nil {
			return err
		}
	}

	if enabled(m.config.RateLimit) {
		if err := m.Register(NewRateLimitMiddleware(m.ctx, m.config.RateLimit, m.logger, m.metrics)); err != nil {
			return err
		}
	}

	if enabled(m.config.Compression) {
		if err := m.Register(NewCompressionMiddleware(m.config.Compression, m.logger, m.metrics)); err != nil {
			return err
		}
	}

	return m.finalize()
}

func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.NewErrorf("middleware is nil")
	}
	if atomic.LoadInt32(&m.finalized) == 1 {
		return types.NewErrorf("cannot register middleware %q after finalization", middleware.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.middlewares {
		if existing.Name() == middleware.Name() {
			return types.NewErrorf("middleware %q already registered", middleware.Name())
		}
		if existing.Weight() == middleware.Weight() {
			return types.NewErrorf("duplicate weight %d for middlewares %q and %q",
				middleware.Weight(), existing.Name(), middleware.Name())
		}
	}

	m.middlewares = append(m.middlewares, middleware)
	m.logger.Debug("Middleware registered", zap.String("name", middleware.Name()), zap.Int("weight", middleware.Weight()))

	return nil
}

func (m *Manager) finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.Slice(m.middlewares, func(i, j int) bool {
		return m.middlewares[i].Weight() < m.middlewares[j].Weight()
	})
	atomic.StoreInt32(&m.finalized, 1)

	return nil
}

func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	if atomic.LoadInt32(&m.finalized) == 0 {
		handler(ctx)
		return
	}

	chain := m.chainFor(config)

	var index int
	var next fasthttp.RequestHandler
	next = func(ctx *fasthttp.RequestCtx) {
		if index >= len(chain) {
			handler(ctx)
			return
		}
		mw := chain[index]
		index++
		mw.Handle(ctx, next, config)
	}

	next(ctx)
}

// chainFor resolves and memoizes the middlewares active for a route config.
func (m *Manager) chainFor(config *types.RouteConfig) []types.Middleware {
	key := chainKey(config)

	m.chainsMu.RLock()
	chain, ok := m.chains[key]
	m.chainsMu.RUnlock()
	if ok {
		return chain
	}

	chain = make([]types.Middleware, 0, len(m.middlewares))
	for _, mw := range m.middlewares {
		if active(mw, config) {
			chain = append(chain, mw)
		}
	}

	m.chainsMu.Lock()
	m.chains[key] = chain
	m.chainsMu.Unlock()

	return chain
}

func active(mw types.Middleware, config *types.RouteConfig) bool {
	if config != nil && contains(config.DisabledMiddlewares, mw.Name()) {
		return false
	}
	if o, ok := mw.(types.OptInMiddleware); ok && o.OptIn() {
		return config != nil && contains(config.Middlewares, mw.Name())
	}
	return true
}

func chainKey(config *types.RouteConfig) string {
	if config == nil || (len(config.Middlewares) == 0 && len(config.DisabledMiddlewares) == 0) {
		return "default"
	}
	return "e:" + strings.Join(config.Middlewares, ",") + "|d:" + strings.Join(config.DisabledMiddlewares, ",")
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func enabled(c *types.MiddlewareItemConfig) bool {
	return c != nil && c.Enabled
}
