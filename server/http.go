// Package server exposes the aggregation engines over a fasthttp JSON API.
package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	middlewares     types.MiddlewareManager
	router          *Router
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(ctx context.Context, config *types.HTTPConfig, logger types.Logger, middlewares types.MiddlewareManager, router *Router) *FastHTTPServer {
	serverCtx, cancel := context.WithCancel(ctx)

	shutdownTimeout := 5 * time.Second
	if config.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(config.ShutdownTimeout) * time.Second
	}

	h := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		middlewares:     middlewares,
		router:          router,
		httpConfig:      config,
		shutdownTimeout: shutdownTimeout,
	}

	h.state.Store(StateStopped)

	return h
}

// Start listens on the configured address and serves in the background.
func (h *FastHTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return types.WrapError(err, "failed to listen on "+addr)
	}

	return h.Serve(ln)
}

// Serve serves on ln in the background. Tests pass an in-memory listener.
func (h *FastHTTPServer) Serve(ln net.Listener) error {
	if !h.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.listener = ln
	h.server = &fasthttp.Server{
		Handler:               h.Handler(),
		Name:                  "principal-analytics",
		ReadTimeout:           seconds(h.httpConfig.ReadTimeout),
		WriteTimeout:          seconds(h.httpConfig.WriteTimeout),
		IdleTimeout:           seconds(h.httpConfig.IdleTimeout),
		TCPKeepalive:          true,
		CloseOnShutdown:       true,
		NoDefaultServerHeader: true,
		Logger:                fasthttpLogger{logger: h.logger},
	}

	go func() {
		if err := h.server.Serve(ln); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.state.Store(StateStopped)
		}
	}()

	h.state.Store(StateRunning)
	h.logger.Info("HTTP server started", zap.String("address", ln.Addr().String()))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.state.Store(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	if err := h.server.ShutdownWithContext(ctx); err != nil {
		h.logger.Warn("Server stop timeout, some connections may not have closed gracefully", zap.Error(err))
		return err
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.state.Load().(State) == StateRunning
}

// Handler routes a request through the middleware chain to its handler.
func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		def, allowed := h.router.lookup(ctx.Method(), ctx.Path())
		if def == nil {
			if len(allowed) > 0 {
				ctx.Response.Header.Set(fasthttp.HeaderAllow, strings.Join(allowed, ", "))
				writeError(ctx, fasthttp.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
				return
			}
			writeError(ctx, fasthttp.StatusNotFound, "not_found", "route not found")
			return
		}

		ctx.SetUserValue(requestContextKey, h.ctx)

		handler := def.Handler
		if def.Config.Timeout > 0 {
			handler = withTimeout(handler, def.Config.Timeout)
		}

		if h.middlewares != nil {
			h.middlewares.Execute(ctx, handler, def.Config)
			return
		}
		handler(ctx)
	}
}

// withTimeout bounds the context handlers read through requestContext.
func withTimeout(next fasthttp.RequestHandler, d time.Duration) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		reqCtx, cancel := context.WithTimeout(requestContext(ctx), d)
		defer cancel()
		ctx.SetUserValue(requestContextKey, reqCtx)
		next(ctx)
	}
}

const requestContextKey = "request_context"

// requestContext is the context a handler passes to the engines. fasthttp
// does not cancel on client disconnect, so it ends only on route timeout
// or when the server stops.
func requestContext(ctx *fasthttp.RequestCtx) context.Context {
	if c, ok := ctx.UserValue(requestContextKey).(context.Context); ok {
		return c
	}
	return context.Background()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

type fasthttpLogger struct {
	logger types.Logger
}

func (l fasthttpLogger) Printf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
