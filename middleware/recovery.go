package middleware

import (
	"runtime"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

type RecoveryMiddleware struct {
	logger         types.Logger
	metrics        types.MetricsManager
	recoveryConfig *RecoveryConfig
	weight         int
}

type RecoveryConfig struct {
	StackTrace bool `json:"stack_trace"`
}

func NewRecoveryMiddleware(config *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *RecoveryMiddleware {
	recoveryConfig := &RecoveryConfig{
		StackTrace: true,
	}

	if config.Params != nil {
		if err := utils.UnmarshalConfig(config.Params, recoveryConfig); err != nil {
			logger.Error("Failed to unmarshal Recovery middleware config", zap.Error(err))
		}
	}

	return &RecoveryMiddleware{
		logger:         logger,
		metrics:        metrics,
		recoveryConfig: recoveryConfig,
		weight:         config.Weight,
	}
}

func (r *RecoveryMiddleware) Name() string { return "recovery" }
func (r *RecoveryMiddleware) Weight() int  { return r.weight }

func (r *RecoveryMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	defer func() {
		if rec := recover(); rec != nil {
			fields := []zap.Field{
				zap.Any("panic", rec),
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.String("remote_addr", ctx.RemoteIP().String()),
			}
			if requestID := ctx.Request.Header.Peek(RequestIDHeader); len(requestID) > 0 {
				fields = append(fields, zap.ByteString("request_id", requestID))
			}
			if r.recoveryConfig.StackTrace {
				fields = append(fields, zap.String("stack", stackTrace()))
			}

			r.logger.Error("Recovered from panic", fields...)
			r.metrics.Counter("http_panics_total", map[string]string{"path": string(ctx.Path())}).Inc()

			ctx.Response.Reset()
			utils.CreateErrorResponse(ctx)
		}
	}()

	next(ctx)
}

func stackTrace() string {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) || len(buf) >= 65536 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*4)
	}
}
