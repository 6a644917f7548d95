package middleware

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

type LoggingMiddleware struct {
	logger        types.Logger
	metrics       types.MetricsManager
	loggingConfig *LoggingConfig
	weight        int
}

type LoggingConfig struct {
	LogLevel   string `json:"log_level"`
	LogHeaders bool   `json:"log_headers"`
}

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

func NewLoggingMiddleware(config *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *LoggingMiddleware {
	loggingConfig := &LoggingConfig{
		LogLevel: "info",
	}

	if config.Params != nil {
		if err := utils.UnmarshalConfig(config.Params, loggingConfig); err != nil {
			logger.Error("Failed to unmarshal Logging middleware config", zap.Error(err))
		}
	}

	return &LoggingMiddleware{
		logger:        logger,
		metrics:       metrics,
		loggingConfig: loggingConfig,
		weight:        config.Weight,
	}
}

func (l *LoggingMiddleware) Name() string { return "logging" }
func (l *LoggingMiddleware) Weight() int  { return l.weight }

func (l *LoggingMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	start := time.Now()

	next(ctx)

	duration := time.Since(start)
	status := ctx.Response.StatusCode()
	// Only routed paths reach the chain, so the interned set stays bounded.
	path := utils.Intern(ctx.Path())
	method := utils.Intern(ctx.Method())

	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("remote_addr", remoteAddr(ctx)),
	}
	if q := ctx.QueryArgs().QueryString(); len(q) > 0 {
		fields = append(fields, zap.ByteString("query", q))
	}
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if l.loggingConfig.LogHeaders {
		fields = append(fields, zap.Any("headers", sanitizeHeaders(ctx)))
	}

	l.metrics.Counter("http_requests_total", map[string]string{
		"method": method,
		"path":   path,
		"status": statusClass(status),
	}).Inc()
	l.metrics.Histogram("http_request_duration_seconds", nil, map[string]string{
		"method": method,
		"path":   path,
	}).Observe(duration.Seconds())

	switch {
	case status >= 500:
		l.logger.Error("Request completed", fields...)
	case status >= 400:
		l.logger.Warn("Request completed", fields...)
	default:
		l.logWithLevel("Request completed", fields...)
	}
}

func (l *LoggingMiddleware) logWithLevel(msg string, fields ...zap.Field) {
	switch l.loggingConfig.LogLevel {
	case "debug":
		l.logger.Debug(msg, fields...)
	case "warn":
		l.logger.Warn(msg, fields...)
	case "error":
		l.logger.Error(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}

func sanitizeHeaders(ctx *fasthttp.RequestCtx) map[string]string {
	out := make(map[string]string)
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			return
		}
		out[k] = string(value)
	})
	return out
}

func remoteAddr(ctx *fasthttp.RequestCtx) string {
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}
	return ctx.RemoteIP().String()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
