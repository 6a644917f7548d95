package middleware

import (
	"bytes"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

const (
	AlgorithmGzip       = "gzip"
	AlgorithmBrotli     = "br"
	DefaultLevel        = 4
	DefaultThreshold    = 1024
	MinCompressionRatio = 0.05
)

// CompressionMiddleware compresses JSON responses with brotli when the
// client accepts it and falls back to gzip.
type CompressionMiddleware struct {
	logger            types.Logger
	metrics           types.MetricsManager
	compressionConfig *CompressionConfig
	weight            int
	bufferPool        sync.Pool
}

type CompressionConfig struct {
	Level        int      `json:"level"`
	MinSize      int      `json:"min_size"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(config *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Level:        DefaultLevel,
		MinSize:      DefaultThreshold,
		AllowedTypes: []string{"application/json", "text/*"},
	}

	if config.Params != nil {
		if err := utils.UnmarshalConfig(config.Params, compressionConfig); err != nil {
			logger.Error("Failed to unmarshal compression middleware config", zap.Error(err))
		}
	}
	if compressionConfig.Level < 0 || compressionConfig.Level > 9 {
		logger.Warn("Invalid compression level, using default", zap.Int("level", compressionConfig.Level))
		compressionConfig.Level = DefaultLevel
	}

	return &CompressionMiddleware{
		logger:            logger,
		metrics:           metrics,
		compressionConfig: compressionConfig,
		weight:            config.Weight,
		bufferPool: sync.Pool{
			New: func() interface{} { return new(bytes.Buffer) },
		},
	}
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	next(ctx)

	algorithm := negotiate(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding))
	if algorithm == "" {
		return
	}
	if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
		return
	}
	if !c.shouldCompress(ctx.Response.Header.ContentType()) {
		return
	}

	body := ctx.Response.Body()
	if len(body) < c.compressionConfig.MinSize {
		return
	}

	compressed, err := c.compress(algorithm, body)
	if err != nil {
		c.logger.Warn("Compression failed", zap.String("algorithm", algorithm), zap.Error(err))
		return
	}
	if 1-float64(len(compressed))/float64(len(body)) < MinCompressionRatio {
		return
	}

	c.metrics.Counter("http_compressed_responses_total", map[string]string{"algorithm": algorithm}).Inc()

	ctx.Response.SetBody(compressed)
	ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, algorithm)
	ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
}

func (c *CompressionMiddleware) compress(algorithm string, body []byte) ([]byte, error) {
	if algorithm == AlgorithmGzip {
		return fasthttp.AppendGzipBytesLevel(nil, body, c.compressionConfig.Level), nil
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	w := brotli.NewWriterLevel(buf, c.compressionConfig.Level)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (c *CompressionMiddleware) shouldCompress(contentType []byte) bool {
	ct := string(contentType)
	if semicolon := strings.Index(ct, ";"); semicolon != -1 {
		ct = ct[:semicolon]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))
	if ct == "" {
		return false
	}

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if allowed == ct {
			return true
		}
		if strings.HasSuffix(allowed, "*") && strings.HasPrefix(ct, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}
	return false
}

func negotiate(acceptEncoding []byte) string {
	switch {
	case len(acceptEncoding) == 0:
		return ""
	case bytes.Contains(acceptEncoding, []byte(AlgorithmBrotli)):
		return AlgorithmBrotli
	case bytes.Contains(acceptEncoding, []byte(AlgorithmGzip)):
		return AlgorithmGzip
	}
	return ""
}
