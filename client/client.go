package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

const (
	EndpointComprehensive  = "/enquiries/comprehensive-data"
	EndpointMonthly        = "/enquiries/monthly-breakdown"
	EndpointCorrespondence = "/correspondence"
	EndpointPrincipalStats = "/enquiries/principal-stats"
)

// Gateway performs the backend calls behind the aggregation engines. Every
// call is bounded by the configured timeout and aborts as soon as its
// context is done.
type Gateway struct {
	logger       types.Logger
	metrics      types.MetricsManager
	client       *fasthttp.Client
	breaker      *Breaker
	baseURL      string
	token        string
	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
}

type Option func(*Gateway)

// WithDial replaces the transport dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(g *Gateway) { g.client.Dial = dial }
}

func WithRetryBackoff(d time.Duration) Option {
	return func(g *Gateway) { g.retryBackoff = d }
}

func NewGateway(logger types.Logger, metrics types.MetricsManager, config *types.BackendConfig, opts ...Option) *Gateway {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	g := &Gateway{
		logger:  logger,
		metrics: metrics,
		client: &fasthttp.Client{
			Name:                "principal-analytics",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		breaker:      NewBreaker(config.CircuitBreaker, logger, metrics, "backend"),
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		token:        config.Token,
		timeout:      timeout,
		retries:      config.Retries,
		retryBackoff: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *Gateway) FetchComprehensive(ctx context.Context) (analytics.ComprehensivePayload, error) {
	var payload analytics.ComprehensivePayload

	env, err := g.get(ctx, EndpointComprehensive, EndpointComprehensive, nil)
	if err != nil {
		return payload, err
	}

	if err := decodeData(EndpointComprehensive, env.Data, &payload); err != nil {
		return payload, err
	}

	return payload, nil
}

type monthlyData struct {
	Year   int                     `json:"year"`
	Months []analytics.MonthRecord `json:"months"`
}

func (g *Gateway) FetchMonthlyBreakdown(ctx context.Context, year int) ([]analytics.MonthRecord, error) {
	path := EndpointMonthly + "/" + strconv.Itoa(year)

	env, err := g.get(ctx, EndpointMonthly, path, nil)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(string(env.Data))
	if strings.HasPrefix(raw, "[") {
		var months []analytics.MonthRecord
		if err := decodeData(EndpointMonthly, env.Data, &months); err != nil {
			return nil, err
		}
		return months, nil
	}

	var data monthlyData
	if err := decodeData(EndpointMonthly, env.Data, &data); err != nil {
		return nil, err
	}

	return data.Months, nil
}

func (g *Gateway) FetchCorrespondence(ctx context.Context, query analytics.CorrespondenceQuery) (analytics.CorrespondencePayload, error) {
	var payload analytics.CorrespondencePayload

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)

	if query.Range != nil {
		args.Set("dateFilter", string(analytics.BucketCustom))
		args.Set("startDate", query.Range.Start())
		args.Set("endDate", query.Range.End())
	} else if query.DateFilter != "" && query.DateFilter != analytics.BucketAll {
		args.Set("dateFilter", string(query.DateFilter))
	}
	if query.Type != "" {
		args.Set("type", query.Type)
	}
	if !query.Level.IsAll() {
		args.Set("level", query.Level.String())
	}

	env, err := g.get(ctx, EndpointCorrespondence, EndpointCorrespondence, args)
	if err != nil {
		return payload, err
	}

	if err := decodeData(EndpointCorrespondence, env.Data, &payload.Records); err != nil {
		return payload, err
	}
	if len(env.Stats) > 0 {
		if err := decodeData(EndpointCorrespondence, env.Stats, &payload.Stats); err != nil {
			return payload, err
		}
	}

	return payload, nil
}

// FetchPrincipalStats asks the backend for exact counts over r. The
// response has the shape of one date bucket.
func (g *Gateway) FetchPrincipalStats(ctx context.Context, r analytics.CustomRange, minLevel analytics.Level) (analytics.BucketStats, error) {
	var bucket analytics.BucketStats

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)

	args.Set("dateFilter", string(analytics.BucketCustom))
	args.Set("startDate", r.Start())
	args.Set("endDate", r.End())
	if !minLevel.IsAll() {
		args.Set("minLevel", minLevel.String())
	}

	env, err := g.get(ctx, EndpointPrincipalStats, EndpointPrincipalStats, args)
	if err != nil {
		return bucket, err
	}

	if err := decodeData(EndpointPrincipalStats, env.Data, &bucket); err != nil {
		return bucket, err
	}

	return bucket, nil
}

func (g *Gateway) BreakerState() string {
	return g.breaker.State()
}

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Stats   json.RawMessage `json:"stats"`
}

func (g *Gateway) get(ctx context.Context, endpoint, path string, args *fasthttp.Args) (*envelope, error) {
	uri := g.baseURL + path
	if args != nil && args.Len() > 0 {
		uri += "?" + args.String()
	}

	start := time.Now()
	body, err := g.executeWithRetries(ctx, endpoint, uri)
	g.recordMetric(endpoint, resultLabel(err), time.Since(start))

	if err != nil {
		if !types.IsCanceled(err) {
			g.logger.ErrorWithErrStack("Backend request failed", err, zap.String("endpoint", endpoint))
		}
		return nil, err
	}

	env := &envelope{}
	if err := sonic.Unmarshal(body, env); err != nil {
		return nil, pkgerrors.WithStack(types.Errorf(types.ErrClientResponseInvalid, "%s: %v", endpoint, err))
	}
	if env.Success != nil && !*env.Success {
		return nil, &types.HTTPError{Endpoint: endpoint, StatusCode: fasthttp.StatusOK, Message: env.Message}
	}

	return env, nil
}

// executeWithRetries bounds the whole call, retries included, by the
// configured timeout. A retry is only started when the remaining budget
// covers the backoff plus as long as the previous attempt took.
func (g *Gateway) executeWithRetries(ctx context.Context, endpoint, uri string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	var lastErr error

	for attempt := 0; attempt <= g.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, contextError(endpoint, err, g.timeout)
		}

		started := time.Now()
		body, err := g.breaker.Execute(func() ([]byte, error) {
			return g.do(ctx, endpoint, uri, deadline)
		})
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !shouldRetry(err) || attempt == g.retries {
			break
		}

		backoff := time.Duration(attempt+1) * g.retryBackoff
		if time.Until(deadline) < backoff+time.Since(started) {
			g.logger.Debug("Retry budget exhausted",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			break
		}

		g.logger.Debug("Retrying backend request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, contextError(endpoint, ctx.Err(), g.timeout)
		}
	}

	return nil, lastErr
}

type result struct {
	status int
	body   []byte
	err    error
}

// do runs one request. The request carries the call's deadline itself so
// the pooled connection is released even when the caller has already given
// up.
func (g *Gateway) do(ctx context.Context, endpoint, uri string, deadline time.Time) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	done := make(chan result, 1)

	go func() {
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		err := g.client.DoDeadline(req, resp, deadline)
		r := result{status: resp.StatusCode(), err: err}
		if err == nil {
			r.body = append([]byte(nil), resp.Body()...)
		}
		done <- r
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return nil, contextError(endpoint, ctx.Err(), g.timeout)
	}

	switch {
	case errors.Is(r.err, fasthttp.ErrTimeout):
		return nil, &types.TimeoutError{Endpoint: endpoint, Timeout: g.timeout}
	case r.err != nil:
		return nil, pkgerrors.WithStack(types.Errorf(types.ErrClientRequestFailed, "%s: %v", endpoint, r.err))
	case r.status >= fasthttp.StatusBadRequest:
		return nil, &types.HTTPError{Endpoint: endpoint, StatusCode: r.status, Message: backendMessage(r.body)}
	}

	return r.body, nil
}

func contextError(endpoint string, err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.TimeoutError{Endpoint: endpoint, Timeout: timeout}
	}
	return &types.CanceledError{Endpoint: endpoint, Cause: err}
}

func backendMessage(body []byte) string {
	var env envelope
	if len(body) == 0 || sonic.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.Message
}

func decodeData(endpoint string, data json.RawMessage, target interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return pkgerrors.WithStack(types.Errorf(types.ErrClientResponseInvalid, "%s: empty data", endpoint))
	}
	if err := sonic.Unmarshal(data, target); err != nil {
		return pkgerrors.WithStack(types.Errorf(types.ErrClientResponseInvalid, "%s: %v", endpoint, err))
	}
	return nil
}

// shouldRetry limits retries to transient backend trouble. Timeouts are not
// retried here; the caller decides whether to try again.
func shouldRetry(err error) bool {
	if errors.Is(err, types.ErrTimeout) {
		return false
	}
	return types.IsRetryable(err) || errors.Is(err, types.ErrClientRequestFailed)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case types.IsCanceled(err):
		return "canceled"
	case errors.Is(err, types.ErrTimeout):
		return "timeout"
	case errors.Is(err, types.ErrCircuitBreakerOpen):
		return "rejected"
	case errors.Is(err, types.ErrHTTP):
		return "http_error"
	default:
		return "error"
	}
}

func (g *Gateway) recordMetric(endpoint, result string, duration time.Duration) {
	g.metrics.Counter("backend_requests_total", map[string]string{
		"endpoint": endpoint,
		"result":   result,
	}).Inc()

	g.metrics.Histogram("backend_request_duration_seconds",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		map[string]string{"endpoint": endpoint},
	).Observe(duration.Seconds())
}
