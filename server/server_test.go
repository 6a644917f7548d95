package server

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/engine"
	"github.com/pgcdha001/pgcdha-sub002/logger"
	"github.com/pgcdha001/pgcdha-sub002/metrics"
	"github.com/pgcdha001/pgcdha-sub002/middleware"
	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

type fakeEnquiries struct {
	loads    int32
	loadRes  engine.LoadResult
	view     func(analytics.FilterSpec) (analytics.DerivedView, error)
	custom   func(context.Context, analytics.CustomRange, analytics.Level) (analytics.DerivedView, error)
	monthly  func(int, analytics.Level) ([]analytics.MonthCount, error)
	refresh  engine.LoadResult
	status   engine.Status
	deadline bool
}

func (f *fakeEnquiries) Load(ctx context.Context, _ bool) engine.LoadResult {
	atomic.AddInt32(&f.loads, 1)
	_, f.deadline = ctx.Deadline()
	return f.loadRes
}

func (f *fakeEnquiries) GetView(filter analytics.FilterSpec) (analytics.DerivedView, error) {
	return f.view(filter)
}

func (f *fakeEnquiries) GetCustomView(ctx context.Context, rng analytics.CustomRange, level analytics.Level) (analytics.DerivedView, error) {
	return f.custom(ctx, rng, level)
}

func (f *fakeEnquiries) MonthlyBreakdown(_ context.Context, year int, level analytics.Level) ([]analytics.MonthCount, error) {
	return f.monthly(year, level)
}

func (f *fakeEnquiries) Refresh(context.Context) engine.LoadResult { return f.refresh }
func (f *fakeEnquiries) Status() engine.Status                     { return f.status }

type fakeCorrespondence struct {
	view   analytics.CorrespondenceView
	custom error
	filter analytics.FilterSpec
}

func (f *fakeCorrespondence) Load(context.Context, bool) engine.LoadResult {
	return engine.LoadResult{Source: engine.SourceCache}
}

func (f *fakeCorrespondence) GetView(filter analytics.FilterSpec) (analytics.CorrespondenceView, error) {
	f.filter = filter
	return f.view, nil
}

func (f *fakeCorrespondence) GetCustomView(_ context.Context, _ analytics.CustomRange, filter analytics.FilterSpec) (analytics.CorrespondenceView, error) {
	f.filter = filter
	return f.view, f.custom
}

func (f *fakeCorrespondence) Refresh(context.Context) engine.LoadResult {
	return engine.LoadResult{Source: engine.SourceNetwork}
}

func (f *fakeCorrespondence) Status() engine.Status {
	return engine.Status{Engine: engine.CorrespondenceName, State: engine.StateReady, HasData: true, Fresh: true}
}

func readyEnquiries() *fakeEnquiries {
	return &fakeEnquiries{
		loadRes: engine.LoadResult{Generation: 1, Source: engine.SourceCache},
		view: func(f analytics.FilterSpec) (analytics.DerivedView, error) {
			v := analytics.ZeroView(f)
			v.Total = 42
			return v, nil
		},
		custom: func(_ context.Context, _ analytics.CustomRange, level analytics.Level) (analytics.DerivedView, error) {
			v := analytics.ZeroView(analytics.FilterSpec{Level: level, DateBucket: analytics.BucketCustom})
			v.Total = 7
			v.IsEstimated = true
			return v, nil
		},
		monthly: func(year int, _ analytics.Level) ([]analytics.MonthCount, error) {
			return []analytics.MonthCount{{Month: "Jan", MonthNumber: 1, Year: year, Total: 3}}, nil
		},
		refresh: engine.LoadResult{Generation: 2, Source: engine.SourceNetwork},
		status:  engine.Status{Engine: engine.EnquiriesName, State: engine.StateReady, HasData: true, Fresh: true},
	}
}

type harness struct {
	handler fasthttp.RequestHandler
}

func newHarness(t *testing.T, api *API, mwConfig *types.MiddlewaresConfig) *harness {
	t.Helper()

	nop := logger.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if api.Logger == nil {
		api.Logger = nop
	}
	if api.Clock == nil {
		api.Clock = func() time.Time { return time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC) }
	}

	router := NewRouter()
	api.Register(router)

	mw := middleware.NewManager(ctx, mwConfig, nop, metrics.NewPrometheusMetrics(nop, nil))
	require.NoError(t, mw.RegisterMiddlewares())

	srv := NewHTTPServer(ctx, &types.HTTPConfig{}, nop, mw, router)
	return &harness{handler: srv.Handler()}
}

func (h *harness) do(method, uri string) (*fasthttp.RequestCtx, map[string]interface{}) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	h.handler(&ctx)

	body := map[string]interface{}{}
	_ = utils.Unmarshal(ctx.Response.Body(), &body)
	return &ctx, body
}

func TestEnquiryViewParsesFilter(t *testing.T) {
	enq := readyEnquiries()
	var got analytics.FilterSpec
	enq.view = func(f analytics.FilterSpec) (analytics.DerivedView, error) {
		got = f
		return analytics.ZeroView(f), nil
	}
	h := newHarness(t, &API{Enquiries: enq}, nil)

	ctx, body := h.do("GET", "/api/v1/enquiries/view?level=2&bucket=month&gender=boys")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, analytics.Level(2), got.Level)
	assert.Equal(t, analytics.BucketMonth, got.DateBucket)
	assert.Equal(t, analytics.GenderBoys, got.Gender)
	assert.Equal(t, int32(1), enq.loads)
	assert.True(t, enq.deadline)

	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, "cache", meta["source"])
	assert.Equal(t, false, meta["stale"])
	assert.Equal(t, "no-store", string(ctx.Response.Header.Peek(fasthttp.HeaderCacheControl)))
}

func TestEnquiryViewErrors(t *testing.T) {
	enq := readyEnquiries()
	h := newHarness(t, &API{Enquiries: enq}, nil)

	ctx, body := h.do("GET", "/api/v1/enquiries/view?level=9")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.Equal(t, "invalid_request", body["error"])

	enq.loadRes = engine.LoadResult{Source: engine.SourceNone, Err: &types.HTTPError{Endpoint: "comprehensive", StatusCode: 500}}
	enq.view = func(f analytics.FilterSpec) (analytics.DerivedView, error) {
		return analytics.ZeroView(f), types.ErrNotLoaded
	}

	ctx, body = h.do("GET", "/api/v1/enquiries/view")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.Equal(t, "unavailable", body["error"])
	assert.Contains(t, body["message"], "HTTP 500")
	assert.NotNil(t, body["data"])
}

func TestEnquiryViewStaleMeta(t *testing.T) {
	enq := readyEnquiries()
	enq.loadRes = engine.LoadResult{Generation: 1, Source: engine.SourceStale, Err: types.ErrTimeout}
	enq.status = engine.Status{State: engine.StateError, HasData: true, Fresh: true, Error: "timed out"}
	h := newHarness(t, &API{Enquiries: enq}, nil)

	ctx, body := h.do("GET", "/api/v1/enquiries/view")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, true, meta["stale"])
	assert.Equal(t, "timed out", meta["error"])
}

func TestEnquiryCustom(t *testing.T) {
	enq := readyEnquiries()
	h := newHarness(t, &API{Enquiries: enq}, nil)

	ctx, body := h.do("GET", "/api/v1/enquiries/custom?startDate=2024-01-01&endDate=2024-01-10&level=3")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, float64(10), meta["days"])
	assert.Equal(t, true, meta["estimated"])

	ctx, _ = h.do("GET", "/api/v1/enquiries/custom?startDate=2024-02-01&endDate=2024-01-01")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	enq.custom = func(_ context.Context, rng analytics.CustomRange, _ analytics.Level) (analytics.DerivedView, error) {
		v := analytics.ZeroView(analytics.FilterSpec{DateBucket: analytics.BucketCustom})
		v.Unavailable = true
		return v, &types.CustomRangeError{StartDate: rng.Start(), EndDate: rng.End(), Cause: types.ErrTimeout}
	}
	ctx, body = h.do("GET", "/api/v1/enquiries/custom?startDate=2024-01-01&endDate=2024-01-10")
	assert.Equal(t, fasthttp.StatusBadGateway, ctx.Response.StatusCode())
	assert.Equal(t, "custom_range_unavailable", body["error"])

	enq.custom = func(context.Context, analytics.CustomRange, analytics.Level) (analytics.DerivedView, error) {
		return analytics.DerivedView{}, &types.CanceledError{Endpoint: "custom-range"}
	}
	ctx, body = h.do("GET", "/api/v1/enquiries/custom?startDate=2024-01-01&endDate=2024-01-10")
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())
	assert.Equal(t, "canceled", body["error"])
}

func TestEnquiryMonthly(t *testing.T) {
	enq := readyEnquiries()
	var gotYear int
	enq.monthly = func(year int, _ analytics.Level) ([]analytics.MonthCount, error) {
		gotYear = year
		return nil, nil
	}
	h := newHarness(t, &API{Enquiries: enq}, nil)

	ctx, _ := h.do("GET", "/api/v1/enquiries/monthly")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 2024, gotYear)
	assert.Equal(t, int32(1), enq.loads)

	ctx, _ = h.do("GET", "/api/v1/enquiries/monthly?year=2022")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 2022, gotYear)
	assert.Equal(t, int32(1), enq.loads)

	ctx, _ = h.do("GET", "/api/v1/enquiries/monthly?year=abc")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestRefresh(t *testing.T) {
	enq := readyEnquiries()
	h := newHarness(t, &API{Enquiries: enq}, nil)

	ctx, body := h.do("POST", "/api/v1/enquiries/refresh")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "network", body["meta"].(map[string]interface{})["source"])

	enq.refresh = engine.LoadResult{Source: engine.SourceStale, Err: types.ErrTimeout}
	ctx, _ = h.do("POST", "/api/v1/enquiries/refresh")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	enq.status.HasData = false
	ctx, body = h.do("POST", "/api/v1/enquiries/refresh")
	assert.Equal(t, fasthttp.StatusGatewayTimeout, ctx.Response.StatusCode())
	assert.Equal(t, "timeout", body["error"])
}

func TestRoutingErrors(t *testing.T) {
	h := newHarness(t, &API{Enquiries: readyEnquiries()}, nil)

	ctx, body := h.do("GET", "/api/v1/nope")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Equal(t, "not_found", body["error"])

	ctx, _ = h.do("GET", "/api/v1/enquiries/refresh")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "POST", string(ctx.Response.Header.Peek(fasthttp.HeaderAllow)))

	ctx, _ = h.do("GET", "/api/v1/correspondence/view")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestStatusAndCorrespondence(t *testing.T) {
	corr := &fakeCorrespondence{view: analytics.CorrespondenceView{Total: 3}}
	h := newHarness(t, &API{
		Enquiries:      readyEnquiries(),
		Correspondence: corr,
		BreakerState:   func() string { return "closed" },
	}, nil)

	ctx, body := h.do("GET", "/api/v1/enquiries/status")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "closed", data["breaker"])
	assert.Equal(t, "ready", data["correspondence"].(map[string]interface{})["state"])

	ctx, body = h.do("GET", "/api/v1/correspondence/view?type=email&search=smith&level=1")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "email", corr.filter.Type)
	assert.Equal(t, "smith", corr.filter.SearchTerm)
	assert.Equal(t, float64(3), body["data"].(map[string]interface{})["total"])

	corr.custom = &types.CustomRangeError{Cause: &types.HTTPError{StatusCode: 502}}
	ctx, _ = h.do("GET", "/api/v1/correspondence/custom?startDate=2024-01-01&endDate=2024-01-31&type=call")
	assert.Equal(t, fasthttp.StatusBadGateway, ctx.Response.StatusCode())
	assert.Equal(t, "call", corr.filter.Type)
}

func TestRefreshIsRateLimited(t *testing.T) {
	h := newHarness(t, &API{Enquiries: readyEnquiries()}, &types.MiddlewaresConfig{
		RateLimit: &types.MiddlewareItemConfig{
			Enabled: true,
			Weight:  20,
			Params:  map[string]interface{}{"requests_per_minute": 1, "burst": 1},
		},
	})

	ctx, _ := h.do("POST", "/api/v1/enquiries/refresh")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	ctx, body := h.do("POST", "/api/v1/enquiries/refresh")
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.Equal(t, "rate_limited", body["error"])

	for i := 0; i < 3; i++ {
		ctx, _ = h.do("GET", "/api/v1/enquiries/view")
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{types.Errorf(types.ErrInvalidParameter, "x"), 400, "invalid_request"},
		{&types.CustomRangeError{Cause: types.ErrTimeout}, 502, "custom_range_unavailable"},
		{&types.CanceledError{}, 409, "canceled"},
		{&types.TimeoutError{Endpoint: "comprehensive", Timeout: time.Second}, 504, "timeout"},
		{types.ErrCircuitBreakerOpen, 503, "unavailable"},
		{&types.HTTPError{StatusCode: 500}, 502, "backend_error"},
		{types.ErrInternalError, 500, "internal_error"},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestServeOverListener(t *testing.T) {
	nop := logger.NewNop()
	router := NewRouter()
	(&API{Logger: nop, Enquiries: readyEnquiries()}).Register(router)

	srv := NewHTTPServer(context.Background(), &types.HTTPConfig{}, nop, nil, router)
	ln := fasthttputil.NewInmemoryListener()
	require.NoError(t, srv.Serve(ln))
	assert.True(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Serve(ln), types.ErrServerAlreadyRunning)

	client := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://analytics/api/v1/enquiries/view?bucket=today")
	require.NoError(t, client.Do(req, resp))
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), `"total":42`)

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}

func TestRouterRoutes(t *testing.T) {
	router := NewRouter()
	(&API{Enquiries: readyEnquiries(), Health: func(*fasthttp.RequestCtx) {}}).Register(router)

	paths := make(map[string]bool)
	for _, r := range router.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	assert.True(t, paths["GET /health"])
	assert.True(t, paths["POST /api/v1/enquiries/refresh"])
	assert.False(t, paths["GET /metrics"])
}

func TestSettledLoadFollowsReplacingLoad(t *testing.T) {
	results := []engine.LoadResult{
		{Generation: 1, Source: engine.SourceNone, Superseded: true, Err: &types.CanceledError{Endpoint: "comprehensive"}},
		{Generation: 2, Source: engine.SourceCache},
	}
	var calls int
	res := settledLoad(context.Background(), func(_ context.Context, force bool) engine.LoadResult {
		assert.False(t, force)
		r := results[calls]
		calls++
		return r
	})

	assert.Equal(t, 2, calls)
	assert.False(t, res.Superseded)
	assert.NoError(t, res.Err)
	assert.Equal(t, uint64(2), res.Generation)

	calls = 0
	res = settledLoad(context.Background(), func(context.Context, bool) engine.LoadResult {
		calls++
		return engine.LoadResult{Superseded: true}
	})
	assert.Equal(t, maxRejoins+1, calls)
	assert.True(t, res.Superseded)
}
