package server

import (
	"context"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/engine"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

type EnquiryEngine interface {
	Load(ctx context.Context, force bool) engine.LoadResult
	GetView(filter analytics.FilterSpec) (analytics.DerivedView, error)
	GetCustomView(ctx context.Context, rng analytics.CustomRange, level analytics.Level) (analytics.DerivedView, error)
	MonthlyBreakdown(ctx context.Context, year int, level analytics.Level) ([]analytics.MonthCount, error)
	Refresh(ctx context.Context) engine.LoadResult
	Status() engine.Status
}

type CorrespondenceEngine interface {
	Load(ctx context.Context, force bool) engine.LoadResult
	GetView(filter analytics.FilterSpec) (analytics.CorrespondenceView, error)
	GetCustomView(ctx context.Context, rng analytics.CustomRange, filter analytics.FilterSpec) (analytics.CorrespondenceView, error)
	Refresh(ctx context.Context) engine.LoadResult
	Status() engine.Status
}

// API holds what the HTTP handlers call. Correspondence, Health and
// Metrics are optional.
type API struct {
	Logger         types.Logger
	Enquiries      EnquiryEngine
	Correspondence CorrespondenceEngine
	BreakerState   func() string
	Health         fasthttp.RequestHandler
	Metrics        fasthttp.RequestHandler
	MetricsPath    string
	Clock          func() time.Time
	RequestTimeout time.Duration
}

// ViewMeta tells the client how fresh the data behind a view is.
type ViewMeta struct {
	Source      engine.Source `json:"source"`
	Stale       bool          `json:"stale"`
	LastUpdated time.Time     `json:"lastUpdated,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type StatusReport struct {
	Enquiries      engine.Status  `json:"enquiries"`
	Correspondence *engine.Status `json:"correspondence,omitempty"`
	Breaker        string         `json:"breaker"`
}

func (a *API) Register(router *Router) {
	if a.Clock == nil {
		a.Clock = time.Now
	}
	if a.RequestTimeout <= 0 {
		a.RequestTimeout = 30 * time.Second
	}

	v1 := router.Group("/api/v1")

	enquiries := v1.Group("/enquiries")
	enquiries.GET("/view", a.handleEnquiryView).WithTimeout(a.RequestTimeout)
	enquiries.GET("/custom", a.handleEnquiryCustom).WithTimeout(a.RequestTimeout)
	enquiries.GET("/monthly", a.handleEnquiryMonthly).WithTimeout(a.RequestTimeout)
	enquiries.POST("/refresh", a.handleEnquiryRefresh).WithTimeout(a.RequestTimeout).WithMiddlewares("rate-limit")
	enquiries.GET("/status", a.handleStatus)

	if a.Correspondence != nil {
		correspondence := v1.Group("/correspondence")
		correspondence.GET("/view", a.handleCorrespondenceView).WithTimeout(a.RequestTimeout)
		correspondence.GET("/custom", a.handleCorrespondenceCustom).WithTimeout(a.RequestTimeout)
		correspondence.POST("/refresh", a.handleCorrespondenceRefresh).WithTimeout(a.RequestTimeout).WithMiddlewares("rate-limit")
	}

	if a.Health != nil {
		router.GET("/health", a.Health).WithoutMiddlewares("logging", "compression")
	}
	if a.Metrics != nil {
		path := a.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, a.Metrics).WithoutMiddlewares("logging", "compression")
	}
}

func (a *API) handleEnquiryView(ctx *fasthttp.RequestCtx) {
	filter, err := parseFilter(ctx.QueryArgs())
	if err != nil {
		writeFailure(ctx, err, nil)
		return
	}

	res := settledLoad(requestContext(ctx), a.Enquiries.Load)

	view, err := a.Enquiries.GetView(filter)
	if err != nil {
		if res.Err != nil && types.IsError(err, types.ErrNotLoaded) {
			err = types.WrapError(types.ErrNotLoaded, res.Err.Error())
		}
		writeFailure(ctx, err, view)
		return
	}

	writeData(ctx, view, a.viewMeta(res, a.Enquiries.Status()))
}

func (a *API) handleEnquiryCustom(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()

	rng, err := analytics.ParseCustomRange(string(args.Peek("startDate")), string(args.Peek("endDate")))
	if err != nil {
		writeFailure(ctx, err, nil)
		return
	}
	level, err := analytics.ParseLevel(string(args.Peek("level")))
	if err != nil {
		writeFailure(ctx, err, nil)
		return
	}

	view, err := a.Enquiries.GetCustomView(requestContext(ctx), rng, level)
	if err != nil {
		if !types.IsCanceled(err) {
			a.Logger.Warn("Custom range request failed",
				zap.String("start", rng.Start()),
				zap.String("end", rng.End()),
				zap.Error(err))
		}
		writeFailure(ctx, err, view)
		return
	}

	writeData(ctx, view, map[string]interface{}{
		"startDate": rng.Start(),
		"endDate":   rng.End(),
		"days":      rng.Days(),
		"estimated": view.IsEstimated,
	})
}

func (a *API) handleEnquiryMonthly(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()

	year := a.Clock().Year()
	if raw := string(args.Peek("year")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1970 || n > 9999 {
			writeFailure(ctx, types.Errorf(types.ErrInvalidParameter, "year %q", raw), nil)
			return
		}
		year = n
	}
	level, err := analytics.ParseLevel(string(args.Peek("level")))
	if err != nil {
		writeFailure(ctx, err, nil)
		return
	}

	reqCtx := requestContext(ctx)
	if year == a.Clock().Year() {
		a.Enquiries.Load(reqCtx, false)
	}

	months, err := a.Enquiries.MonthlyBreakdown(reqCtx, year, level)
	if err != nil {
		writeFailure(ctx, err, months)
		return
	}

	writeData(ctx, months, map[string]interface{}{"year": year, "level": level})
}

func (a *API) handleEnquiryRefresh(ctx *fasthttp.RequestCtx) {
	a.writeRefresh(ctx, a.Enquiries.Refresh(requestContext(ctx)), a.Enquiries.Status())
}

func (a *API) handleStatus(ctx *fasthttp.RequestCtx) {
	report := StatusReport{
		Enquiries: a.Enquiries.Status(),
		Breaker:   "disabled",
	}
	if a.Correspondence != nil {
		st := a.Correspondence.Status()
		report.Correspondence = &st
	}
	if a.BreakerState != nil {
		report.Breaker = a.BreakerState()
	}

	writeData(ctx, report, nil)
}

func (a *API) handleCorrespondenceView(ctx *fasthttp.RequestCtx) {
	filter, err := parseFilter(ctx.QueryArgs())
	if err != nil {
		writeFailure(ctx, err, nil)
		return
	}

	res := settledLoad(requestContext(ctx), a.Correspondence.Load)

	view, err := a.Correspondence.GetView(filter)
	if err != nil {
		if res.Err != nil && types.IsError(err, types.ErrNotLoaded) {
			err = types.WrapError(types.ErrNotLoaded, res.Err.Error())
		}
		writeFailure(ctx, err, view)
		return
	}

	writeData(ctx, view, a.viewMeta(res, a.Correspondence.Status()))
}

func (a *API) handleCorrespondenceCustom(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()

	rng, err := analytics.ParseCustomRange(string(args.Peek("startDate")), string(args.Peek("endDate")))
	if err != nil {
		writeFailure(ctx, err, nil)
		return
	}
	filter, err := parseFilter(args)
	if err != nil {
		writeFailure(ctx, err, nil)
		return
	}

	view, err := a.Correspondence.GetCustomView(requestContext(ctx), rng, filter)
	if err != nil {
		writeFailure(ctx, err, view)
		return
	}

	writeData(ctx, view, map[string]interface{}{
		"startDate": rng.Start(),
		"endDate":   rng.End(),
	})
}

func (a *API) handleCorrespondenceRefresh(ctx *fasthttp.RequestCtx) {
	a.writeRefresh(ctx, a.Correspondence.Refresh(requestContext(ctx)), a.Correspondence.Status())
}

// writeRefresh reports a failed refresh as 200 when older data is still
// being served; the failure is in the status block.
func (a *API) writeRefresh(ctx *fasthttp.RequestCtx, res engine.LoadResult, status engine.Status) {
	if res.Err != nil && !status.HasData {
		writeFailure(ctx, res.Err, status)
		return
	}

	writeData(ctx, status, a.viewMeta(res, status))
}

// maxRejoins bounds how often a read follows a load that was replaced by a
// forced one.
const maxRejoins = 3

// settledLoad runs a non-forced load. When a refresh supersedes it, the read
// joins the load that replaced it instead of reporting the cancellation.
func settledLoad(ctx context.Context, load func(context.Context, bool) engine.LoadResult) engine.LoadResult {
	res := load(ctx, false)
	for i := 0; res.Superseded && i < maxRejoins && ctx.Err() == nil; i++ {
		res = load(ctx, false)
	}
	return res
}

func (a *API) viewMeta(res engine.LoadResult, status engine.Status) ViewMeta {
	return ViewMeta{
		Source:      res.Source,
		Stale:       res.Source == engine.SourceStale || !status.Fresh,
		LastUpdated: status.LastUpdated,
		Error:       status.Error,
	}
}

func parseFilter(args *fasthttp.Args) (analytics.FilterSpec, error) {
	level, err := analytics.ParseLevel(string(args.Peek("level")))
	if err != nil {
		return analytics.FilterSpec{}, err
	}

	gender, err := analytics.ParseGender(string(args.Peek("gender")))
	if err != nil {
		return analytics.FilterSpec{}, err
	}

	filter := analytics.FilterSpec{
		Level:      level,
		DateBucket: analytics.Bucket(string(args.Peek("bucket"))),
		Type:       string(args.Peek("type")),
		Gender:     gender,
		SearchTerm: string(args.Peek("search")),
	}.Normalize()

	return filter, filter.Validate()
}
