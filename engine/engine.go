// Package engine serves dashboard views from a single cached aggregation
// payload. It decides when to fetch, supersedes overlapping fetches, keeps
// serving the last good payload when the backend fails and resolves
// custom date ranges on a separate request slot.
package engine

import (
	"context"
	"time"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/cache"
	"github.com/pgcdha001/pgcdha-sub002/customrange"
	"github.com/pgcdha001/pgcdha-sub002/stats"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

const EnquiriesName = "enquiries"

type Gateway interface {
	FetchComprehensive(ctx context.Context) (analytics.ComprehensivePayload, error)
	FetchMonthlyBreakdown(ctx context.Context, year int) ([]analytics.MonthRecord, error)
	customrange.StatsFetcher
}

type Engine struct {
	session  *session[analytics.ComprehensivePayload]
	gateway  Gateway
	resolver *customrange.Resolver
	custom   slot
	clock    func() time.Time
}

func New(logger types.Logger, metrics types.MetricsManager, gateway Gateway, store cache.Store[analytics.ComprehensivePayload], estimation *types.EstimationConfig, opts ...Option) *Engine {
	o := buildOptions(opts)

	e := &Engine{
		gateway: gateway,
		clock:   o.clock,
	}
	e.session = newSession(EnquiriesName, logger, metrics, store, gateway.FetchComprehensive, o.clock)
	e.resolver = customrange.NewResolver(logger, metrics, gateway, e.Snapshot, estimation)

	return e
}

// Load serves from cache when the entry is fresh and force is false. A
// non-forced load joins a fetch already in flight; a forced one supersedes
// it and fetches. Backend errors are reported in the result and through
// Err; they never drop the last good payload.
func (e *Engine) Load(ctx context.Context, force bool) LoadResult {
	return e.session.load(ctx, force)
}

// GetView derives the view for filter from the current entry without any
// I/O. With nothing loaded yet it returns a zero view and ErrNotLoaded.
func (e *Engine) GetView(filter analytics.FilterSpec) (analytics.DerivedView, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return analytics.ZeroView(filter), err
	}

	if filter.DateBucket == analytics.BucketCustom {
		return analytics.ZeroView(filter), nil
	}

	entry, ok := e.session.snapshot()
	if !ok {
		return analytics.ZeroView(filter), types.ErrNotLoaded
	}

	return stats.DeriveView(entry.Payload, filter), nil
}

// GetCustomView resolves rng through the custom-range resolver. A newer
// call cancels an older one still in flight; the older call then returns a
// canceled error. The primary cache is neither read for freshness nor
// written.
func (e *Engine) GetCustomView(ctx context.Context, rng analytics.CustomRange, level analytics.Level) (analytics.DerivedView, error) {
	reqCtx, gen := e.custom.begin(ctx)

	view, err := e.resolver.Resolve(reqCtx, rng, level)

	if !e.custom.finish(gen, err) {
		return view, superseded("custom-range")
	}

	return view, err
}

// Refresh drops custom-range state, invalidates the entry and reloads.
func (e *Engine) Refresh(ctx context.Context) LoadResult {
	e.custom.reset()
	e.session.invalidate(ctx)
	return e.session.load(ctx, true)
}

// MonthlyBreakdown returns twelve months for year. The current year comes
// from the cached payload when one is loaded; other years are fetched and
// not cached.
func (e *Engine) MonthlyBreakdown(ctx context.Context, year int, level analytics.Level) ([]analytics.MonthCount, error) {
	if year == e.clock().Year() {
		if entry, ok := e.session.snapshot(); ok && len(entry.Payload.MonthlyBreakdown) > 0 {
			return stats.DeriveMonthly(entry.Payload.MonthlyBreakdown, year, level), nil
		}
	}

	records, err := e.gateway.FetchMonthlyBreakdown(ctx, year)
	if err != nil {
		return stats.DeriveMonthly(nil, year, level), err
	}

	return stats.DeriveMonthly(records, year, level), nil
}

// Snapshot returns the payload currently served, fresh or not.
func (e *Engine) Snapshot() (analytics.ComprehensivePayload, bool) {
	entry, ok := e.session.snapshot()
	return entry.Payload, ok
}

func (e *Engine) Subscribe(fn func(Update)) (unsubscribe func()) {
	return e.session.subscribe(fn)
}

func (e *Engine) Status() Status {
	st := e.session.status()
	st.IsCustomDateLoading = e.custom.isLoading()
	return st
}

func (e *Engine) Name() string              { return EnquiriesName }
func (e *Engine) State() State              { return e.session.getState() }
func (e *Engine) Err() error                { return e.session.err() }
func (e *Engine) CustomErr() error          { return e.custom.err() }
func (e *Engine) IsInitialLoading() bool    { return e.State() == StateLoading }
func (e *Engine) IsRefreshing() bool        { return e.State() == StateRefreshing }
func (e *Engine) IsCustomDateLoading() bool { return e.custom.isLoading() }
func (e *Engine) LastUpdated() time.Time    { return e.session.status().LastUpdated }
func (e *Engine) Generation() uint64        { return e.session.status().Generation }
