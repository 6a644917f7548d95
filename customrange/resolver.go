// Package customrange answers statistics for arbitrary date ranges. Exact
// backend counts are preferred; when the backend cannot answer, the result
// is extrapolated from cached yearly totals and flagged as an estimate.
package customrange

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/stats"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

type StatsFetcher interface {
	FetchPrincipalStats(ctx context.Context, r analytics.CustomRange, minLevel analytics.Level) (analytics.BucketStats, error)
}

// SnapshotFunc returns the cached comprehensive payload, if any.
type SnapshotFunc func() (analytics.ComprehensivePayload, bool)

type Resolver struct {
	logger           types.Logger
	metrics          types.MetricsManager
	fetcher          StatsFetcher
	snapshot         SnapshotFunc
	daysPerYear      int
	defaultBoysRatio float64

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]*shared
}

// shared is the work context of one collapsed request. It is canceled once
// every caller waiting on it has gone, and the key is forgotten with it so a
// later caller never attaches to the canceled call.
type shared struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

func NewResolver(logger types.Logger, metrics types.MetricsManager, fetcher StatsFetcher, snapshot SnapshotFunc, config *types.EstimationConfig) *Resolver {
	r := &Resolver{
		logger:           logger,
		metrics:          metrics,
		fetcher:          fetcher,
		snapshot:         snapshot,
		daysPerYear:      365,
		defaultBoysRatio: 0.6,
		inflight:         make(map[string]*shared),
	}

	if config != nil {
		if config.DaysPerYear > 0 {
			r.daysPerYear = config.DaysPerYear
		}
		r.defaultBoysRatio = config.DefaultBoysRatio
	}

	return r
}

// Resolve returns the view for rng at level. On failure of both strategies
// it returns a *types.CustomRangeError together with a zero view marked
// unavailable, so callers always have something to render. Identical
// concurrent requests share one backend call.
func (r *Resolver) Resolve(ctx context.Context, rng analytics.CustomRange, level analytics.Level) (analytics.DerivedView, error) {
	filter := analytics.FilterSpec{Level: level, DateBucket: analytics.BucketCustom}

	if err := rng.Validate(); err != nil {
		return analytics.ZeroView(filter), err
	}

	key := rng.Start() + "|" + rng.End() + "|" + level.String()
	s := r.join(ctx, key)
	defer r.leave(key, s)

	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.resolve(s.ctx, rng, level)
	})

	select {
	case res := <-ch:
		return res.Val.(analytics.DerivedView), res.Err
	case <-ctx.Done():
		r.record("canceled")
		return analytics.ZeroView(filter), &types.CanceledError{Endpoint: "custom-range", Cause: ctx.Err()}
	}
}

func (r *Resolver) join(ctx context.Context, key string) *shared {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.inflight[key]
	if !ok {
		workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s = &shared{ctx: workCtx, cancel: cancel}
		r.inflight[key] = s
	}
	s.refs++

	return s
}

func (r *Resolver) leave(key string, s *shared) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return
	}

	s.cancel()
	if r.inflight[key] == s {
		delete(r.inflight, key)
		r.group.Forget(key)
	}
}

func (r *Resolver) resolve(ctx context.Context, rng analytics.CustomRange, level analytics.Level) (analytics.DerivedView, error) {
	filter := analytics.FilterSpec{Level: level, DateBucket: analytics.BucketCustom}

	bucket, err := r.fetcher.FetchPrincipalStats(ctx, rng, level)
	if err == nil {
		r.record("exact")
		return stats.DeriveBucket(bucket, filter), nil
	}

	if types.IsCanceled(err) {
		r.record("canceled")
		return analytics.ZeroView(filter), err
	}

	r.logger.Warn("Exact custom range unavailable, estimating",
		zap.String("start", rng.Start()),
		zap.String("end", rng.End()),
		zap.Error(err))

	if view, ok := r.estimate(rng, level); ok {
		r.record("estimated")
		return view, nil
	}

	r.record("unavailable")

	rangeErr := &types.CustomRangeError{StartDate: rng.Start(), EndDate: rng.End(), Cause: err}
	view := analytics.ZeroView(filter)
	view.IsEstimated = true
	view.Unavailable = true
	view.Error = rangeErr.Error()

	return view, rangeErr
}

func (r *Resolver) estimate(rng analytics.CustomRange, level analytics.Level) (analytics.DerivedView, bool) {
	if r.snapshot == nil {
		return analytics.DerivedView{}, false
	}

	payload, ok := r.snapshot()
	if !ok {
		return analytics.DerivedView{}, false
	}

	yearly, ok := stats.YearlyLevelTotals(payload)
	if !ok {
		return analytics.DerivedView{}, false
	}

	ratio, ok := stats.GenderRatio(payload.AllTime)
	if !ok {
		ratio = r.defaultBoysRatio
	}

	return stats.EstimateRange(yearly, rng.Days(), r.daysPerYear, ratio, level), true
}

func (r *Resolver) record(result string) {
	r.metrics.Counter("custom_range_resolutions_total", map[string]string{"result": result}).Inc()
}
