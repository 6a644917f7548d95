package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/cache"
	"github.com/pgcdha001/pgcdha-sub002/stats"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

const CorrespondenceName = "correspondence"

type CorrespondenceGateway interface {
	FetchCorrespondence(ctx context.Context, query analytics.CorrespondenceQuery) (analytics.CorrespondencePayload, error)
}

// CorrespondenceEngine caches the full correspondence record set and
// filters it locally. Custom ranges go to the backend every time.
type CorrespondenceEngine struct {
	session *session[analytics.CorrespondencePayload]
	gateway CorrespondenceGateway
	logger  types.Logger
	custom  slot
	clock   func() time.Time
}

func NewCorrespondence(logger types.Logger, metrics types.MetricsManager, gateway CorrespondenceGateway, store cache.Store[analytics.CorrespondencePayload], opts ...Option) *CorrespondenceEngine {
	o := buildOptions(opts)

	e := &CorrespondenceEngine{
		gateway: gateway,
		logger:  logger,
		clock:   o.clock,
	}
	e.session = newSession(CorrespondenceName, logger, metrics, store, e.fetchAll, o.clock)

	return e
}

func (e *CorrespondenceEngine) fetchAll(ctx context.Context) (analytics.CorrespondencePayload, error) {
	return e.gateway.FetchCorrespondence(ctx, analytics.CorrespondenceQuery{DateFilter: analytics.BucketAll})
}

func (e *CorrespondenceEngine) Load(ctx context.Context, force bool) LoadResult {
	return e.session.load(ctx, force)
}

func (e *CorrespondenceEngine) GetView(filter analytics.FilterSpec) (analytics.CorrespondenceView, error) {
	filter = filter.Normalize()
	if err := filter.Validate(); err != nil {
		return stats.DeriveCorrespondence(analytics.CorrespondencePayload{}, filter, e.clock()), err
	}

	entry, ok := e.session.snapshot()
	if !ok {
		return stats.DeriveCorrespondence(analytics.CorrespondencePayload{}, filter, e.clock()), types.ErrNotLoaded
	}
	if filter.DateBucket == analytics.BucketCustom {
		return stats.DeriveCorrespondence(analytics.CorrespondencePayload{}, filter, e.clock()), nil
	}

	return stats.DeriveCorrespondence(entry.Payload, filter, e.clock()), nil
}

// GetCustomView asks the backend for rng with the type and level narrowed
// server-side, then applies the remaining filters locally.
func (e *CorrespondenceEngine) GetCustomView(ctx context.Context, rng analytics.CustomRange, filter analytics.FilterSpec) (analytics.CorrespondenceView, error) {
	filter = filter.Normalize()
	filter.DateBucket = analytics.BucketCustom

	empty := stats.DeriveCorrespondence(analytics.CorrespondencePayload{}, filter, e.clock())

	if err := rng.Validate(); err != nil {
		return empty, err
	}
	if err := filter.Validate(); err != nil {
		return empty, err
	}

	reqCtx, gen := e.custom.begin(ctx)

	payload, err := e.gateway.FetchCorrespondence(reqCtx, analytics.CorrespondenceQuery{
		DateFilter: analytics.BucketCustom,
		Range:      &rng,
		Type:       filter.Type,
		Level:      filter.Level,
	})

	if err != nil && !types.IsCanceled(err) {
		err = &types.CustomRangeError{StartDate: rng.Start(), EndDate: rng.End(), Cause: err}
		e.logger.Warn("Custom correspondence range failed",
			zap.String("start", rng.Start()),
			zap.String("end", rng.End()),
			zap.Error(err))
	}

	if !e.custom.finish(gen, err) {
		return empty, superseded("custom-correspondence")
	}
	if err != nil {
		return empty, err
	}

	unbucketed := filter
	unbucketed.DateBucket = analytics.BucketAll
	view := stats.DeriveCorrespondence(payload, unbucketed, e.clock())
	view.Bucket = analytics.BucketCustom

	return view, nil
}

func (e *CorrespondenceEngine) Refresh(ctx context.Context) LoadResult {
	e.custom.reset()
	e.session.invalidate(ctx)
	return e.session.load(ctx, true)
}

func (e *CorrespondenceEngine) Subscribe(fn func(Update)) (unsubscribe func()) {
	return e.session.subscribe(fn)
}

func (e *CorrespondenceEngine) Status() Status {
	st := e.session.status()
	st.IsCustomDateLoading = e.custom.isLoading()
	return st
}

func (e *CorrespondenceEngine) Name() string     { return CorrespondenceName }
func (e *CorrespondenceEngine) State() State     { return e.session.getState() }
func (e *CorrespondenceEngine) Err() error       { return e.session.err() }
func (e *CorrespondenceEngine) CustomErr() error { return e.custom.err() }
