package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/cache"
	"github.com/pgcdha001/pgcdha-sub002/logger"
	"github.com/pgcdha001/pgcdha-sub002/metrics"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

type fakeGateway struct {
	calls        int32
	monthlyCalls int32
	statsCalls   int32

	comprehensive func(ctx context.Context, call int32) (analytics.ComprehensivePayload, error)
	monthly       []analytics.MonthRecord
	monthlyErr    error
	principal     func(ctx context.Context) (analytics.BucketStats, error)
}

func (f *fakeGateway) FetchComprehensive(ctx context.Context) (analytics.ComprehensivePayload, error) {
	call := atomic.AddInt32(&f.calls, 1)
	return f.comprehensive(ctx, call)
}

func (f *fakeGateway) FetchMonthlyBreakdown(_ context.Context, _ int) ([]analytics.MonthRecord, error) {
	atomic.AddInt32(&f.monthlyCalls, 1)
	return f.monthly, f.monthlyErr
}

func (f *fakeGateway) FetchPrincipalStats(ctx context.Context, _ analytics.CustomRange, _ analytics.Level) (analytics.BucketStats, error) {
	atomic.AddInt32(&f.statsCalls, 1)
	if f.principal == nil {
		return analytics.BucketStats{}, &types.HTTPError{Endpoint: "principal-stats", StatusCode: 404}
	}
	return f.principal(ctx)
}

func payloadWithLevel2(today int) analytics.ComprehensivePayload {
	return analytics.ComprehensivePayload{
		AllTime: analytics.BucketStats{
			Total: 100, Boys: 60, Girls: 40,
			Level1: analytics.LevelStats{Total: 100, Boys: 60, Girls: 40},
		},
		DateRanges: map[analytics.Bucket]analytics.BucketStats{
			analytics.BucketToday: {Level2: analytics.LevelStats{Total: today, Boys: today / 2, Girls: today - today/2}},
			analytics.BucketYear:  {Level1: analytics.LevelStats{Total: 3650}},
		},
	}
}

func returns(p analytics.ComprehensivePayload, err error) func(context.Context, int32) (analytics.ComprehensivePayload, error) {
	return func(context.Context, int32) (analytics.ComprehensivePayload, error) { return p, err }
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, gw *fakeGateway, ttl time.Duration) (*Engine, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore[analytics.ComprehensivePayload]("enquiries", ttl)
	e := New(logger.NewNop(), metrics.NewPrometheusMetrics(logger.NewNop(), nil), gw, store,
		&types.EstimationConfig{DaysPerYear: 365, DefaultBoysRatio: 0.6}, WithClock(c.Now))
	return e, c
}

func TestLoad_NetworkThenCacheHit(t *testing.T) {
	gw := &fakeGateway{comprehensive: returns(payloadWithLevel2(2), nil)}
	e, c := newTestEngine(t, gw, 5*time.Minute)
	ctx := context.Background()

	assert.Equal(t, StateEmpty, e.State())

	res := e.Load(ctx, false)
	require.NoError(t, res.Err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, c.Now(), e.LastUpdated())

	c.Advance(4 * time.Minute)
	res = e.Load(ctx, false)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.calls))

	c.Advance(time.Minute)
	res = e.Load(ctx, false)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, int32(2), atomic.LoadInt32(&gw.calls))
}

func TestGetView_DerivesWithoutIO(t *testing.T) {
	gw := &fakeGateway{comprehensive: returns(payloadWithLevel2(2), nil)}
	e, _ := newTestEngine(t, gw, time.Minute)

	require.NoError(t, e.Load(context.Background(), false).Err)

	view, err := e.GetView(analytics.FilterSpec{Level: 2, DateBucket: analytics.BucketToday})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, 1, view.Boys)
	assert.Equal(t, 1, view.Girls)
	assert.Equal(t, 50.0, view.BoysPercentage)
	assert.Equal(t, 50.0, view.GirlsPercentage)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.calls))

	missing, err := e.GetView(analytics.FilterSpec{DateBucket: analytics.BucketMonth})
	require.NoError(t, err)
	assert.Zero(t, missing.Total)

	_, err = e.GetView(analytics.FilterSpec{Level: 9})
	assert.True(t, types.IsError(err, types.ErrInvalidFilter))
}

func TestFirstLoadFailure(t *testing.T) {
	backendErr := &types.HTTPError{Endpoint: "comprehensive", StatusCode: 500}
	gw := &fakeGateway{comprehensive: returns(analytics.ComprehensivePayload{}, backendErr)}
	e, _ := newTestEngine(t, gw, time.Minute)

	res := e.Load(context.Background(), false)
	assert.ErrorIs(t, res.Err, backendErr)
	assert.Equal(t, SourceNone, res.Source)
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, backendErr, e.Err())

	view, err := e.GetView(analytics.FilterSpec{})
	assert.ErrorIs(t, err, types.ErrNotLoaded)
	assert.Zero(t, view.Total)
	assert.Equal(t, 0.0, view.BoysPercentage)
	assert.NotNil(t, view.Programs.Boys)
}

func TestStaleOnError(t *testing.T) {
	gw := &fakeGateway{}
	gw.comprehensive = func(_ context.Context, call int32) (analytics.ComprehensivePayload, error) {
		if call == 1 {
			return payloadWithLevel2(2), nil
		}
		return analytics.ComprehensivePayload{}, &types.HTTPError{Endpoint: "comprehensive", StatusCode: 503}
	}
	e, c := newTestEngine(t, gw, time.Minute)
	ctx := context.Background()

	require.NoError(t, e.Load(ctx, false).Err)
	updated := e.LastUpdated()

	c.Advance(2 * time.Minute)
	res := e.Load(ctx, false)
	require.Error(t, res.Err)
	assert.Equal(t, SourceStale, res.Source)
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, updated, e.LastUpdated())

	view, err := e.GetView(analytics.FilterSpec{Level: 2, DateBucket: analytics.BucketToday})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)

	st := e.Status()
	assert.True(t, st.HasData)
	assert.False(t, st.Fresh)
	assert.NotEmpty(t, st.Error)
}

func TestSupersededLoadIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	gw := &fakeGateway{}
	gw.comprehensive = func(ctx context.Context, call int32) (analytics.ComprehensivePayload, error) {
		if call == 1 {
			close(started)
			<-ctx.Done()
			// Even if the backend answered late, this payload must not win.
			return payloadWithLevel2(99), nil
		}
		return payloadWithLevel2(2), nil
	}
	e, _ := newTestEngine(t, gw, time.Minute)
	ctx := context.Background()

	first := make(chan LoadResult, 1)
	go func() { first <- e.Load(ctx, false) }()
	<-started

	second := e.Load(ctx, true)
	require.NoError(t, second.Err)
	assert.Equal(t, SourceNetwork, second.Source)

	res := <-first
	assert.True(t, res.Superseded)
	assert.Less(t, res.Generation, second.Generation)

	view, err := e.GetView(analytics.FilterSpec{Level: 2, DateBucket: analytics.BucketToday})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, StateReady, e.State())
}

func waitForJoiners(t *testing.T, e *Engine, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.session.mu.Lock()
		defer e.session.mu.Unlock()
		return e.session.inflight != nil && e.session.inflight.refs == n
	}, time.Second, time.Millisecond)
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{}
	gw.comprehensive = func(_ context.Context, call int32) (analytics.ComprehensivePayload, error) {
		if call == 1 {
			close(started)
		}
		<-release
		return payloadWithLevel2(2), nil
	}
	e, _ := newTestEngine(t, gw, time.Minute)
	ctx := context.Background()

	first := make(chan LoadResult, 1)
	go func() { first <- e.Load(ctx, false) }()
	<-started

	second := make(chan LoadResult, 1)
	go func() { second <- e.Load(ctx, false) }()
	waitForJoiners(t, e, 2)
	close(release)

	a, b := <-first, <-second
	for _, res := range []LoadResult{a, b} {
		require.NoError(t, res.Err)
		assert.False(t, res.Superseded)
		assert.Equal(t, SourceNetwork, res.Source)
	}
	assert.Equal(t, a.Generation, b.Generation)
	assert.Equal(t, uint64(1), e.Generation())
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.calls))

	view, err := e.GetView(analytics.FilterSpec{Level: 2, DateBucket: analytics.BucketToday})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)
}

func TestReaderLeavingKeepsSharedFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{}
	gw.comprehensive = func(ctx context.Context, _ int32) (analytics.ComprehensivePayload, error) {
		close(started)
		select {
		case <-release:
			return payloadWithLevel2(2), nil
		case <-ctx.Done():
			return analytics.ComprehensivePayload{}, &types.CanceledError{Endpoint: "comprehensive", Cause: ctx.Err()}
		}
	}
	e, _ := newTestEngine(t, gw, time.Minute)

	leaving, cancel := context.WithCancel(context.Background())
	first := make(chan LoadResult, 1)
	go func() { first <- e.Load(leaving, false) }()
	<-started

	second := make(chan LoadResult, 1)
	go func() { second <- e.Load(context.Background(), false) }()
	waitForJoiners(t, e, 2)

	cancel()
	assert.True(t, types.IsCanceled((<-first).Err))

	close(release)
	res := <-second
	require.NoError(t, res.Err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.calls))
}

func TestCancellationIsNotAnError(t *testing.T) {
	gw := &fakeGateway{}
	gw.comprehensive = func(ctx context.Context, _ int32) (analytics.ComprehensivePayload, error) {
		<-ctx.Done()
		return analytics.ComprehensivePayload{}, &types.CanceledError{Endpoint: "comprehensive", Cause: ctx.Err()}
	}
	e, _ := newTestEngine(t, gw, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Load(ctx, false)
	assert.True(t, types.IsCanceled(res.Err))
	assert.NoError(t, e.Err())
	assert.Equal(t, StateEmpty, e.State())
}

func TestRefreshKeepsDataWhileReloading(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{}
	gw.comprehensive = func(_ context.Context, call int32) (analytics.ComprehensivePayload, error) {
		if call == 1 {
			return payloadWithLevel2(2), nil
		}
		<-release
		return payloadWithLevel2(4), nil
	}
	e, _ := newTestEngine(t, gw, time.Hour)
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, false).Err)

	refreshing := make(chan struct{})
	unsubscribe := e.Subscribe(func(u Update) {
		if u.State == StateRefreshing {
			close(refreshing)
		}
	})
	defer unsubscribe()

	done := make(chan LoadResult, 1)
	go func() { done <- e.Refresh(ctx) }()
	<-refreshing

	assert.True(t, e.IsRefreshing())
	view, err := e.GetView(analytics.FilterSpec{Level: 2, DateBucket: analytics.BucketToday})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)

	close(release)
	require.NoError(t, (<-done).Err)

	view, err = e.GetView(analytics.FilterSpec{Level: 2, DateBucket: analytics.BucketToday})
	require.NoError(t, err)
	assert.Equal(t, 4, view.Total)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	gw := &fakeGateway{comprehensive: returns(payloadWithLevel2(2), nil)}
	e, _ := newTestEngine(t, gw, time.Minute)

	var mu sync.Mutex
	var states []State
	var changed bool
	unsubscribe := e.Subscribe(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, u.State)
		changed = changed || u.DataChanged
	})

	require.NoError(t, e.Load(context.Background(), false).Err)
	unsubscribe()
	require.NoError(t, e.Load(context.Background(), true).Err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateLoading, StateReady}, states)
	assert.True(t, changed)
}

func TestGetCustomView_Estimated(t *testing.T) {
	gw := &fakeGateway{comprehensive: returns(payloadWithLevel2(2), nil)}
	e, _ := newTestEngine(t, gw, time.Minute)
	require.NoError(t, e.Load(context.Background(), false).Err)

	rng, err := analytics.ParseCustomRange("2025-03-01", "2025-03-10")
	require.NoError(t, err)

	view, err := e.GetCustomView(context.Background(), rng, analytics.LevelAll)
	require.NoError(t, err)
	assert.True(t, view.IsEstimated)
	assert.Equal(t, 100, view.Total)
	assert.Equal(t, 60, view.Boys)
	assert.Equal(t, 40, view.Girls)
	assert.False(t, e.IsCustomDateLoading())
	assert.NoError(t, e.CustomErr())
}

func TestGetCustomView_Unavailable(t *testing.T) {
	gw := &fakeGateway{comprehensive: returns(analytics.ComprehensivePayload{}, errors.New("down"))}
	e, _ := newTestEngine(t, gw, time.Minute)

	rng, err := analytics.ParseCustomRange("2025-03-01", "2025-03-10")
	require.NoError(t, err)

	view, err := e.GetCustomView(context.Background(), rng, analytics.LevelAll)
	assert.ErrorIs(t, err, types.ErrCustomRange)
	assert.True(t, view.Unavailable)
	assert.ErrorIs(t, e.CustomErr(), types.ErrCustomRange)
}

func TestGetCustomView_NewerRequestSupersedes(t *testing.T) {
	started := make(chan struct{})
	gw := &fakeGateway{comprehensive: returns(payloadWithLevel2(2), nil)}
	var n int32
	gw.principal = func(ctx context.Context) (analytics.BucketStats, error) {
		if atomic.AddInt32(&n, 1) == 1 {
			close(started)
			<-ctx.Done()
			return analytics.BucketStats{}, &types.CanceledError{Endpoint: "principal-stats", Cause: ctx.Err()}
		}
		return analytics.BucketStats{Level1: analytics.LevelStats{Total: 7, Boys: 3, Girls: 4}}, nil
	}
	e, _ := newTestEngine(t, gw, time.Minute)

	first, err := analytics.ParseCustomRange("2025-01-01", "2025-01-31")
	require.NoError(t, err)
	second, err := analytics.ParseCustomRange("2025-02-01", "2025-02-28")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := e.GetCustomView(context.Background(), first, analytics.LevelAll)
		errs <- err
	}()
	<-started

	view, err := e.GetCustomView(context.Background(), second, analytics.LevelAll)
	require.NoError(t, err)
	assert.Equal(t, 7, view.Total)
	assert.False(t, view.IsEstimated)

	assert.True(t, types.IsCanceled(<-errs))
	assert.NoError(t, e.CustomErr())
}

func TestMonthlyBreakdown(t *testing.T) {
	p := payloadWithLevel2(2)
	p.MonthlyBreakdown = []analytics.MonthRecord{{MonthNumber: 3, Level1: 5, Level2: 1}}
	gw := &fakeGateway{
		comprehensive: returns(p, nil),
		monthly:       []analytics.MonthRecord{{Month: "January", Total: 9}},
	}
	e, _ := newTestEngine(t, gw, time.Minute)
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, false).Err)

	months, err := e.MonthlyBreakdown(ctx, 2025, analytics.Level(1))
	require.NoError(t, err)
	require.Len(t, months, 12)
	assert.Equal(t, 5, months[2].Total)
	assert.Equal(t, int32(0), atomic.LoadInt32(&gw.monthlyCalls))

	months, err = e.MonthlyBreakdown(ctx, 2024, analytics.LevelAll)
	require.NoError(t, err)
	assert.Equal(t, 9, months[0].Total)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gw.monthlyCalls))

	gw.monthlyErr = errors.New("down")
	months, err = e.MonthlyBreakdown(ctx, 2023, analytics.LevelAll)
	require.Error(t, err)
	require.Len(t, months, 12)
	assert.Zero(t, months[0].Total)
}
