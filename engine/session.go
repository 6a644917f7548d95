package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/cache"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

// session owns one cached payload: the store, the in-flight fetch and the
// state machine around them. It is the only writer of its store.
type session[T any] struct {
	name    string
	logger  types.Logger
	metrics types.MetricsManager
	store   cache.Store[T]
	fetch   func(ctx context.Context) (T, error)
	clock   func() time.Time

	current atomic.Pointer[cache.Entry[T]]

	mu          sync.Mutex
	generation  uint64
	inflight    *flight
	state       State
	lastErr     error
	lastUpdated time.Time

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int
}

// flight is one fetch shared by every non-forced caller that arrives while
// it runs. result is written once, before done is closed.
type flight struct {
	gen    uint64
	cancel context.CancelFunc
	refs   int
	done   chan struct{}
	result LoadResult
}

func newSession[T any](name string, logger types.Logger, metrics types.MetricsManager, store cache.Store[T], fetch func(context.Context) (T, error), clock func() time.Time) *session[T] {
	s := &session[T]{
		name:    name,
		logger:  logger,
		metrics: metrics,
		store:   store,
		fetch:   fetch,
		clock:   clock,
		subs:    make(map[int]func(Update)),
	}
	s.setState(StateEmpty)
	return s
}

func (s *session[T]) load(ctx context.Context, force bool) LoadResult {
	entry, hasData := s.store.Read(ctx)
	if hasData {
		s.publish(entry)
	}

	if !force && hasData && entry.FreshAt(s.clock(), s.store.TTL()) {
		s.mu.Lock()
		gen := s.generation
		if s.state == StateEmpty {
			s.lastUpdated = entry.Timestamp
			s.setState(StateReady)
		}
		s.mu.Unlock()

		s.countLoad("cache_hit")
		return LoadResult{Generation: gen, Source: SourceCache}
	}

	s.mu.Lock()
	if !force && s.inflight != nil {
		f := s.inflight
		f.refs++
		s.mu.Unlock()

		s.countLoad("joined")
		return s.wait(ctx, f)
	}

	if s.inflight != nil {
		s.inflight.cancel()
	}
	s.generation++
	base := context.WithoutCancel(ctx)
	fetchCtx, cancel := context.WithCancel(base)
	f := &flight{gen: s.generation, cancel: cancel, refs: 1, done: make(chan struct{})}
	s.inflight = f
	if hasData {
		s.setState(StateRefreshing)
	} else {
		s.setState(StateLoading)
	}
	update := s.updateLocked(false)
	s.mu.Unlock()

	s.notify(update)

	go s.run(base, fetchCtx, f, hasData)

	return s.wait(ctx, f)
}

// wait blocks until f settles or ctx ends. A caller that leaves early gets
// a canceled result; the last one to leave cancels the fetch and detaches
// it so later callers start a new one.
func (s *session[T]) wait(ctx context.Context, f *flight) LoadResult {
	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
	}

	s.mu.Lock()
	f.refs--
	last := f.refs == 0
	if last {
		f.cancel()
		if s.inflight == f {
			s.inflight = nil
		}
	}
	s.mu.Unlock()

	if last {
		<-f.done
		return f.result
	}

	return LoadResult{
		Generation: f.gen,
		Source:     SourceNone,
		Err:        &types.CanceledError{Endpoint: s.name, Cause: ctx.Err()},
	}
}

func (s *session[T]) run(ctx, fetchCtx context.Context, f *flight, hasData bool) {
	defer close(f.done)
	defer f.cancel()

	payload, err := s.fetch(fetchCtx)

	s.mu.Lock()
	if s.inflight == f {
		s.inflight = nil
	}
	if f.gen != s.generation {
		s.mu.Unlock()
		s.countLoad("superseded")
		s.logger.Debug("Discarding superseded load", zap.String("engine", s.name), zap.Uint64("generation", f.gen))
		f.result = LoadResult{Generation: f.gen, Source: SourceNone, Superseded: true, Err: err}
		return
	}

	switch {
	case err == nil:
		now := s.clock()
		if werr := s.store.Write(ctx, payload, now); werr != nil {
			s.logger.Warn("Cache write failed", zap.String("engine", s.name), zap.Error(werr))
		}
		s.current.Store(&cache.Entry[T]{Payload: payload, Timestamp: now, Valid: true})
		s.lastErr = nil
		s.lastUpdated = now
		s.setState(StateReady)
		f.result = LoadResult{Generation: f.gen, Source: SourceNetwork}
		s.countLoad("network")

	case types.IsCanceled(err):
		s.setState(s.settledState(hasData))
		f.result = LoadResult{Generation: f.gen, Source: SourceNone, Err: err}
		s.countLoad("canceled")

	default:
		s.lastErr = err
		s.setState(StateError)
		f.result = LoadResult{Generation: f.gen, Source: SourceNone, Err: err}
		if hasData {
			f.result.Source = SourceStale
		}
		s.countLoad("error")
		s.logger.Warn("Load failed",
			zap.String("engine", s.name),
			zap.Bool("serving_stale", hasData),
			zap.Error(err))
	}

	update := s.updateLocked(err == nil)
	s.mu.Unlock()

	s.notify(update)
}

// invalidate cancels any in-flight fetch and marks the entry not fresh.
// The payload stays readable.
func (s *session[T]) invalidate(ctx context.Context) {
	s.mu.Lock()
	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}
	s.generation++
	s.mu.Unlock()

	if err := s.store.Invalidate(ctx); err != nil {
		s.logger.Warn("Cache invalidate failed", zap.String("engine", s.name), zap.Error(err))
	}

	for {
		cur := s.current.Load()
		if cur == nil || !cur.Valid {
			return
		}
		next := *cur
		next.Valid = false
		if s.current.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// publish adopts an entry read from the store when it is newer than the one
// already held, e.g. one written by another replica.
func (s *session[T]) publish(e cache.Entry[T]) {
	for {
		cur := s.current.Load()
		if cur != nil && !e.Timestamp.After(cur.Timestamp) {
			return
		}
		next := e
		if s.current.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (s *session[T]) snapshot() (cache.Entry[T], bool) {
	e := s.current.Load()
	if e == nil {
		return cache.Entry[T]{}, false
	}
	return *e, true
}

func (s *session[T]) status() Status {
	s.mu.Lock()
	st := Status{
		Engine:           s.name,
		State:            s.state,
		Generation:       s.generation,
		LastUpdated:      s.lastUpdated,
		IsInitialLoading: s.state == StateLoading,
		IsRefreshing:     s.state == StateRefreshing,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	s.mu.Unlock()

	if e, ok := s.snapshot(); ok {
		st.HasData = true
		st.Fresh = e.FreshAt(s.clock(), s.store.TTL())
		if st.LastUpdated.IsZero() {
			st.LastUpdated = e.Timestamp
		}
		s.metrics.Gauge("engine_cache_age_seconds", map[string]string{"engine": s.name}).Set(e.Age(s.clock()).Seconds())
	}

	return st
}

func (s *session[T]) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session[T]) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *session[T]) subscribe(fn func(Update)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify calls subscribers synchronously, outside the session lock.
func (s *session[T]) notify(u Update) {
	s.subMu.Lock()
	subs := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

func (s *session[T]) updateLocked(dataChanged bool) Update {
	return Update{
		Engine:      s.name,
		State:       s.state,
		Generation:  s.generation,
		LastUpdated: s.lastUpdated,
		DataChanged: dataChanged,
		Err:         s.lastErr,
	}
}

// settledState is the state to return to when a fetch ends without news.
func (s *session[T]) settledState(hasData bool) State {
	switch {
	case s.lastErr != nil:
		return StateError
	case hasData:
		return StateReady
	default:
		return StateEmpty
	}
}

func (s *session[T]) setState(st State) {
	s.state = st
	s.metrics.Gauge("engine_state", map[string]string{"engine": s.name}).Set(float64(st))
}

func (s *session[T]) countLoad(result string) {
	s.metrics.Counter("engine_loads_total", map[string]string{"engine": s.name, "result": result}).Inc()
}
