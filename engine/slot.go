package engine

import (
	"context"
	"sync"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

// slot serializes custom-range requests: a newer request cancels the older
// one and the older result is discarded.
type slot struct {
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	loading    bool
	lastErr    error
}

func (s *slot) begin(ctx context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loading = true

	return reqCtx, s.generation
}

// finish records the outcome of generation gen. It reports false when gen
// was superseded, in which case err is ignored.
func (s *slot) finish(gen uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loading = false
	if !types.IsCanceled(err) {
		s.lastErr = err
	}

	return true
}

func (s *slot) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.loading = false
	s.lastErr = nil
}

func (s *slot) isLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *slot) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func superseded(endpoint string) error {
	return &types.CanceledError{Endpoint: endpoint, Cause: context.Canceled}
}
