package client

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

// Breaker guards the backend. Cancellations and client-side 4xx responses
// say nothing about backend health and are not counted as failures.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker[[]byte]
	logger  types.Logger
	metrics types.MetricsManager
	name    string
}

func NewBreaker(config *types.CircuitBreakerConfig, logger types.Logger, metrics types.MetricsManager, name string) *Breaker {
	if config == nil || !config.Enabled {
		return nil
	}

	threshold := uint32(config.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	halfOpen := uint32(config.HalfOpenRequests)
	if halfOpen == 0 {
		halfOpen = 1
	}

	b := &Breaker{logger: logger, metrics: metrics, name: name}

	b.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpen,
		Interval:    time.Minute,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.Gauge("backend_circuit_breaker_state", map[string]string{"breaker": name}).Set(stateValue(to))
		},
		IsSuccessful: countsAsSuccess,
	})

	metrics.Gauge("backend_circuit_breaker_state", map[string]string{"breaker": name}).Set(0)

	return b
}

func (b *Breaker) Execute(fn func() ([]byte, error)) ([]byte, error) {
	if b == nil {
		return fn()
	}

	body, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, types.Errorf(types.ErrCircuitBreakerOpen, "%s: %v", b.name, err)
	}

	return body, err
}

// State is "closed" when the breaker is disabled.
func (b *Breaker) State() string {
	if b == nil {
		return gobreaker.StateClosed.String()
	}
	return b.cb.State().String()
}

func countsAsSuccess(err error) bool {
	if err == nil || types.IsCanceled(err) {
		return true
	}

	var httpErr *types.HTTPError
	if errors.As(err, &httpErr) {
		return !httpErr.Retryable()
	}

	return false
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
