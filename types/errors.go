package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
)

var (
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheEntryCorrupt     = errors.New("cache entry corrupt")
)

var (
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsNotRunning = errors.New("service is not running")
)

// Fetch and engine taxonomy. Typed errors below match these through Is.
var (
	ErrCanceled      = errors.New("request canceled")
	ErrTimeout       = errors.New("request timed out")
	ErrHTTP          = errors.New("backend http error")
	ErrCustomRange   = errors.New("custom range unavailable")
	ErrNotLoaded     = errors.New("data not loaded")
	ErrInvalidRange  = errors.New("invalid date range")
	ErrInvalidLevel  = errors.New("invalid level")
	ErrInvalidFilter = errors.New("invalid filter")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInternalError    = errors.New("internal error")
)

// CanceledError reports a request abandoned by its caller, usually because a
// newer request superseded it. It is never a user-facing failure.
type CanceledError struct {
	Endpoint string
	Cause    error
}

func (e *CanceledError) Error() string {
	if e.Endpoint == "" {
		return "request canceled"
	}
	return fmt.Sprintf("request to %s canceled", e.Endpoint)
}

func (e *CanceledError) Unwrap() error        { return e.Cause }
func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }

type TimeoutError struct {
	Endpoint string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s, try refresh", e.Endpoint, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Retryable is always true; timeouts are transient by definition.
func (e *TimeoutError) Retryable() bool { return true }

type HTTPError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned HTTP %d for %s", e.StatusCode, e.Endpoint)
}

func (e *HTTPError) Is(target error) bool { return target == ErrHTTP }

func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
}

// CustomRangeError wraps whatever made both custom-range strategies fail.
type CustomRangeError struct {
	StartDate string
	EndDate   string
	Cause     error
}

func (e *CustomRangeError) Error() string {
	return fmt.Sprintf("custom range %s..%s unavailable: %v", e.StartDate, e.EndDate, e.Cause)
}

func (e *CustomRangeError) Unwrap() error        { return e.Cause }
func (e *CustomRangeError) Is(target error) bool { return target == ErrCustomRange }

func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
