// Package health aggregates named checks into a report served on /health.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

var _ types.HealthManager = (*Manager)(nil)

type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	service      types.ServiceInfo
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Value
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, service types.ServiceInfo, logger types.Logger) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	if service.Build == "" {
		service.Build = getBuildInfo(service.Version)
	}

	hm := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		service:      service,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		checkTimeout: 5 * time.Second,
	}

	hm.state.Store(StateStopped)

	return hm
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Check runs every checker concurrently, each bounded by the check timeout.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	var g errgroup.Group
	for name, checker := range checkers {
		name, checker := name, checker // per-iteration copies (go.mod targets go 1.21)
		g.Go(func() error {
			result := hm.executeCheck(ctx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return hm.buildReport(results)
}

func (hm *Manager) Start() error {
	if !hm.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	hm.startTime = time.Now()
	hm.logger.Info("Health manager started")

	return nil
}

func (hm *Manager) Stop() error {
	if !hm.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	hm.cancel()
	hm.logger.Info("Health manager stopped")

	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.state.Load().(State) == StateRunning
}

// Handler answers 200 unless some check is unhealthy.
func (hm *Manager) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !hm.IsRunning() {
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString(`{"error":"unavailable","message":"health manager is not running"}`)
			return
		}

		report := hm.Check(hm.ctx)

		data, err := utils.Marshal(report)
		if err != nil {
			hm.logger.Error("Failed to encode health report", zap.Error(err))
			utils.CreateErrorResponse(ctx)
			return
		}

		status := fasthttp.StatusOK
		if report.Status == types.StatusUnhealthy {
			status = fasthttp.StatusServiceUnavailable
		}

		ctx.SetContentType("application/json")
		ctx.SetStatusCode(status)
		ctx.SetBody(data)
	}
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: types.Errorf(types.ErrInternalError, "health check panicked: %v", r).Error(),
				}
			}
		}()

		resultChan <- checker(checkCtx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-checkCtx.Done():
		result = types.HealthCheck{
			Status:  types.StatusUnhealthy,
			Message: "health check timeout",
		}
	}

	result.Name = name
	result.LastCheck = time.Now()
	result.Duration = time.Since(start)

	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	summary := types.HealthSummary{
		Total: len(results),
	}

	overall := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusDegraded:
			summary.Degraded++
			if overall == types.StatusHealthy || overall == types.StatusUnknown {
				overall = types.StatusDegraded
			}
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overall = types.StatusUnhealthy
		default:
			summary.Unknown++
			if overall == types.StatusHealthy {
				overall = types.StatusUnknown
			}
		}
	}

	var uptime time.Duration
	if !hm.startTime.IsZero() {
		uptime = time.Since(hm.startTime)
	}

	return types.HealthReport{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    uptime,
		Service:   hm.service,
		Checks:    results,
		Summary:   summary,
	}
}
