// Package cron runs background jobs on a robfig/cron schedule. The service
// uses it to keep the aggregation caches warm between dashboard visits.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var _ types.CronManager = (*Manager)(nil)

type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	timezone        *time.Location
	jobs            map[string]*types.JobEntry
	state           atomic.Value
	mu              sync.RWMutex
	activeJobs      map[string]context.CancelFunc
	activeJobsMu    sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, config *types.CronConfig, logger types.Logger, metrics types.MetricsManager) *Manager {
	timezone := time.UTC
	if config != nil && config.Timezone != "" {
		if loc, err := time.LoadLocation(config.Timezone); err == nil {
			timezone = loc
		} else {
			logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", config.Timezone))
		}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{logger: logger}), cron.SkipIfStillRunning(cronLogger{logger: logger})),
		),
		timezone:        timezone,
		jobs:            make(map[string]*types.JobEntry),
		activeJobs:      make(map[string]context.CancelFunc),
		shutdown:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      2 * time.Minute,
	}

	m.state.Store(StateStopped)

	return m
}

// Add schedules job under jobName. spec uses the six-field form with
// seconds. Each run gets a context that is canceled on Stop or after the
// job timeout.
func (m *Manager) Add(jobName, spec string, job func(ctx context.Context) error) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	return m.addJob(jobName, spec, m.wrapJob(jobName, job))
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	m.cron.Start()
	m.state.Store(StateRunning)
	m.setSchedulerStatus(1)
	m.logger.Info("Cron manager started", zap.String("timezone", m.timezone.String()))

	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	var err error
	m.shutdownOnce.Do(func() {
		close(m.shutdown)
		err = m.stop()
		m.cancel()
		m.setSchedulerStatus(0)
		m.state.Store(StateStopped)

		if err == nil {
			m.logger.Info("Cron scheduler stopped gracefully")
		}
	})

	return err
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

// Jobs returns a copy of the job table ordered by name.
func (m *Manager) Jobs() []types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.JobEntry, 0, len(m.jobs))
	for _, j := range m.jobs {
		entry := *j
		if ce := m.cron.Entry(j.ID); ce.ID != 0 {
			entry.NextRun = ce.Next
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })

	return out
}

// Run executes jobName once, outside the schedule.
func (m *Manager) Run(jobName string) error {
	m.mu.RLock()
	entry, ok := m.jobs[jobName]
	m.mu.RUnlock()
	if !ok {
		return types.Errorf(types.ErrCronJobFailed, "unknown job %q", jobName)
	}

	m.cron.Entry(entry.ID).WrappedJob.Run()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry.LastError != "" {
		return types.Errorf(types.ErrCronJobFailed, "%s", entry.LastError)
	}
	return nil
}

func (m *Manager) wrapJob(jobName string, job func(ctx context.Context) error) func() {
	return func() {
		select {
		case <-m.shutdown:
			m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		m.logger.Debug("Cron job started", zap.String("job_name", jobName))

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		if !m.registerActiveJob(jobName, cancel) {
			return
		}
		defer m.releaseActiveJob(jobName)

		err := m.runSafely(jobCtx, job)
		if err == nil && types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
			err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
		}

		duration := time.Since(startTime)

		result := "success"
		if err != nil {
			result = "error"
		}
		m.metrics.Counter("cron_job_executions_total", map[string]string{"job_name": jobName, "result": result}).Inc()
		m.metrics.Histogram("cron_job_duration_seconds",
			[]float64{0.1, 1, 5, 15, 60, 120},
			map[string]string{"job_name": jobName},
		).Observe(duration.Seconds())

		m.updateJobStats(jobName, startTime, duration, err)

		if err != nil {
			m.logger.Error("Cron job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration),
				zap.Error(err))
			return
		}

		m.logger.Info("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}
}

func (m *Manager) runSafely(ctx context.Context, job func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
		}
	}()
	return job(ctx)
}

func (m *Manager) addJob(jobName, spec string, job func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdown:
		return types.ErrCronSchedulerStopped
	default:
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	entryID, err := m.cron.AddFunc(spec, job)
	if err != nil {
		return types.WrapError(types.ErrCronExpressionInvalid, err.Error())
	}

	m.jobs[jobName] = &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		AddedAt: time.Now(),
	}

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.activeJobsMu.Lock()
		active := m.activeJobs
		m.activeJobs = make(map[string]context.CancelFunc)
		m.activeJobsMu.Unlock()

		for jobName, cancel := range active {
			cancel()
			m.logger.Debug("Cancelled job during shutdown", zap.String("job_name", jobName))
		}
		return nil
	})

	g.Go(func() error {
		stopCtx := m.cron.Stop()

		select {
		case <-stopCtx.Done():
			return nil
		case <-gCtx.Done():
			return types.ErrCronJobTimeout
		}
	})

	if err := g.Wait(); err != nil {
		m.logger.Warn("Cron manager stop timeout, some jobs may still be running", zap.Error(err))
		return err
	}

	return nil
}

func (m *Manager) registerActiveJob(jobName string, cancel context.CancelFunc) bool {
	m.activeJobsMu.Lock()
	defer m.activeJobsMu.Unlock()

	select {
	case <-m.shutdown:
		return false
	default:
	}

	m.activeJobs[jobName] = cancel
	m.metrics.Gauge("cron_active_jobs", nil).Inc()
	return true
}

func (m *Manager) releaseActiveJob(jobName string) {
	m.activeJobsMu.Lock()
	defer m.activeJobsMu.Unlock()

	if _, exists := m.activeJobs[jobName]; exists {
		delete(m.activeJobs, jobName)
	}
	m.metrics.Gauge("cron_active_jobs", nil).Dec()
}

func (m *Manager) updateJobStats(jobName string, startTime time.Time, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastRun = startTime
	entry.LastDuration = duration
	entry.TotalDuration += duration
	entry.RunCount++
	entry.AvgDuration = entry.TotalDuration / time.Duration(entry.RunCount)
	entry.LastError = ""
	if err != nil {
		entry.LastError = err.Error()
	}
}

func (m *Manager) setSchedulerStatus(value float64) {
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

// cronLogger adapts types.Logger to cron.Logger.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
