package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

var (
	_ types.Logger           = (*Manager)(nil)
	_ types.LifecycleManager = (*Manager)(nil)
)

// Manager is the service-owned logger. It flushes buffered entries when the
// service stops.
type Manager struct {
	logger types.Logger
	state  atomic.Value
}

func NewManager(config *types.LoggerConfig) (*Manager, error) {
	l, err := NewLogger(config)
	if err != nil {
		return nil, err
	}

	m := &Manager{logger: l}
	m.state.Store(StateStopped)

	return m, nil
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	if syncer, ok := m.logger.(interface{ Sync() error }); ok {
		// stdout/stderr return EINVAL on Sync for terminals; nothing to do about it.
		_ = syncer.Sync()
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	m.logger.ErrorWithErrStack(msg, err, fields...)
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
}
