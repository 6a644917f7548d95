// Package service wires configuration, caches, engines and the HTTP API
// into one process and runs it until a signal or context cancellation.
package service

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pgcdha001/pgcdha-sub002/engine"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
	components      *components
}

// NewService builds every component from configPath. An empty path runs
// on built-in defaults.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, types.WrapError(err, "file does not exist")
		}
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	c, err := buildComponents(serviceCtx, configPath)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build components")
	}

	service := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
		components:      c,
	}

	service.state.Store(StateStopped)

	return service, nil
}

// Start runs the service and blocks until it has stopped.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger().Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = types.Errorf(types.ErrInternalError, "service panic: %v", r)
				s.logger().Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger().Info("Starting service")

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		_ = s.stopComponents()
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.wg.Add(1)
	go s.warmUp()

	s.logger().Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger().Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger().Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger().Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger().Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

// Close releases the cache connections of a service that was never
// started. A started service releases them itself on shutdown.
func (s *Service) Close() error {
	s.cancel()
	return s.components.closeStores()
}

func (s *Service) Config() *types.ServiceConfig {
	return s.components.config.GetConfig()
}

func (s *Service) Enquiries() *engine.Engine {
	return s.components.enquiries
}

// Correspondence is nil when the correspondence engine is disabled.
func (s *Service) Correspondence() *engine.CorrespondenceEngine {
	return s.components.correspondence
}

func (s *Service) Logger() types.Logger {
	return s.logger()
}

func (s *Service) logger() types.Logger {
	return s.components.logger
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// startComponents brings up logging first and the HTTP server last, so
// nothing is served before its dependencies run. Only a logger or server
// failure aborts startup.
func (s *Service) startComponents(ctx context.Context) error {
	c := s.components
	cfg := c.config.GetConfig()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := c.logger.Start(); err != nil {
			return types.WrapError(err, "failed to start logger")
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := c.metrics.Start(); err != nil {
					s.logger().Error("Failed to start metrics manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	if c.health != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := c.health.Start(); err != nil {
					s.logger().Error("Failed to start health manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return err
		}
	}

	if err := c.http.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	if c.cron != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.cron.Start(); err != nil {
				s.logger().Error("Failed to start cron manager", zap.Error(err))
			}
		}
	}

	s.logger().Info("All components started successfully")
	return nil
}

func (s *Service) stopComponents() error {
	c := s.components

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs error

	s.logger().Info("Stopping service components...")

	g, gCtx := errgroup.WithContext(ctx)

	if c.cron != nil && c.cron.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := c.cron.Stop(); err != nil {
					s.logger().Error("Failed to stop cron manager", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if c.http.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := c.http.Stop(); err != nil {
					s.logger().Error("Failed to stop HTTP server", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger().Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = multierr.Append(errs, err)
		}
	}

	if c.health != nil && c.health.IsRunning() {
		if err := c.health.Stop(); err != nil {
			s.logger().Error("Failed to stop health manager", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	if c.metrics.IsRunning() {
		if err := c.metrics.Stop(); err != nil {
			s.logger().Error("Failed to stop metrics manager", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	if err := c.closeStores(); err != nil {
		s.logger().Error("Failed to close cache stores", zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	if errs == nil {
		s.logger().Info("All components stopped successfully")
	}

	if c.logger.IsRunning() {
		errs = multierr.Append(errs, c.logger.Stop())
	}

	return errs
}

// warmUp loads every engine once so the first request is served from
// cache. Failures are already logged by the engines.
func (s *Service) warmUp() {
	defer s.wg.Done()

	var g errgroup.Group

	g.Go(func() error {
		res := s.components.enquiries.Load(s.ctx, false)
		return res.Err
	})
	if s.components.correspondence != nil {
		g.Go(func() error {
			res := s.components.correspondence.Load(s.ctx, false)
			return res.Err
		})
	}

	if err := g.Wait(); err != nil && !types.IsCanceled(err) {
		s.logger().Warn("Initial load incomplete", zap.Error(err))
		return
	}

	s.logger().Info("Initial load finished",
		zap.Uint64("generation", s.components.enquiries.Generation()),
		zap.Stringer("state", s.components.enquiries.State()))
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()

	<-s.ctx.Done()
	s.transitionState(StateRunning, StateStopping)
	close(s.done)
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger().Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.logger().Info("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}
