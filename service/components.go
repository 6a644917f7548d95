package service

import (
	"context"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/cache"
	"github.com/pgcdha001/pgcdha-sub002/client"
	"github.com/pgcdha001/pgcdha-sub002/config"
	"github.com/pgcdha001/pgcdha-sub002/cron"
	"github.com/pgcdha001/pgcdha-sub002/engine"
	"github.com/pgcdha001/pgcdha-sub002/health"
	"github.com/pgcdha001/pgcdha-sub002/logger"
	"github.com/pgcdha001/pgcdha-sub002/metrics"
	"github.com/pgcdha001/pgcdha-sub002/middleware"
	"github.com/pgcdha001/pgcdha-sub002/server"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

// components is everything the service owns, built once from config.
// cron, health and correspondence are nil when disabled.
type components struct {
	config         *config.ConfigurationManager
	logger         *logger.Manager
	metrics        *metrics.PrometheusMetrics
	gateway        *client.Gateway
	enquiries      *engine.Engine
	correspondence *engine.CorrespondenceEngine
	stores         []io.Closer
	cron           *cron.Manager
	health         *health.Manager
	middlewares    *middleware.Manager
	router         *server.Router
	http           *server.FastHTTPServer
}

func buildComponents(ctx context.Context, configPath string) (c *components, err error) {
	c = &components{}

	c.config, err = config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}
	cfg := c.config.GetConfig()

	c.logger, err = logger.NewManager(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}
	log := types.Logger(c.logger)

	c.metrics = metrics.NewPrometheusMetrics(log, cfg.Metrics)
	c.gateway = client.NewGateway(log, c.metrics, cfg.Backend)

	defer func() {
		if err != nil {
			c.closeStores()
		}
	}()

	enquiryStore, err := cache.NewStore[analytics.ComprehensivePayload](ctx, cfg.Cache, engine.EnquiriesName, log, c.metrics)
	if err != nil {
		return nil, types.WrapError(err, "failed to create enquiry cache")
	}
	c.stores = append(c.stores, enquiryStore)
	c.enquiries = engine.New(log, c.metrics, c.gateway, enquiryStore, cfg.Estimation)

	warmers := []cron.Warmer{c.enquiries}

	if cfg.Engine != nil && cfg.Engine.Correspondence {
		store, err := cache.NewStore[analytics.CorrespondencePayload](ctx, cfg.Cache, engine.CorrespondenceName, log, c.metrics)
		if err != nil {
			return nil, types.WrapError(err, "failed to create correspondence cache")
		}
		c.stores = append(c.stores, store)
		c.correspondence = engine.NewCorrespondence(log, c.metrics, c.gateway, store)
		warmers = append(warmers, c.correspondence)
	}

	if cfg.Cron != nil && cfg.Cron.Enabled {
		c.cron = cron.NewManager(ctx, cfg.Cron, log, c.metrics)
		if err := c.cron.Add(cron.WarmJobName, cfg.Cron.WarmSpec, cron.WarmJob(log, warmers...)); err != nil {
			return nil, types.WrapError(err, "failed to schedule cache warm job")
		}
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		c.health = health.NewManager(ctx, types.ServiceInfo{
			Name:    cfg.Name,
			Version: cfg.Version,
			Host:    cfg.Server.HTTP.Host,
			Port:    cfg.Server.HTTP.Port,
		}, log)
		c.health.RegisterChecker(engine.EnquiriesName, health.EngineChecker(c.enquiries.Status))
		if c.correspondence != nil {
			c.health.RegisterChecker(engine.CorrespondenceName, health.EngineChecker(c.correspondence.Status))
		}
		c.health.RegisterChecker("backend", health.BreakerChecker(c.gateway.BreakerState))
	}

	c.middlewares = middleware.NewManager(ctx, cfg.Middlewares, log, c.metrics)
	if err := c.middlewares.RegisterMiddlewares(); err != nil {
		return nil, types.WrapError(err, "failed to register middlewares")
	}

	c.router = server.NewRouter()
	c.api(cfg).Register(c.router)
	c.http = server.NewHTTPServer(ctx, cfg.Server.HTTP, log, c.middlewares, c.router)

	log.Info("Service components initialized",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version),
		zap.String("cache", cfg.Cache.Type),
		zap.Bool("correspondence", c.correspondence != nil),
		zap.Bool("cron", c.cron != nil))

	return c, nil
}

func (c *components) api(cfg *types.ServiceConfig) *server.API {
	api := &server.API{
		Logger:         c.logger,
		Enquiries:      c.enquiries,
		BreakerState:   c.gateway.BreakerState,
		RequestTimeout: requestTimeout(cfg.Backend),
	}

	// Assigned only when set so the interface stays nil otherwise.
	if c.correspondence != nil {
		api.Correspondence = c.correspondence
	}
	if c.health != nil {
		api.Health = c.health.Handler()
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		api.Metrics = c.metrics.Handler()
		api.MetricsPath = cfg.Metrics.Path
	}

	return api
}

// requestTimeout is one backend call, retries included, plus headroom for
// deriving and writing the response.
func requestTimeout(backend *types.BackendConfig) time.Duration {
	timeout := backend.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return timeout + 5*time.Second
}

func (c *components) closeStores() error {
	var errs error
	for _, s := range c.stores {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}
