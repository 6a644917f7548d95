package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrConfigInvalidPath, "file not found: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.Load(data)
}

// Load decodes YAML over Defaults and validates the result. ${VAR}
// references are expanded from the environment first so tokens can stay
// out of the file.
func (l *Loader) Load(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, types.WrapError(types.ErrConfigParseFailed, err.Error())
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(types.ErrConfigValidateFailed, err.Error())
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "principal-analytics",
		Version: "dev",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 10,
			},
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Backend: &types.BackendConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 12 * time.Second,
			Retries: 1,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Cache: &types.CacheConfig{
			Type: "memory",
			TTL:  5 * time.Minute,
		},
		Engine: &types.EngineConfig{
			Correspondence: true,
		},
		Estimation: &types.EstimationConfig{
			DaysPerYear:      365,
			DefaultBoysRatio: 0.6,
		},
		Cron: &types.CronConfig{
			Enabled:  false,
			Timezone: "UTC",
			WarmSpec: "0 */4 * * * *",
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "principal_analytics",
		},
		Health: &types.HealthConfig{
			Enabled: true,
		},
		Middlewares: &types.MiddlewaresConfig{
			Recovery: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  10,
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  20,
				Params: map[string]interface{}{
					"log_level": "info",
				},
			},
			RateLimit: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  30,
				Params: map[string]interface{}{
					"requests_per_minute": 6,
					"burst":               2,
				},
			},
			Compression: &types.MiddlewareItemConfig{
				Enabled: false,
				Weight:  90,
				Params: map[string]interface{}{
					"level":    4,
					"min_size": 1024,
				},
			},
		},
	}
}
