package types

import (
	"time"
)

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger" validate:"required"`
	Backend     *BackendConfig     `yaml:"backend" json:"backend" validate:"required"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache" validate:"required"`
	Engine      *EngineConfig      `yaml:"engine" json:"engine"`
	Estimation  *EstimationConfig  `yaml:"estimation" json:"estimation" validate:"required"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http" validate:"required"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

// BackendConfig describes the school administration API the aggregation
// endpoints are read from.
type BackendConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	Token          string                `yaml:"token" json:"token"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout" validate:"min=10s,max=15s"`
	Retries        int                   `yaml:"retries" json:"retries" validate:"min=0,max=5"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests" validate:"min=0"`
}

type CacheConfig struct {
	Type  string        `yaml:"type" json:"type" validate:"oneof=memory redis"`
	TTL   time.Duration `yaml:"ttl" json:"ttl" validate:"gt=0"`
	Redis *RedisConfig  `yaml:"redis" json:"redis" validate:"required_if=Type redis"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr" json:"addr" validate:"required"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db" validate:"min=0"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix"`
}

type EngineConfig struct {
	Correspondence bool `yaml:"correspondence" json:"correspondence"`
}

// EstimationConfig tunes the proportional custom-range fallback.
type EstimationConfig struct {
	DaysPerYear      int     `yaml:"days_per_year" json:"days_per_year" validate:"min=1"`
	DefaultBoysRatio float64 `yaml:"default_boys_ratio" json:"default_boys_ratio" validate:"gte=0,lte=1"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
	WarmSpec string `yaml:"warm_spec" json:"warm_spec" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Path            string            `yaml:"path" json:"path"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type MiddlewaresConfig struct {
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}
