package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgcdha001/pgcdha-sub002/types"
)

type ConfigurationManager struct {
	ctx         context.Context
	config      atomic.Pointer[types.ServiceConfig]
	configPath  string
	loader      *Loader
	mu          sync.Mutex
	loadTimeout time.Duration
}

// NewConfigurationManager loads configPath, or falls back to validated
// defaults when configPath is empty.
func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		ctx:         ctx,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if configPath == "" {
		defaults := cm.loader.Defaults()
		if err := cm.loader.Validate(defaults); err != nil {
			return nil, err
		}
		cm.config.Store(defaults)
		return cm, nil
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// Load re-reads the file. A failed reload leaves the previous config in
// place.
func (cm *ConfigurationManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.config.Store(config)

	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) Path() string {
	return cm.configPath
}
