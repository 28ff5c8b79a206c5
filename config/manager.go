package config

import (
	"context"
	"sync"
	"time"

	"github.com/saiset-co/sai-backend/types"
)

type ConfigurationManager struct {
	configPath  string
	loader      *Loader
	mu          sync.RWMutex
	config      *types.ServiceConfig
	parser      *Parser
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(ctx); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

func (cm *ConfigurationManager) Load(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, cm.loadTimeout)
	defer cancel()

	config, rawData, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config = config
	cm.parser = NewParser(rawData)

	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.parser == nil {
		return defaultValue
	}
	return cm.parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.parser == nil {
		return types.ErrConfigIsNil
	}
	return cm.parser.GetAs(path, target)
}
