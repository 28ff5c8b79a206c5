package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-backend/types"
)

const EnvAPIKey = "SAI_BACKEND_API_KEY"

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.Errorf(types.ErrConfigNotFound, "file: %s", configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	rawData := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &rawData); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	l.applyEnv(config)

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, rawData, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
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

func (l *Loader) applyEnv(config *types.ServiceConfig) {
	if key := os.Getenv(EnvAPIKey); key != "" && config.Backend != nil {
		config.Backend.APIKey = key
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-backend",
		Version: "1.0.0",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Backend: &types.BackendConfig{
			BaseURL:  "https://api.example.com",
			Platform: "go",
		},
		Transport: &types.TransportConfig{
			DefaultTimeout:  30 * time.Second,
			ReducedTimeout:  5 * time.Second,
			CoolDown:        10 * time.Minute,
			MaxConnsPerHost: 16,
		},
		Verification: &types.VerificationConfig{
			Mode: types.VerificationDisabled,
		},
		Resolver: &types.ResolverConfig{
			Type:    "system",
			Timeout: 3 * time.Second,
		},
		Cache: &types.CacheConfig{
			Type:   "leveldb",
			Config: map[string]interface{}{"path": "data/cache"},
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "noop",
		},
		Cron: &types.CronConfig{
			Enabled:   false,
			Timezone:  "UTC",
			PruneSpec: "@daily",
			MaxAge:    30 * 24 * time.Hour,
		},
		Dispatcher: &types.DispatcherConfig{
			JitterMax: 5 * time.Second,
		},
		Status: &types.StatusConfig{
			Enabled:      false,
			Host:         "127.0.0.1",
			Port:         9090,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			CheckTimeout: 5 * time.Second,
		},
	}
}
