package metrics

import (
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/types"
)

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

// NewManager returns the configured metrics backend. A disabled or missing
// configuration yields in-memory metrics so callers never nil-check.
func NewManager(config *types.MetricsConfig, logger types.Logger) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return NewMemoryMetrics(), nil
	}

	var manager types.MetricsManager
	var err error

	switch config.Type {
	case "memory", "noop":
		manager = NewMemoryMetrics()
	case "prometheus":
		manager, err = NewPrometheusMetrics(logger, config)
	default:
		creator, exists := customMetricsCreators.Load(config.Type)
		if !exists {
			return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
		}
		manager, err = creator.(types.MetricsManagerCreator)(config)
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	logger.Debug("Metrics manager initialized", zap.String("type", config.Type))

	return manager, nil
}
