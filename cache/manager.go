package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/types"
)

var customStoreCreators = make(map[string]types.StoreCreator)

func RegisterStore(storeName string, creator types.StoreCreator) {
	customStoreCreators[storeName] = creator
}

// NewStore builds the persistent store named by config.Type and wraps it with
// operation metrics.
func NewStore(ctx context.Context, config *types.CacheConfig, logger types.Logger, metrics types.MetricsManager) (types.Store, error) {
	storeName := "memory"
	var storeConfig interface{}
	if config != nil {
		if config.Type != "" {
			storeName = config.Type
		}
		storeConfig = config.Config
	}

	var impl types.Store
	var err error

	switch storeName {
	case "memory":
		impl, err = NewMemoryStore(storeConfig)
	case "leveldb":
		impl, err = NewLevelDBStore(logger, storeConfig)
	case "file":
		impl, err = NewFileStore(logger, storeConfig)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, storeConfig)
	default:
		creator, exists := customStoreCreators[storeName]
		if !exists {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", storeName)
		}
		impl, err = creator(storeConfig)
	}

	if err != nil {
		return nil, err
	}

	logger.Debug("Cache store initialized", zap.String("type", storeName))

	return newInstrumentedStore(logger, metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.Store
	logger  types.Logger
	metrics types.MetricsManager
}

func newInstrumentedStore(logger types.Logger, metrics types.MetricsManager, impl types.Store) types.Store {
	return &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := is.impl.Get(ctx, key)

	result := "hit"
	switch {
	case types.IsError(err, types.ErrCacheNotFound):
		result = "miss"
	case err != nil:
		result = "error"
	}

	is.recordMetric("get", result, time.Since(start))
	return value, err
}

func (is *instrumentedStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := is.impl.Set(ctx, key, value)
	is.recordMetric("set", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := is.impl.Delete(ctx, key)
	is.recordMetric("delete", resultOf(err), time.Since(start))
	return err
}

func (is *instrumentedStore) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	keys, err := is.impl.Keys(ctx)
	is.recordMetric("keys", resultOf(err), time.Since(start))
	return keys, err
}

func (is *instrumentedStore) Start() error {
	return is.impl.Start()
}

func (is *instrumentedStore) Stop() error {
	return is.impl.Stop()
}

func (is *instrumentedStore) IsRunning() bool {
	return is.impl.IsRunning()
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	is.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	is.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
