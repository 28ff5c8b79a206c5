package cache

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

const levelDBPrefix = "e:"

type LevelDBConfig struct {
	Path string `json:"path" yaml:"path"`
}

// LevelDBStore is the default durable store. An empty path opens an
// in-memory database.
type LevelDBStore struct {
	logger  types.Logger
	config  *LevelDBConfig
	db      *leveldb.DB
	running int32
}

func NewLevelDBStore(logger types.Logger, config interface{}) (*LevelDBStore, error) {
	ldbConfig := &LevelDBConfig{}

	if config != nil {
		if err := utils.UnmarshalConfig(config, ldbConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal leveldb store config")
		}
	}

	var db *leveldb.DB
	var err error
	if ldbConfig.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(ldbConfig.Path, nil)
	}
	if err != nil {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "leveldb %q: %v", ldbConfig.Path, err)
	}

	return &LevelDBStore{
		logger: logger,
		config: ldbConfig,
		db:     db,
	}, nil
}

func (l *LevelDBStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	value, err := l.db.Get([]byte(levelDBPrefix+key), nil)
	if err != nil {
		if types.IsError(err, leveldb.ErrNotFound) {
			return nil, types.ErrCacheNotFound
		}
		return nil, types.Errorf(types.ErrCacheOperationFailed, "get %s: %v", key, err)
	}

	return value, nil
}

func (l *LevelDBStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := l.db.Put([]byte(levelDBPrefix+key), value, nil); err != nil {
		l.logger.Error("Failed to write cache entry", zap.String("key", key), zap.Error(err))
		return types.Errorf(types.ErrCacheOperationFailed, "set %s: %v", key, err)
	}

	return nil
}

func (l *LevelDBStore) Delete(_ context.Context, key string) error {
	if err := l.db.Delete([]byte(levelDBPrefix+key), nil); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "delete %s: %v", key, err)
	}
	return nil
}

func (l *LevelDBStore) Keys(_ context.Context) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(levelDBPrefix)), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), []byte(levelDBPrefix))))
	}

	if err := it.Error(); err != nil {
		return nil, types.Errorf(types.ErrCacheOperationFailed, "iterate: %v", err)
	}

	return keys, nil
}

func (l *LevelDBStore) Start() error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (l *LevelDBStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&l.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return l.db.Close()
}

func (l *LevelDBStore) IsRunning() bool {
	return atomic.LoadInt32(&l.running) == 1
}
