package cache

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

type MemoryStoreConfig struct {
	Size int `json:"size" yaml:"size"`
}

// MemoryStore keeps entries in a bounded LRU. Entries do not survive a
// restart, so it is meant for tests and short-lived tools.
type MemoryStore struct {
	lru     *lru.Cache
	running int32
}

func NewMemoryStore(config interface{}) (*MemoryStore, error) {
	memConfig := &MemoryStoreConfig{Size: 1024}

	if config != nil {
		if err := utils.UnmarshalConfig(config, memConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory store config")
		}
	}

	cache, err := lru.New(memConfig.Size)
	if err != nil {
		return nil, types.WrapError(err, "failed to create lru cache")
	}

	return &MemoryStore{lru: cache}, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	value, ok := m.lru.Get(key)
	if !ok {
		return nil, types.ErrCacheNotFound
	}

	return value.([]byte), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.lru.Add(key, stored)

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	raw := m.lru.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys, nil
}

func (m *MemoryStore) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *MemoryStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	m.lru.Purge()
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}
