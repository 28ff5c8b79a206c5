package cache

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dchest/safefile"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

const fileStoreExt = ".cache"

type FileStoreConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// FileStore keeps one file per key. Writes go through a temporary file and a
// rename, so a reader sees either the previous or the new contents.
type FileStore struct {
	logger  types.Logger
	dir     string
	running int32
}

func NewFileStore(logger types.Logger, config interface{}) (*FileStore, error) {
	fileConfig := &FileStoreConfig{}

	if config != nil {
		if err := utils.UnmarshalConfig(config, fileConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal file store config")
		}
	}

	if fileConfig.Dir == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "file store dir is empty")
	}

	if err := os.MkdirAll(fileConfig.Dir, 0o755); err != nil {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "create %s: %v", fileConfig.Dir, err)
	}

	return &FileStore{logger: logger, dir: fileConfig.Dir}, nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrCacheNotFound
		}
		return nil, types.Errorf(types.ErrCacheOperationFailed, "read %s: %v", key, err)
	}

	return data, nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if err := safefile.WriteFile(f.pathFor(key), value, 0o644); err != nil {
		return types.Errorf(types.ErrCacheOperationFailed, "write %s: %v", key, err)
	}

	return nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(f.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return types.Errorf(types.ErrCacheOperationFailed, "delete %s: %v", key, err)
	}
	return nil
}

func (f *FileStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, types.Errorf(types.ErrCacheOperationFailed, "list %s: %v", f.dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileStoreExt) {
			continue
		}

		decoded, err := hex.DecodeString(strings.TrimSuffix(name, fileStoreExt))
		if err != nil {
			continue
		}
		keys = append(keys, string(decoded))
	}

	return keys, nil
}

func (f *FileStore) Start() error {
	if !atomic.CompareAndSwapInt32(&f.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (f *FileStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&f.running, 1, 0) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (f *FileStore) IsRunning() bool {
	return atomic.LoadInt32(&f.running) == 1
}

func (f *FileStore) pathFor(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+fileStoreExt)
}
