package cache

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-backend/logger"
	"github.com/saiset-co/sai-backend/metrics"
	"github.com/saiset-co/sai-backend/types"
)

func storeFactories(t *testing.T) map[string]func() types.Store {
	t.Helper()
	log := logger.NewNop()

	return map[string]func() types.Store{
		"memory": func() types.Store {
			s, err := NewMemoryStore(nil)
			require.NoError(t, err)
			return s
		},
		"leveldb": func() types.Store {
			s, err := NewLevelDBStore(log, nil)
			require.NoError(t, err)
			return s
		},
		"leveldb-file": func() types.Store {
			s, err := NewLevelDBStore(log, map[string]interface{}{"path": t.TempDir()})
			require.NoError(t, err)
			return s
		},
		"file": func() types.Store {
			s, err := NewFileStore(log, map[string]interface{}{"dir": t.TempDir()})
			require.NoError(t, err)
			return s
		},
		"redis": func() types.Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), log, map[string]interface{}{
				"host": mr.Host(),
				"port": mustPort(t, mr.Port()),
			})
			require.NoError(t, err)
			return s
		},
	}
}

func mustPort(t *testing.T, port string) int {
	t.Helper()
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}

func TestStores(t *testing.T) {
	ctx := context.Background()

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			require.NoError(t, s.Start())
			defer func() { _ = s.Stop() }()

			_, err := s.Get(ctx, "etag:missing")
			assert.ErrorIs(t, err, types.ErrCacheNotFound)

			assert.ErrorIs(t, s.Set(ctx, "", []byte("x")), types.ErrCacheKeyEmpty)

			require.NoError(t, s.Set(ctx, "etag:a", []byte("one")))
			require.NoError(t, s.Set(ctx, "etag:b", []byte("two")))
			require.NoError(t, s.Set(ctx, "etag:a", []byte("three")))

			got, err := s.Get(ctx, "etag:a")
			require.NoError(t, err)
			assert.Equal(t, []byte("three"), got)

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"etag:a", "etag:b"}, keys)

			require.NoError(t, s.Delete(ctx, "etag:a"))
			require.NoError(t, s.Delete(ctx, "etag:a"))
			_, err = s.Get(ctx, "etag:a")
			assert.ErrorIs(t, err, types.ErrCacheNotFound)
		})
	}
}

func TestLevelDBStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log := logger.NewNop()

	s, err := NewLevelDBStore(log, map[string]interface{}{"path": dir})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Set(ctx, "etag:persisted", []byte("body")))
	require.NoError(t, s.Stop())

	reopened, err := NewLevelDBStore(log, map[string]interface{}{"path": dir})
	require.NoError(t, err)
	require.NoError(t, reopened.Start())
	defer func() { _ = reopened.Stop() }()

	got, err := reopened.Get(ctx, "etag:persisted")
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got)
}

func TestNewStoreInstrumentsOperations(t *testing.T) {
	ctx := context.Background()
	mm := metrics.NewMemoryMetrics()

	s, err := NewStore(ctx, &types.CacheConfig{Type: "memory"}, logger.NewNop(), mm)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	_, _ = s.Get(ctx, "k")
	_, _ = s.Get(ctx, "missing")

	assert.Equal(t, 1.0, mm.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"}).Get())
	assert.Equal(t, 1.0, mm.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "miss"}).Get())
	assert.Equal(t, 1.0, mm.Counter("cache_operations_total", map[string]string{"operation": "set", "result": "success"}).Get())
}

func TestNewStoreUnknownType(t *testing.T) {
	_, err := NewStore(context.Background(), &types.CacheConfig{Type: "etcd"}, logger.NewNop(), metrics.NewMemoryMetrics())
	assert.ErrorIs(t, err, types.ErrCacheTypeUnknown)
}
