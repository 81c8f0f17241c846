package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/flowcore/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		KeyPrefix:  "test:",
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", time.Minute))

	value, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	// 键带有前缀
	assert.True(t, mr.Exists("test:k"))
	assert.False(t, mr.Exists("k"))
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, err := manager.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
	assert.True(t, IsCacheMiss(fmt.Errorf("wrapped: %w", err)))
}

func TestManager_DefaultAndPersistentTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "default", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("test:default"))

	require.NoError(t, manager.Set(ctx, "forever", "v", -1))
	assert.Equal(t, time.Duration(0), mr.TTL("test:forever"))

	require.NoError(t, manager.Set(ctx, "short", "v", 100*time.Millisecond))
	mr.FastForward(200 * time.Millisecond)
	_, err := manager.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	in := map[string]any{"answer": 42.0, "tags": []any{"a", "b"}}
	require.NoError(t, manager.SetJSON(ctx, "doc", in, time.Minute))

	var out map[string]any
	require.NoError(t, manager.GetJSON(ctx, "doc", &out))
	assert.Equal(t, in, out)

	require.NoError(t, manager.Set(ctx, "bad", "not json", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "bad", &out))

	assert.Error(t, manager.SetJSON(ctx, "chan", make(chan int), time.Minute))
}

func TestManager_DeleteAndExists(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, manager.Set(ctx, "b", "2", time.Minute))

	n, err := manager.Exists(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, manager.Delete(ctx, "a"))
	n, err = manager.Exists(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.NoError(t, manager.Delete(ctx))
}

func TestManager_DeletePattern(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, manager.Set(ctx, fmt.Sprintf("node:a:%d", i), "x", time.Minute))
	}
	require.NoError(t, manager.Set(ctx, "node:b:0", "x", time.Minute))
	require.NoError(t, mr.Set("other:node:a:9", "x"))

	deleted, err := manager.DeletePattern(ctx, "node:a:*")
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)

	n, err := manager.Exists(ctx, "node:b:0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, mr.Exists("other:node:a:9"), "keys outside the prefix are untouched")
}

func TestManager_Expire(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", -1))
	require.NoError(t, manager.Expire(ctx, "k", 5*time.Second))
	assert.Equal(t, 5*time.Second, mr.TTL("test:k"))
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrManagerClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrManagerClosed)
	_, err = manager.DeletePattern(ctx, "*")
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_ConnectFailure(t *testing.T) {
	manager, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_HealthCheckLoopStops(t *testing.T) {
	mr := miniredis.RunT(t)
	manager, err := NewManager(Config{Addr: mr.Addr(), HealthCheckInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, manager.Close())
}

func TestConfigFrom(t *testing.T) {
	rc := config.DefaultRedisConfig()
	rc.Addr = "redis:6379"
	cc := config.DefaultCacheConfig()
	cc.DefaultTTL = time.Hour

	cfg := ConfigFrom(rc, cc)
	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, time.Hour, cfg.DefaultTTL)
	assert.Equal(t, cc.KeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, rc.PoolSize, cfg.PoolSize)
}

func TestManager_ConcurrentOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-%d", id)
			assert.NoError(t, manager.Set(ctx, key, "value", time.Minute))
			value, err := manager.Get(ctx, key)
			assert.NoError(t, err)
			assert.Equal(t, "value", value)
		}(i)
	}
	wg.Wait()
}
