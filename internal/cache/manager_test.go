package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

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
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

type summary struct {
	SkillID     string  `json:"skill_id"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "skillflow:summary:fetch", "cached", time.Minute))

	value, err := manager.Get(ctx, "skillflow:summary:fetch")
	require.NoError(t, err)
	assert.Equal(t, "cached", value)
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	value, err := manager.Get(context.Background(), "skillflow:summary:absent")
	assert.True(t, IsCacheMiss(err))
	assert.Empty(t, value)
}

func TestManager_DefaultTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_Stats(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "hit", "1", 0))
	_, _ = manager.Get(ctx, "hit")
	_, _ = manager.Get(ctx, "hit")
	_, _ = manager.Get(ctx, "miss")

	assert.Equal(t, Stats{Hits: 2, Misses: 1}, manager.Stats())
}

func TestManager_HealthCheckStopsOnClose(t *testing.T) {
	mr := miniredis.RunT(t)
	manager, err := NewManager(Config{Addr: mr.Addr(), HealthCheckInterval: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		_ = manager.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on health check loop")
	}
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, manager.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, manager.Delete(ctx, "a", "b"))
	require.NoError(t, manager.Delete(ctx))

	_, err := manager.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSON(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	in := summary{SkillID: "fetch", Total: 12, SuccessRate: 0.75}
	require.NoError(t, manager.SetJSON(ctx, "skillflow:summary:fetch", in, time.Minute))

	var out summary
	require.NoError(t, manager.GetJSON(ctx, "skillflow:summary:fetch", &out))
	assert.Equal(t, in, out)

	assert.Error(t, manager.SetJSON(ctx, "bad", make(chan int), time.Minute))

	require.NoError(t, manager.Set(ctx, "not-json", "{", time.Minute))
	assert.Error(t, manager.GetJSON(ctx, "not-json", &out))
}

func TestManager_PushCapped(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, manager.PushCapped(ctx, "skillflow:alerts", fmt.Sprintf("alert-%d", i), 3))
	}

	vals, err := manager.Range(ctx, "skillflow:alerts", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alert-4", "alert-3", "alert-2"}, vals)

	vals, err = manager.Range(ctx, "skillflow:alerts", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alert-4"}, vals)
}

func TestManager_PushJSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.PushJSON(ctx, "skillflow:alerts", summary{SkillID: "fetch"}, 0))

	list, err := mr.List("skillflow:alerts")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `{"skill_id":"fetch","total":0,"success_rate":0}`, list[0])
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err := manager.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.PushCapped(ctx, "l", "v", 1), ErrClosed)
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
}

func TestManager_ConnectFailure(t *testing.T) {
	manager, err := NewManager(Config{Addr: "127.0.0.1:1"}, nil)
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_ConcurrentPush(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, manager.PushCapped(ctx, "skillflow:alerts", fmt.Sprint(id), 10))
		}(i)
	}
	wg.Wait()

	vals, err := manager.Range(ctx, "skillflow:alerts", 0)
	require.NoError(t, err)
	assert.Len(t, vals, 10)
}
