package cache

import (
	stdctx "context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Axthefish/cogcoach/types"
)

func newTestResponseCache(t *testing.T, opts ...CacheOption) *AIResponseCache {
	t.Helper()
	c := NewAIResponseCache(DefaultConfig(), zap.NewNop(), opts...)
	t.Cleanup(c.Shutdown)
	return c
}

func TestAIResponseCache_SetGet(t *testing.T) {
	c := newTestResponseCache(t)
	ctx := stdctx.Background()

	c.Set(ctx, types.StageActionPlan, "key-1", "plan body", 0)

	got, ok := c.Get(ctx, types.StageActionPlan, "key-1")
	require.True(t, ok)
	assert.Equal(t, "plan body", got)

	// Other stages are fully isolated.
	_, ok = c.Get(ctx, types.StageGoalRefinement, "key-1")
	assert.False(t, ok)
}

func TestAIResponseCache_GetOrGenerate(t *testing.T) {
	c := newTestResponseCache(t)
	ctx := stdctx.Background()

	var calls atomic.Int32
	gen := func(ctx stdctx.Context) (any, error) {
		calls.Add(1)
		return "generated", nil
	}

	v, err := c.GetOrGenerate(ctx, types.StageActionPlan, "k", gen, 0)
	require.NoError(t, err)
	assert.Equal(t, "generated", v)

	v, err = c.GetOrGenerate(ctx, types.StageActionPlan, "k", gen, 0)
	require.NoError(t, err)
	assert.Equal(t, "generated", v)
	assert.EqualValues(t, 1, calls.Load(), "second call must be served from cache")
}

func TestAIResponseCache_GetOrGenerate_ErrorNotCached(t *testing.T) {
	c := newTestResponseCache(t)
	ctx := stdctx.Background()

	var calls atomic.Int32
	_, err := c.GetOrGenerate(ctx, types.StageActionPlan, "k", func(ctx stdctx.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("provider down")
	}, 0)
	require.Error(t, err)

	v, err := c.GetOrGenerate(ctx, types.StageActionPlan, "k", func(ctx stdctx.Context) (any, error) {
		calls.Add(1)
		return "recovered", nil
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestAIResponseCache_GetOrGenerate_ConcurrentMissesDeduplicated(t *testing.T) {
	c := newTestResponseCache(t)
	ctx := stdctx.Background()

	var calls atomic.Int32
	gen := func(ctx stdctx.Context) (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond) // hold the flight open
		return "one result", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrGenerate(ctx, types.StageActionPlan, "hot-key", gen, 0)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent misses for one key must run the generator once")
	for _, v := range results {
		assert.Equal(t, "one result", v)
	}
}

func TestAIResponseCache_RedisSecondLevel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	c := newTestResponseCache(t, WithRedis(rdb))
	ctx := stdctx.Background()

	c.Set(ctx, types.StageKnowledgeFrame, "k", "framework body", time.Minute)

	// Written through to Redis under the namespaced key.
	assert.True(t, mr.Exists("cogcoach:response:k"))

	// Wipe the local tier; the value must come back from Redis and backfill.
	c.Stage(types.StageKnowledgeFrame).Clear()
	got, ok := c.Get(ctx, types.StageKnowledgeFrame, "k")
	require.True(t, ok)
	assert.Equal(t, "framework body", got)
	assert.True(t, c.Stage(types.StageKnowledgeFrame).Has("k"), "redis hit must backfill the local tier")
}

func TestAIResponseCache_RedisDownDegradesToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	c := newTestResponseCache(t, WithRedis(rdb))
	ctx := stdctx.Background()

	c.Set(ctx, types.StageActionPlan, "k", "local value", time.Minute)
	got, ok := c.Get(ctx, types.StageActionPlan, "k")
	require.True(t, ok)
	assert.Equal(t, "local value", got)
}

func TestAIResponseCache_Health(t *testing.T) {
	c := newTestResponseCache(t)

	health := c.Health()
	require.Len(t, health, len(types.Stages))
	for _, stage := range types.Stages {
		assert.Equal(t, HealthHealthy, health[stage].Level)
	}
}

func TestAIResponseCache_ShutdownIdempotent(t *testing.T) {
	c := NewAIResponseCache(DefaultConfig(), zap.NewNop())
	c.Shutdown()
	c.Shutdown() // must not panic or block
}
