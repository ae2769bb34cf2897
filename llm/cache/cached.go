package cache

import (
	"context"
	"time"

	"github.com/Axthefish/cogcoach/types"
)

// KeyFunc derives a cache key from a call's input.
type KeyFunc[A any] func(in A) string

// Cached wraps a call with key-derived memoization on the given stage
// cache.
func Cached[A any, T any](c *AIResponseCache, stage types.Stage, keyFn KeyFunc[A], ttl time.Duration, fn func(ctx context.Context, in A) (T, error)) func(ctx context.Context, in A) (T, error) {
	return CachedIf(c, stage, keyFn, ttl, nil, fn)
}

// CachedIf is Cached with a predicate: when cond returns false for an input,
// the call goes straight through without touching the cache.
func CachedIf[A any, T any](c *AIResponseCache, stage types.Stage, keyFn KeyFunc[A], ttl time.Duration, cond func(in A) bool, fn func(ctx context.Context, in A) (T, error)) func(ctx context.Context, in A) (T, error) {
	return func(ctx context.Context, in A) (T, error) {
		if cond != nil && !cond(in) {
			return fn(ctx, in)
		}

		key := keyFn(in)
		v, err := c.GetOrGenerate(ctx, stage, key, func(ctx context.Context) (any, error) {
			return fn(ctx, in)
		}, ttl)
		if err != nil {
			var zero T
			return zero, err
		}
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		// 命中了 Redis 回填的 map[string]any 等非原生类型时，直接重新生成，
		// 不让类型断言失败变成调用方错误。
		return fn(ctx, in)
	}
}
