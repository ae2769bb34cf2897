package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Axthefish/cogcoach/internal/metrics"
	"github.com/Axthefish/cogcoach/types"
)

// StageTTLs 各阶段的缓存 TTL。进展分析的数据变化快，TTL 最短；
// 知识框架一旦生成就很稳定，TTL 最长。
type StageTTLs struct {
	GoalRefinement   time.Duration `yaml:"goal_refinement" json:"goal_refinement"`
	KnowledgeFrame   time.Duration `yaml:"knowledge_frame" json:"knowledge_frame"`
	SystemDynamics   time.Duration `yaml:"system_dynamics" json:"system_dynamics"`
	ActionPlan       time.Duration `yaml:"action_plan" json:"action_plan"`
	ProgressAnalysis time.Duration `yaml:"progress_analysis" json:"progress_analysis"`
}

// DefaultStageTTLs returns the stage-appropriate defaults.
func DefaultStageTTLs() StageTTLs {
	return StageTTLs{
		GoalRefinement:   15 * time.Minute,
		KnowledgeFrame:   60 * time.Minute,
		SystemDynamics:   30 * time.Minute,
		ActionPlan:       30 * time.Minute,
		ProgressAnalysis: 5 * time.Minute,
	}
}

func (t StageTTLs) ttlFor(stage types.Stage) time.Duration {
	switch stage {
	case types.StageGoalRefinement:
		return t.GoalRefinement
	case types.StageKnowledgeFrame:
		return t.KnowledgeFrame
	case types.StageSystemDynamics:
		return t.SystemDynamics
	case types.StageActionPlan:
		return t.ActionPlan
	case types.StageProgressAnalysis:
		return t.ProgressAnalysis
	default:
		return 15 * time.Minute
	}
}

// Config AIResponseCache 配置。
type Config struct {
	// CapacityPerStage 每个阶段缓存的条目上限。
	CapacityPerStage int `yaml:"capacity_per_stage" json:"capacity_per_stage"`
	// TTLs 各阶段 TTL。
	TTLs StageTTLs `yaml:"ttls" json:"ttls"`
	// HeapLimitBytes 触发紧急清理的堆阈值（0 = 100MB）。
	HeapLimitBytes uint64 `yaml:"heap_limit_bytes" json:"heap_limit_bytes"`
	// KeyBucket 缓存键时间桶宽度（0 = 5 分钟）。
	KeyBucket time.Duration `yaml:"key_bucket" json:"key_bucket"`
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		CapacityPerStage: 200,
		TTLs:             DefaultStageTTLs(),
	}
}

// AIResponseCache owns one Service per workflow stage plus the shared
// maintenance task, key generator, and an optional Redis second level.
type AIResponseCache struct {
	services   map[types.Stage]*Service
	ttls       StageTTLs
	keys       *KeyGenerator
	monitor    *MemoryMonitor
	maintainer *Maintainer
	group      singleflight.Group
	collector  *metrics.Collector
	rdb        *redis.Client // 可为 nil：仅本地缓存
	logger     *zap.Logger

	shutdownOnce sync.Once
}

// CacheOption configures an AIResponseCache.
type CacheOption func(*AIResponseCache)

// WithRedis enables the Redis second level. Redis failures degrade to
// local-only behavior, they never fail a lookup.
func WithRedis(rdb *redis.Client) CacheOption {
	return func(c *AIResponseCache) { c.rdb = rdb }
}

// WithCollector sets the metrics collector.
func WithCollector(m *metrics.Collector) CacheOption {
	return func(c *AIResponseCache) { c.collector = m }
}

// NewAIResponseCache creates the per-stage caches and starts maintenance.
// Call Shutdown when done to stop the background task.
func NewAIResponseCache(cfg Config, logger *zap.Logger, opts ...CacheOption) *AIResponseCache {
	if cfg.CapacityPerStage <= 0 {
		cfg.CapacityPerStage = DefaultConfig().CapacityPerStage
	}
	zero := StageTTLs{}
	if cfg.TTLs == zero {
		cfg.TTLs = DefaultStageTTLs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &AIResponseCache{
		services: make(map[types.Stage]*Service, len(types.Stages)),
		ttls:     cfg.TTLs,
		keys:     NewKeyGenerator(cfg.KeyBucket),
		monitor:  NewMemoryMonitor(cfg.HeapLimitBytes),
		logger:   logger.With(zap.String("component", "ai-response-cache")),
	}
	for _, stage := range types.Stages {
		c.services[stage] = NewService(cfg.CapacityPerStage, cfg.TTLs.ttlFor(stage), logger).
			WithMonitor(c.monitor)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.maintainer = NewMaintainer(c.allServices, c.monitor, logger)
	c.maintainer.Start()
	return c
}

func (c *AIResponseCache) allServices() []*Service {
	out := make([]*Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, s)
	}
	return out
}

// Stage returns the cache service for one stage.
func (c *AIResponseCache) Stage(stage types.Stage) *Service {
	return c.services[stage]
}

// Keys returns the key generator.
func (c *AIResponseCache) Keys() *KeyGenerator {
	return c.keys
}

// Get checks local then Redis. Redis hits are backfilled into the local tier.
func (c *AIResponseCache) Get(ctx context.Context, stage types.Stage, key string) (any, bool) {
	svc, ok := c.services[stage]
	if !ok {
		return nil, false
	}
	if v, hit := svc.Get(key); hit {
		c.observe(stage, true)
		return v, true
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, c.redisKey(key)).Bytes()
		if err == nil {
			var v any
			if jerr := json.Unmarshal(data, &v); jerr == nil {
				svc.SetWithTTL(key, v, c.ttls.ttlFor(stage))
				c.observe(stage, true)
				return v, true
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get failed", zap.Error(err))
		}
	}

	c.observe(stage, false)
	return nil, false
}

// Set writes through to both tiers.
func (c *AIResponseCache) Set(ctx context.Context, stage types.Stage, key string, value any, ttl time.Duration) {
	svc, ok := c.services[stage]
	if !ok {
		return
	}
	if ttl <= 0 {
		ttl = c.ttls.ttlFor(stage)
	}
	svc.SetWithTTL(key, value, ttl)

	if c.rdb != nil {
		data, err := json.Marshal(value)
		if err != nil {
			return
		}
		if err := c.rdb.Set(ctx, c.redisKey(key), data, ttl).Err(); err != nil {
			c.logger.Warn("redis set failed", zap.Error(err))
		}
	}
}

// GetOrGenerate is the standard memoized-call idiom: return the cached value
// when present, otherwise invoke generator once (concurrent misses for the
// same key are deduplicated), store, and return. Generator errors are
// propagated and nothing is cached.
func (c *AIResponseCache) GetOrGenerate(ctx context.Context, stage types.Stage, key string, generator func(ctx context.Context) (any, error), ttl time.Duration) (any, error) {
	if v, ok := c.Get(ctx, stage, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(string(stage)+":"+key, func() (any, error) {
		// 双查：singleflight 排队期间可能已有完成者写入。
		if v, ok := c.Get(ctx, stage, key); ok {
			return v, nil
		}
		v, err := generator(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, stage, key, v, ttl)
		return v, nil
	})
	return v, err
}

// Health reports every stage cache's health status.
func (c *AIResponseCache) Health() map[types.Stage]HealthStatus {
	out := make(map[types.Stage]HealthStatus, len(c.services))
	for stage, svc := range c.services {
		out[stage] = svc.HealthStatus()
	}
	return out
}

// Shutdown stops the maintenance task. Guarded so repeated calls (signal
// handler plus deferred cleanup) run it exactly once.
func (c *AIResponseCache) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.maintainer.Stop()
		c.logger.Info("response cache shut down")
	})
}

func (c *AIResponseCache) observe(stage types.Stage, hit bool) {
	if c.collector == nil {
		return
	}
	if hit {
		c.collector.IncCacheHit(string(stage))
	} else {
		c.collector.IncCacheMiss(string(stage))
	}
}

func (c *AIResponseCache) redisKey(key string) string {
	return "cogcoach:response:" + key
}
