// Package cogcoach provides a top-level convenience entry point wiring the
// coaching pipeline together with minimal boilerplate.
//
// Usage:
//
//	import "github.com/Axthefish/cogcoach"
//
//	coach, err := cogcoach.New(cogcoach.WithClient(myClient))
//	out, err := workflow.RunStage[quality.RefinedGoal](ctx, coach.Runner(), req, nil)
//
// All components (compactor, retry engine, response cache, metrics) can also
// be constructed and wired individually; this package is the batteries-included
// path.
package cogcoach

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/Axthefish/cogcoach/config"
	"github.com/Axthefish/cogcoach/internal/metrics"
	"github.com/Axthefish/cogcoach/internal/telemetry"
	"github.com/Axthefish/cogcoach/llm"
	"github.com/Axthefish/cogcoach/llm/cache"
	llmcontext "github.com/Axthefish/cogcoach/llm/context"
	"github.com/Axthefish/cogcoach/llm/retry"
	"github.com/Axthefish/cogcoach/llm/tokenizer"
	"github.com/Axthefish/cogcoach/types"
	"github.com/Axthefish/cogcoach/workflow"
)

// Coach 是流水线各组件装配完成后的门面。
type Coach struct {
	cfg       *config.Config
	logger    *zap.Logger
	compactor *llmcontext.Manager
	engine    *retry.Engine
	cache     *cache.AIResponseCache
	collector *metrics.Collector
	runner    *workflow.Runner

	telemetryShutdown func(context.Context) error
	closeOnce         sync.Once
}

// Option configures a Coach.
type Option func(*builder)

type builder struct {
	cfg      *config.Config
	client   llm.Client
	logger   *zap.Logger
	rdb      *redis.Client
	registry prometheus.Registerer
	noCache  bool
}

// WithClient sets the LLM client. Required.
func WithClient(c llm.Client) Option {
	return func(b *builder) { b.client = c }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(b *builder) { b.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *builder) { b.logger = l }
}

// WithRedis enables the Redis second-level response cache.
func WithRedis(rdb *redis.Client) Option {
	return func(b *builder) { b.rdb = rdb }
}

// WithMetricsRegistry registers collectors on reg instead of the default
// Prometheus registry. Pass nil to keep metrics unregistered (tests).
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(b *builder) { b.registry = reg }
}

// WithoutCache disables the response cache entirely.
func WithoutCache() Option {
	return func(b *builder) { b.noCache = true }
}

// New assembles a Coach from the given options.
func New(opts ...Option) (*Coach, error) {
	b := &builder{registry: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		return nil, fmt.Errorf("cogcoach: an LLM client is required, use WithClient")
	}
	if b.cfg == nil {
		b.cfg = config.DefaultConfig()
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		var err error
		logger, err = newLogger(b.cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("cogcoach: build logger: %w", err)
		}
	}

	collector := metrics.NewCollector("cogcoach", b.registry, logger)

	estimator := tokenizer.NewEstimator(b.cfg.TokenizerRatios())
	compactor := llmcontext.NewManager(
		b.cfg.CompactorSettings(),
		estimator,
		summarizer(b.client),
		logger,
	)

	engineOpts := []retry.Option{
		retry.WithPolicy(b.cfg.RetryPolicy()),
		retry.WithCollector(collector),
		retry.WithLogger(logger),
	}
	if b.cfg.RateLimit.RPS > 0 {
		engineOpts = append(engineOpts,
			retry.WithRateLimiter(rate.NewLimiter(rate.Limit(b.cfg.RateLimit.RPS), b.cfg.RateLimit.Burst)))
	}
	engine := retry.NewEngine(b.client, engineOpts...)

	var responseCache *cache.AIResponseCache
	if !b.noCache {
		cacheOpts := []cache.CacheOption{cache.WithCollector(collector)}
		rdb := b.rdb
		if rdb == nil && b.cfg.Redis.Enabled {
			rdb = redis.NewClient(&redis.Options{
				Addr:     b.cfg.Redis.Addr,
				Password: b.cfg.Redis.Password,
				DB:       b.cfg.Redis.DB,
				PoolSize: b.cfg.Redis.PoolSize,
			})
		}
		if rdb != nil {
			cacheOpts = append(cacheOpts, cache.WithRedis(rdb))
		}
		responseCache = cache.NewAIResponseCache(b.cfg.CacheSettings(), logger, cacheOpts...)
	}

	runner := workflow.NewRunner(compactor, engine, responseCache,
		workflow.WithCollector(collector),
		workflow.WithLogger(logger),
	)

	c := &Coach{
		cfg:       b.cfg,
		logger:    logger,
		compactor: compactor,
		engine:    engine,
		cache:     responseCache,
		collector: collector,
		runner:    runner,
	}

	if b.cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig()
		tcfg.Endpoint = b.cfg.Telemetry.OTLPEndpoint
		tcfg.ServiceName = b.cfg.Telemetry.ServiceName
		tcfg.SampleRatio = b.cfg.Telemetry.SampleRate
		shutdown, err := telemetry.Init(context.Background(), tcfg, logger)
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		} else {
			c.telemetryShutdown = shutdown
		}
	}

	return c, nil
}

var (
	defaultOnce  sync.Once
	defaultCoach *Coach
	defaultErr   error
)

// Default returns the process-wide Coach, assembling it from opts on the
// first call. Later calls return the same instance and ignore opts. Prefer
// New for anything beyond a single process-entry wiring point.
func Default(opts ...Option) (*Coach, error) {
	defaultOnce.Do(func() {
		defaultCoach, defaultErr = New(opts...)
	})
	return defaultCoach, defaultErr
}

// Runner returns the stage pipeline runner.
func (c *Coach) Runner() *workflow.Runner { return c.runner }

// Compactor returns the conversation compaction manager.
func (c *Coach) Compactor() *llmcontext.Manager { return c.compactor }

// Engine returns the retry engine.
func (c *Coach) Engine() *retry.Engine { return c.engine }

// Cache returns the response cache, or nil when caching is disabled.
func (c *Coach) Cache() *cache.AIResponseCache { return c.cache }

// Health reports per-stage cache health. Empty when caching is disabled.
func (c *Coach) Health() map[types.Stage]cache.HealthStatus {
	if c.cache == nil {
		return nil
	}
	return c.cache.Health()
}

// Close stops background tasks and flushes telemetry. Safe to call more
// than once.
func (c *Coach) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if c.cache != nil {
			c.cache.Shutdown()
		}
		if c.telemetryShutdown != nil {
			err = c.telemetryShutdown(ctx)
		}
		_ = c.logger.Sync()
	})
	return err
}

// summarizer adapts the client into the compactor's summary hook. Summaries
// run on the lite tier with a low temperature.
func summarizer(client llm.Client) llmcontext.SummaryFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return client.Generate(ctx, prompt, llm.GenerateConfig{
			Temperature:     0.3,
			MaxOutputTokens: maxTokens,
		}, types.TierLite, types.StageGoalRefinement)
	}
}

// newLogger builds a zap logger from the log config.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
