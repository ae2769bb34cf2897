// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.uber.org/zap"
)

// Collector 指标收集器。
type Collector struct {
	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 重试指标
	retryAttemptsTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 压缩指标
	compactionRatio prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg（nil 时不注册，便于测试）。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM generation requests",
		},
		[]string{"stage", "tier", "outcome"},
	)

	c.llmRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM generation request duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 60, 120, 180},
		},
		[]string{"stage", "tier"},
	)

	c.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total tokens consumed, by direction",
		},
		[]string{"direction"},
	)

	c.retryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total failed generation attempts, by error code",
		},
		[]string{"error_code"},
	)

	c.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Response cache hits",
		},
		[]string{"stage"},
	)

	c.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Response cache misses",
		},
		[]string{"stage"},
	)

	c.compactionRatio = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_ratio",
			Help:      "Compacted/original token ratio per compaction",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1.0},
		},
	)

	if reg != nil {
		reg.MustRegister(
			c.llmRequestsTotal,
			c.llmRequestDuration,
			c.llmTokensUsed,
			c.retryAttemptsTotal,
			c.cacheHits,
			c.cacheMisses,
			c.compactionRatio,
		)
	}

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// ObserveLLMRequest 记录一次生成调用。
func (c *Collector) ObserveLLMRequest(stage, tier, outcome string, d time.Duration) {
	c.llmRequestsTotal.WithLabelValues(stage, tier, outcome).Inc()
	c.llmRequestDuration.WithLabelValues(stage, tier).Observe(d.Seconds())
}

// AddTokens 累计 token 消耗。direction 取 prompt/completion。
func (c *Collector) AddTokens(direction string, n int) {
	if n > 0 {
		c.llmTokensUsed.WithLabelValues(direction).Add(float64(n))
	}
}

// IncRetryAttempt 记录一次失败的生成尝试。
func (c *Collector) IncRetryAttempt(errorCode string) {
	c.retryAttemptsTotal.WithLabelValues(errorCode).Inc()
}

// IncCacheHit 记录缓存命中。
func (c *Collector) IncCacheHit(stage string) {
	c.cacheHits.WithLabelValues(stage).Inc()
}

// IncCacheMiss 记录缓存未命中。
func (c *Collector) IncCacheMiss(stage string) {
	c.cacheMisses.WithLabelValues(stage).Inc()
}

// ObserveCompactionRatio 记录一次压缩比。
func (c *Collector) ObserveCompactionRatio(ratio float64) {
	c.compactionRatio.Observe(ratio)
}
