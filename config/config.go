package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Axthefish/cogcoach/llm/cache"
	llmcontext "github.com/Axthefish/cogcoach/llm/context"
	"github.com/Axthefish/cogcoach/llm/retry"
	"github.com/Axthefish/cogcoach/llm/tokenizer"
)

// Config 是完整配置结构。
type Config struct {
	// LLM 生成端配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Compactor 对话压缩配置
	Compactor CompactorConfig `yaml:"compactor" env:"COMPACTOR"`

	// Retry 重试策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Cache 响应缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 二级缓存（可选）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Tokenizer token 估算配置
	Tokenizer TokenizerConfig `yaml:"tokenizer" env:"TOKENIZER"`

	// RateLimit 客户端侧限流
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 各档位模型名
	LiteModel   string `yaml:"lite_model" env:"LITE_MODEL"`
	ProModel    string `yaml:"pro_model" env:"PRO_MODEL"`
	ReviewModel string `yaml:"review_model" env:"REVIEW_MODEL"`
	// 单次输出 Token 上限
	MaxOutputTokens int `yaml:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
}

// CompactorConfig 对话压缩配置
type CompactorConfig struct {
	// 触发压缩的 token 预算
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 原文保留的最近轮次数
	RecentTurnsToKeep int `yaml:"recent_turns_to_keep" env:"RECENT_TURNS_TO_KEEP"`
	// AI 摘要输出上限
	SummaryMaxTokens int `yaml:"summary_max_tokens" env:"SUMMARY_MAX_TOKENS"`
	// 自适应压缩断点（升序）
	SmartBreakpoints []int `yaml:"smart_breakpoints" env:"-"`
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	// 最大尝试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 初始退避
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 退避上限
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 退避倍率
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 限流错误的固定等待
	RateLimitDelay time.Duration `yaml:"rate_limit_delay" env:"RATE_LIMIT_DELAY"`
}

// CacheConfig 响应缓存配置
type CacheConfig struct {
	// 每阶段条目上限
	CapacityPerStage int `yaml:"capacity_per_stage" env:"CAPACITY_PER_STAGE"`
	// 触发紧急清理的堆阈值（MB）
	HeapLimitMB int `yaml:"heap_limit_mb" env:"HEAP_LIMIT_MB"`
	// 缓存键时间桶宽度
	KeyBucket time.Duration `yaml:"key_bucket" env:"KEY_BUCKET"`
	// 各阶段 TTL
	TTLs cache.StageTTLs `yaml:"ttls" env:"-"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用二级缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// TokenizerConfig token 估算配置
type TokenizerConfig struct {
	// CJK 字符每 token 数
	CJKCharsPerToken float64 `yaml:"cjk_chars_per_token" env:"CJK_CHARS_PER_TOKEN"`
	// ASCII 字符每 token 数
	ASCIICharsPerToken float64 `yaml:"ascii_chars_per_token" env:"ASCII_CHARS_PER_TOKEN"`
	// 是否启用 tiktoken 精确计数
	AccurateCounting bool `yaml:"accurate_counting" env:"ACCURATE_COUNTING"`
}

// RateLimitConfig 客户端侧限流配置
type RateLimitConfig struct {
	// 每秒请求数（0 = 不限流）
	RPS float64 `yaml:"rps" env:"RPS"`
	// 突发额度
	Burst int `yaml:"burst" env:"BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ====== 转换到子包配置 ======

// CompactorSettings converts to the compactor package's config.
func (c *Config) CompactorSettings() llmcontext.Config {
	return llmcontext.Config{
		MaxTokens:         c.Compactor.MaxTokens,
		RecentTurnsToKeep: c.Compactor.RecentTurnsToKeep,
		SummaryMaxTokens:  c.Compactor.SummaryMaxTokens,
		SmartBreakpoints:  c.Compactor.SmartBreakpoints,
	}
}

// RetryPolicy converts to the retry package's policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:     c.Retry.MaxRetries,
		InitialDelay:   c.Retry.InitialDelay,
		MaxDelay:       c.Retry.MaxDelay,
		Multiplier:     c.Retry.Multiplier,
		RateLimitDelay: c.Retry.RateLimitDelay,
	}
}

// CacheSettings converts to the cache package's config.
func (c *Config) CacheSettings() cache.Config {
	return cache.Config{
		CapacityPerStage: c.Cache.CapacityPerStage,
		TTLs:             c.Cache.TTLs,
		HeapLimitBytes:   uint64(c.Cache.HeapLimitMB) * 1024 * 1024,
		KeyBucket:        c.Cache.KeyBucket,
	}
}

// TokenizerRatios converts to the tokenizer package's ratios.
func (c *Config) TokenizerRatios() tokenizer.Ratios {
	r := tokenizer.DefaultRatios()
	if c.Tokenizer.CJKCharsPerToken > 0 {
		r.CJKCharsPerToken = c.Tokenizer.CJKCharsPerToken
	}
	if c.Tokenizer.ASCIICharsPerToken > 0 {
		r.ASCIICharsPerToken = c.Tokenizer.ASCIICharsPerToken
	}
	return r
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Retry.MaxRetries <= 0 {
		errs = append(errs, "retry.max_retries must be positive")
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be >= 1")
	}
	if c.Retry.InitialDelay > c.Retry.MaxDelay {
		errs = append(errs, "retry.initial_delay exceeds retry.max_delay")
	}
	if c.Compactor.MaxTokens <= 0 {
		errs = append(errs, "compactor.max_tokens must be positive")
	}
	if c.Compactor.RecentTurnsToKeep <= 0 {
		errs = append(errs, "compactor.recent_turns_to_keep must be positive")
	}
	for i := 1; i < len(c.Compactor.SmartBreakpoints); i++ {
		if c.Compactor.SmartBreakpoints[i] <= c.Compactor.SmartBreakpoints[i-1] {
			errs = append(errs, "compactor.smart_breakpoints must be strictly ascending")
			break
		}
	}
	if c.Cache.CapacityPerStage <= 0 {
		errs = append(errs, "cache.capacity_per_stage must be positive")
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, "rate_limit.rps must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
