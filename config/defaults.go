package config

import (
	"time"

	"github.com/Axthefish/cogcoach/llm/cache"
)

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			LiteModel:       "gemini-2.5-flash-lite",
			ProModel:        "gemini-2.5-pro",
			ReviewModel:     "gemini-2.5-pro",
			MaxOutputTokens: 8192,
		},
		Compactor: CompactorConfig{
			MaxTokens:         3000,
			RecentTurnsToKeep: 3,
			SummaryMaxTokens:  500,
			SmartBreakpoints:  []int{1000, 3000, 5000},
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialDelay:   time.Second,
			MaxDelay:       10 * time.Second,
			Multiplier:     2.0,
			RateLimitDelay: 60 * time.Second,
		},
		Cache: CacheConfig{
			CapacityPerStage: 200,
			HeapLimitMB:      100,
			KeyBucket:        5 * time.Minute,
			TTLs:             cache.DefaultStageTTLs(),
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Tokenizer: TokenizerConfig{
			CJKCharsPerToken:   1.5,
			ASCIICharsPerToken: 4.0,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cogcoach",
			SampleRate:  1.0,
		},
	}
}
