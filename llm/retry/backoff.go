package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy 重试策略配置。
type Policy struct {
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay   time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction" json:"jitter_fraction"`
	// RateLimitDelay RATE_LIMIT 的固定等待时间（不做指数退避）。
	RateLimitDelay time.Duration `yaml:"rate_limit_delay" json:"rate_limit_delay"`
}

// DefaultPolicy 返回适用于大部分 LLM 调用场景的默认策略。
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   1 * time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		RateLimitDelay: 60 * time.Second,
	}
}

// normalize 修正非法参数。
func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = def.Multiplier
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		p.JitterFraction = def.JitterFraction
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = def.RateLimitDelay
	}
	return p
}

// CalculateDelay 计算第 attempt 次重试前的等待时间：
// 指数退避 min(initial * multiplier^(attempt-1), max)，再加最多
// JitterFraction（默认 10%）的随机抖动，防止雪崩式同时重试。
// 返回值始终落在 [delay, delay*(1+jitter)] 区间内。
func CalculateDelay(attempt int, p Policy) time.Duration {
	p = p.normalize()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	delay += delay * p.JitterFraction * rand.Float64()
	return time.Duration(delay)
}

// temperatureFor 按尝试次数递减温度：max(0.3, 0.8 - (attempt-1)*0.2)。
// 失败越多越收敛，降低输出的随机性。
func temperatureFor(attempt int) float64 {
	t := 0.8 - float64(attempt-1)*0.2
	if t < 0.3 {
		t = 0.3
	}
	return t
}
