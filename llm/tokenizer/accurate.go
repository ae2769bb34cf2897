package tokenizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/Axthefish/cogcoach/types"
)

// countCacheSize bounds the accurate-count memo. Counting is pure, so the
// cache needs no TTL, only a size cap.
const countCacheSize = 2048

// AccurateCounter counts tokens with a real tokenizer (tiktoken), memoizing
// results by content hash. It is strictly slower than Estimator and is meant
// for reporting/analytics, not hot paths.
type AccurateCounter struct {
	encoding string
	fallback *Estimator
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error

	mu    sync.Mutex
	memo  map[string]int
	order []string // FIFO 淘汰即可，计数是纯函数，不需要 LRU 精度
}

// NewAccurateCounter creates a tiktoken-backed counter with the given
// fallback estimator. encoding defaults to cl100k_base.
func NewAccurateCounter(encoding string, fallback *Estimator, logger *zap.Logger) *AccurateCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if fallback == nil {
		fallback = NewEstimator(DefaultRatios())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccurateCounter{
		encoding: encoding,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "tokenizer")),
		memo:     make(map[string]int),
	}
}

// init lazily initializes the tiktoken encoding (may download data on first
// use, hence not done in the constructor).
func (c *AccurateCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = err
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// CountTokens returns the exact token count, or an error if the tokenizer
// could not be initialized.
func (c *AccurateCounter) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	key := contentHash(text)
	c.mu.Lock()
	if n, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	if err := c.init(); err != nil {
		return 0, types.NewError(types.ErrUnknown, "tokenizer init failed").WithCause(err)
	}

	n := len(c.enc.Encode(text, nil, nil))
	c.remember(key, n)
	return n, nil
}

// EstimateAccurate returns a precise count when possible and silently falls
// back to the heuristic otherwise. It never fails.
func (c *AccurateCounter) EstimateAccurate(ctx context.Context, text string) int {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return c.fallback.Estimate(text)
		default:
		}
	}

	n, err := c.CountTokens(text)
	if err != nil {
		c.logger.Debug("accurate count unavailable, using estimator", zap.Error(err))
		return c.fallback.Estimate(text)
	}
	return n
}

func (c *AccurateCounter) remember(key string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.memo[key]; ok {
		return
	}
	if len(c.order) >= countCacheSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.memo, oldest)
	}
	c.memo[key] = n
	c.order = append(c.order, key)
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:12])
}
