package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Axthefish/cogcoach/types"
)

const (
	// promptPrefixLen 参与哈希的提示词前缀长度。
	promptPrefixLen = 200
	// defaultBucket 时间桶宽度：同一窗口内的相同逻辑请求刻意碰撞（去重），
	// 窗口过后自然失效。
	defaultBucket = 5 * time.Minute
)

// KeyGenerator builds deterministic cache keys for generation requests.
// Stage, user, and context fields are never conflated: each contributes a
// delimited segment to the hashed payload.
type KeyGenerator struct {
	bucket time.Duration

	// now 可注入，测试时替换为假时钟。
	now func() time.Time
}

// NewKeyGenerator creates a generator with the given bucket width
// (0 means the 5-minute default).
func NewKeyGenerator(bucket time.Duration) *KeyGenerator {
	if bucket <= 0 {
		bucket = defaultBucket
	}
	return &KeyGenerator{bucket: bucket, now: time.Now}
}

// WithClock injects a clock, for tests.
func (g *KeyGenerator) WithClock(now func() time.Time) *KeyGenerator {
	g.now = now
	return g
}

// GenerateForPrompt returns the cache key for a generation request.
// Identical (stage, prompt prefix, contextFields, userID) within the same
// time bucket always produce the same key.
func (g *KeyGenerator) GenerateForPrompt(stage types.Stage, prompt string, contextFields map[string]string, userID string) string {
	prefix := prompt
	if runes := []rune(prefix); len(runes) > promptPrefixLen {
		prefix = string(runes[:promptPrefixLen])
	}

	// 字段按键名排序，保证确定性。
	keys := make([]string, 0, len(contextFields))
	for k := range contextFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(string(stage))
	sb.WriteByte('\x00')
	sb.WriteString(prefix)
	sb.WriteByte('\x00')
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(contextFields[k])
		sb.WriteByte('\x00')
	}
	sb.WriteString(userID)
	sb.WriteByte('\x00')
	fmt.Fprintf(&sb, "%d", g.now().Unix()/int64(g.bucket.Seconds()))

	hash := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("%s:%s", stage, hex.EncodeToString(hash[:16]))
}
