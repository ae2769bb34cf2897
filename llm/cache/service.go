package cache

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// perItemSizeBudget 每个条目的预算字节数，用于推导字节上限。
	perItemSizeBudget = 5 * 1024
	// maxTotalBytes 单个缓存实例的字节上限。
	maxTotalBytes = 50 * 1024 * 1024
	// defaultSizeEstimate 序列化失败时的兜底大小，绝不因测量失败而报错。
	defaultSizeEstimate = 512
)

// Health levels reported by HealthStatus.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Items   int     `json:"items"`
	Bytes   int     `json:"bytes"`
	HitRate float64 `json:"hit_rate"`
}

// HealthStatus is the operational classification of one cache instance.
// Used for visibility, not correctness.
type HealthStatus struct {
	Level       string  `json:"level"`
	Utilization float64 `json:"utilization"`
	HitRate     float64 `json:"hit_rate"`
	MemPressure bool    `json:"mem_pressure"`
}

// Service 是单个阶段的有界 LRU 缓存：条目数、字节数、TTL 三重上限。
type Service struct {
	mu       sync.Mutex
	capacity int
	maxBytes int
	ttl      time.Duration

	items map[string]*lruNode
	head  *lruNode // 最近使用
	tail  *lruNode // 最久未使用
	bytes int

	hits    uint64
	misses  uint64
	sets    uint64
	deletes uint64

	monitor *MemoryMonitor
	logger  *zap.Logger

	// now 可注入，测试时替换为假时钟。
	now func() time.Time
}

type lruNode struct {
	key        string
	value      any
	size       int
	insertedAt time.Time
	expiresAt  time.Time
	prev       *lruNode
	next       *lruNode
}

// NewService creates a cache with the given item capacity and TTL.
// The byte cap is derived: min(capacity*5KB, 50MB).
func NewService(capacity int, ttl time.Duration, logger *zap.Logger) *Service {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBytes := capacity * perItemSizeBudget
	if maxBytes > maxTotalBytes {
		maxBytes = maxTotalBytes
	}
	return &Service{
		capacity: capacity,
		maxBytes: maxBytes,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
		logger:   logger.With(zap.String("component", "cache")),
		now:      time.Now,
	}
}

// WithMonitor attaches a memory monitor used by HealthStatus.
func (s *Service) WithMonitor(m *MemoryMonitor) *Service {
	s.monitor = m
	return s
}

// WithClock injects a clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns the cached value, or nil/false on miss or expiry.
func (s *Service) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}
	if s.now().After(node.expiresAt) {
		s.removeLocked(node)
		s.misses++
		return nil, false
	}

	s.moveToHead(node)
	s.hits++
	return node.value, true
}

// Has reports whether a live entry exists without touching recency.
func (s *Service) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.items[key]
	return ok && !s.now().After(node.expiresAt)
}

// Set stores a value under the service TTL.
func (s *Service) Set(key string, value any) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (s *Service) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	size := estimateSize(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if node, ok := s.items[key]; ok {
		s.bytes += size - node.size
		node.value = value
		node.size = size
		node.insertedAt = s.now()
		node.expiresAt = s.now().Add(ttl)
		s.moveToHead(node)
	} else {
		node := &lruNode{
			key:        key,
			value:      value,
			size:       size,
			insertedAt: s.now(),
			expiresAt:  s.now().Add(ttl),
		}
		s.items[key] = node
		s.addToHead(node)
		s.bytes += size
	}
	s.sets++

	for (len(s.items) > s.capacity || s.bytes > s.maxBytes) && s.tail != nil {
		s.removeLocked(s.tail)
	}
}

// Delete removes an entry.
func (s *Service) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.items[key]; ok {
		s.removeLocked(node)
		s.deletes++
	}
}

// Clear drops every entry.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*lruNode)
	s.head, s.tail = nil, nil
	s.bytes = 0
}

// EvictExpired drops all expired entries and returns how many were removed.
func (s *Service) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, node := range s.items {
		if s.now().After(node.expiresAt) {
			s.removeLocked(node)
			removed++
		}
	}
	return removed
}

// EvictOldestHalf 紧急清理：从尾部淘汰一半条目。内存压力下由维护任务触发。
func (s *Service) EvictOldestHalf() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := len(s.items) / 2
	removed := 0
	for removed < target && s.tail != nil {
		s.removeLocked(s.tail)
		removed++
	}
	if removed > 0 {
		s.logger.Warn("emergency cache cleanup", zap.Int("evicted", removed))
	}
	return removed
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:    s.hits,
		Misses:  s.misses,
		Sets:    s.sets,
		Deletes: s.deletes,
		Items:   len(s.items),
		Bytes:   s.bytes,
		HitRate: hitRate(s.hits, s.misses),
	}
}

// HitRate returns hits/(hits+misses), 0 when empty.
func (s *Service) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hitRate(s.hits, s.misses)
}

// HealthStatus classifies the cache from memory pressure, utilization
// (>90% critical, >70% warning), and hit rate (<30% warning).
func (s *Service) HealthStatus() HealthStatus {
	s.mu.Lock()
	utilization := float64(len(s.items)) / float64(s.capacity)
	rate := hitRate(s.hits, s.misses)
	lookups := s.hits + s.misses
	s.mu.Unlock()

	pressure := false
	if s.monitor != nil {
		pressure = s.monitor.UnderPressure()
	}

	level := HealthHealthy
	switch {
	case pressure || utilization > 0.9:
		level = HealthCritical
	case utilization > 0.7:
		level = HealthWarning
	case lookups > 0 && rate < 0.3:
		level = HealthWarning
	}

	return HealthStatus{
		Level:       level,
		Utilization: utilization,
		HitRate:     rate,
		MemPressure: pressure,
	}
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// estimateSize measures a value by JSON-serialized length, falling back to a
// fixed estimate if the value cannot be marshaled. Sizing never fails.
func estimateSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return defaultSizeEstimate
	}
	return len(data)
}

// ====== 双向链表 O(1) 操作 ======

func (s *Service) addToHead(node *lruNode) {
	node.prev = nil
	node.next = s.head
	if s.head != nil {
		s.head.prev = node
	}
	s.head = node
	if s.tail == nil {
		s.tail = node
	}
}

func (s *Service) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		s.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		s.tail = node.prev
	}
}

func (s *Service) moveToHead(node *lruNode) {
	if node == s.head {
		return
	}
	s.unlink(node)
	s.addToHead(node)
}

func (s *Service) removeLocked(node *lruNode) {
	s.unlink(node)
	delete(s.items, node.key)
	s.bytes -= node.size
}
