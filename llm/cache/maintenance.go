package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// maintenanceInterval 维护任务的检查周期。
	maintenanceInterval = 2 * time.Minute
	// cleanupInterval 常规清理的最小间隔。
	cleanupInterval = 5 * time.Minute
)

// Maintainer 后台维护任务：周期性检查内存压力与清理间隔，
// 触发过期淘汰或紧急减半。显式 Stop，绝不阻止进程退出。
type Maintainer struct {
	caches   func() []*Service
	monitor  *MemoryMonitor
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	started     bool
	stop        chan struct{}
	done        chan struct{}
	lastCleanup time.Time
}

// NewMaintainer creates a maintenance task over the caches returned by
// caches(). The accessor form lets the owner add caches after construction.
func NewMaintainer(caches func() []*Service, monitor *MemoryMonitor, logger *zap.Logger) *Maintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintainer{
		caches:   caches,
		monitor:  monitor,
		interval: maintenanceInterval,
		logger:   logger.With(zap.String("component", "cache-maintenance")),
	}
}

// Start launches the background loop. Duplicate starts are no-ops.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.lastCleanup = time.Now()

	go m.loop(m.stop, m.done)
}

// Stop cancels the background loop and waits for it to exit. Idempotent.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Maintainer) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.RunOnce()
		}
	}
}

// RunOnce performs one maintenance pass. Exposed for tests and for callers
// that want an immediate sweep.
func (m *Maintainer) RunOnce() {
	pressure := m.monitor != nil && m.monitor.UnderPressure()

	m.mu.Lock()
	due := time.Since(m.lastCleanup) >= cleanupInterval
	if pressure || due {
		m.lastCleanup = time.Now()
	}
	m.mu.Unlock()

	switch {
	case pressure:
		// 内存压力：对半淘汰，尽快释放。
		total := 0
		for _, c := range m.caches() {
			total += c.EvictOldestHalf()
		}
		m.logger.Warn("memory pressure cleanup",
			zap.Int("evicted", total),
			zap.Uint64("heap_alloc", m.monitor.HeapAlloc()),
		)
	case due:
		total := 0
		for _, c := range m.caches() {
			total += c.EvictExpired()
		}
		if total > 0 {
			m.logger.Debug("expired entries evicted", zap.Int("evicted", total))
		}
	}
}
